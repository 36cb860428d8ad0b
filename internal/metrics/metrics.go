// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package metrics defines the Prometheus collectors of the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "feedtools"

var (
	// CodesIssued counts verification codes handed to the notifier.
	CodesIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "otp",
		Name:      "codes_issued_total",
		Help:      "Verification codes issued, by purpose.",
	}, []string{"purpose"})

	// OTPRejections counts OTP operations refused with a domain error.
	OTPRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "otp",
		Name:      "rejections_total",
		Help:      "OTP operations rejected, by operation and reason.",
	}, []string{"operation", "reason"})

	// Verifications counts successfully consumed codes.
	Verifications = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "otp",
		Name:      "verifications_total",
		Help:      "Codes consumed successfully.",
	})

	// AccountsSwept counts unverified accounts removed by the sweeper.
	AccountsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "maintenance",
		Name:      "accounts_swept_total",
		Help:      "Expired unverified accounts deleted by the sweeper.",
	})

	// Enrichments counts profile enrichment runs by outcome.
	Enrichments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "enrichment",
		Name:      "runs_total",
		Help:      "Profile enrichment runs, by outcome.",
	}, []string{"outcome"})

	// AchievementFailures counts per-title achievement calls that failed or timed out.
	AchievementFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "enrichment",
		Name:      "achievement_failures_total",
		Help:      "Achievement lookups that contributed zero, by reason.",
	}, []string{"reason"})

	// UpstreamRequests counts Steam Web API calls by endpoint and status class.
	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "steam",
		Name:      "requests_total",
		Help:      "Steam Web API requests, by endpoint and result.",
	}, []string{"endpoint", "result"})
)

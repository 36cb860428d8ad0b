// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"codeberg.org/oliverandrich/feedtools/internal/metrics"
)

func TestCodesIssued(t *testing.T) {
	before := testutil.ToFloat64(metrics.CodesIssued.WithLabelValues("register"))

	metrics.CodesIssued.WithLabelValues("register").Inc()

	assert.InDelta(t, before+1, testutil.ToFloat64(metrics.CodesIssued.WithLabelValues("register")), 0.001)
}

func TestCollectorsRegistered(t *testing.T) {
	metrics.Verifications.Inc()
	metrics.AccountsSwept.Add(2)

	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.Verifications), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.AccountsSwept), 2.0)
}

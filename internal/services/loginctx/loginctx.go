// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package loginctx derives the login history entry of a request: client
// software from the user agent, location and timezone from the address.
package loginctx

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"
	_ "time/tzdata" // timezone names must resolve in minimal containers

	"github.com/mssola/useragent"
	"github.com/oschwald/geoip2-golang"

	"codeberg.org/oliverandrich/feedtools/internal/models"
)

// DateLayout renders login dates as day.month.year 24h.
const DateLayout = "02.01.2006 15:04:05"

const unknown = "Unknown"

// CityLookup is the subset of *geoip2.Reader used here.
type CityLookup interface {
	City(ip net.IP) (*geoip2.City, error)
}

// Resolver builds login events.
type Resolver struct {
	geo        CityLookup
	fallbackIP string
}

// NewResolver creates a Resolver. geo may be nil, in which case every
// location resolves to Unknown/UTC. Loopback clients are looked up as
// fallbackIP.
func NewResolver(geo CityLookup, fallbackIP string) *Resolver {
	return &Resolver{geo: geo, fallbackIP: fallbackIP}
}

// OpenGeoIP opens a MaxMind City database. An empty path yields nil.
func OpenGeoIP(path string) (*geoip2.Reader, error) {
	if path == "" {
		return nil, nil
	}
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}
	return reader, nil
}

// Resolve returns the login event for a client seen at time at.
func (r *Resolver) Resolve(userAgent, address string, at time.Time) models.LoginEvent {
	ip := r.clientIP(address)
	browser, osName, device := describeAgent(userAgent)
	location, tz := r.locate(ip)

	return models.LoginEvent{
		IP:       ip,
		Browser:  browser,
		OS:       osName,
		Device:   device,
		Location: location,
		Timezone: tz,
		Date:     formatDate(at, tz),
	}
}

func (r *Resolver) clientIP(address string) string {
	host := strings.TrimSpace(address)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() && r.fallbackIP != "" {
		return r.fallbackIP
	}
	return host
}

func (r *Resolver) locate(address string) (location, tz string) {
	ip := net.ParseIP(address)
	if r.geo == nil || ip == nil {
		return unknown, "UTC"
	}

	record, err := r.geo.City(ip)
	if err != nil {
		slog.Debug("geoip_lookup_failed", "ip", address, "error", err)
		return unknown, "UTC"
	}

	city := record.City.Names["en"]
	country := record.Country.IsoCode
	switch {
	case city != "" && country != "":
		location = city + ", " + country
	case country != "":
		location = country
	default:
		location = unknown
	}

	tz = record.Location.TimeZone
	if tz == "" {
		tz = "UTC"
	}
	return location, tz
}

func describeAgent(header string) (browser, osName, device string) {
	if strings.TrimSpace(header) == "" {
		return "Other", "Other", "Other"
	}

	ua := useragent.New(header)

	name, version := ua.Browser()
	browser = strings.TrimSpace(name + " " + version)
	if browser == "" {
		browser = "Other"
	}

	osName = ua.OS()
	if osName == "" {
		osName = "Other"
	}

	switch {
	case ua.Bot():
		device = "Bot"
	case ua.Mobile():
		device = "Mobile"
	default:
		device = "Desktop"
	}
	if platform := ua.Platform(); platform != "" {
		device += " (" + platform + ")"
	}
	return browser, osName, device
}

func formatDate(at time.Time, tz string) string {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	return at.In(loc).Format(DateLayout)
}

// Package metrics exposes Prometheus counters for the license engine.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"winsbygroup.com/hwidserver/internal/activation"
)

const namespace = "hwidserver"

type Metrics struct {
	registry *prometheus.Registry

	Redemptions *prometheus.CounterVec
	Checks      *prometheus.CounterVec
	Requests    *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
}

// New registers all collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redemptions_total",
			Help:      "Key redemption attempts by outcome.",
		}, []string{"outcome"}),
		Checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "License checks by result.",
		}, []string{"result"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	reg.MustRegister(
		m.Redemptions,
		m.Checks,
		m.Requests,
		m.Duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRejection counts a redemption rejected with reason.
func (m *Metrics) ObserveRejection(reason string) {
	m.Redemptions.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveCheck(result string) {
	m.Checks.WithLabelValues(result).Inc()
}

// Redeemed implements activation.Reporter.
func (m *Metrics) Redeemed(_ context.Context, res *activation.Result) {
	if res.Extended {
		m.Redemptions.WithLabelValues("extended").Inc()
		return
	}
	m.Redemptions.WithLabelValues("activated").Inc()
}

// Middleware records request counts and latency per route.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
			m.Duration.WithLabelValues(route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

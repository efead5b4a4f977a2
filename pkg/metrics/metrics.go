// Copyright 2025 The CSA Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes lightweight Prometheus counters and gauges for
// the orchestrator's hot paths: turns executed, rate limits detected,
// failover retries, and slot occupancy. Serving is opt-in via
// --metrics-addr; with no address configured nothing listens.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can create instances freely
// without tripping duplicate-registration panics on the global one.
type Metrics struct {
	registry *prometheus.Registry

	TurnsTotal      *prometheus.CounterVec
	RateLimitsTotal *prometheus.CounterVec
	FailoversTotal  *prometheus.CounterVec
	SlotsHeld       *prometheus.GaugeVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "csa_turns_total",
			Help: "Tool turns executed, by tool and exit status.",
		}, []string{"tool", "status"}),
		RateLimitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "csa_rate_limits_total",
			Help: "Rate-limit signals detected in tool output, by tool.",
		}, []string{"tool"}),
		FailoversTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "csa_failovers_total",
			Help: "Failover retries, by failed tool and chosen alternate.",
		}, []string{"from", "to"}),
		SlotsHeld: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "csa_slots_held",
			Help: "Slot leases currently held by this process, by tool.",
		}, []string{"tool"}),
	}
	reg.MustRegister(m.TurnsTotal, m.RateLimitsTotal, m.FailoversTotal, m.SlotsHeld)
	return m
}

// Handler returns the scrape endpoint for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve blocks serving /metrics on addr. Callers run it in a goroutine.
func (m *Metrics) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}

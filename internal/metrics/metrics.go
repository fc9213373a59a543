// Package metrics exposes Prometheus collectors for the acquisition pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crawlkit/mediaharvest/internal/pipeline"
)

var (
	itemsDiscoveredTotal prometheus.Counter
	outcomesTotal        *prometheus.CounterVec
	collectionsTotal     *prometheus.CounterVec
	renderSessionsGauge  prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		itemsDiscoveredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvest_items_discovered_total",
				Help: "Total number of novel items produced by discovery.",
			},
		)

		outcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_fetch_outcomes_total",
				Help: "Total fetch outcomes, labeled by status and whether the render fallback was used.",
			},
			[]string{"status", "rendered"},
		)

		collectionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_collections_total",
				Help: "Total collections finished, labeled by terminal state.",
			},
			[]string{"state"},
		)

		renderSessionsGauge = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvest_render_sessions_active",
				Help: "Render sessions currently held by fallback fetches.",
			},
		)
	})
}

// Handler returns an http.Handler exposing the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Observer bridges pipeline progress events into the collectors.
type Observer struct{}

// NewObserver initializes collectors and returns the bridge.
func NewObserver() Observer {
	Init()
	return Observer{}
}

// ItemDiscovered counts one novel item.
func (Observer) ItemDiscovered() {
	itemsDiscoveredTotal.Inc()
}

// OutcomeRecorded counts one terminal fetch outcome.
func (Observer) OutcomeRecorded(status pipeline.FetchStatus, usedRender bool) {
	outcomesTotal.WithLabelValues(string(status), strconv.FormatBool(usedRender)).Inc()
}

// CollectionFinished counts one finished collection.
func (Observer) CollectionFinished(state pipeline.CollectionState) {
	collectionsTotal.WithLabelValues(string(state)).Inc()
}

// RenderSessionAcquired tracks a fallback session going active.
func RenderSessionAcquired() {
	renderSessionsGauge.Inc()
}

// RenderSessionReleased tracks a fallback session ending.
func RenderSessionReleased() {
	renderSessionsGauge.Dec()
}

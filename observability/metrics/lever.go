package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type LeverMetrics struct {
	positionsOpened   *prometheus.CounterVec
	positionsClosed   prometheus.Counter
	requestsRejected  *prometheus.CounterVec
	flashSwapFailures *prometheus.CounterVec
	openPositions     prometheus.Gauge
}

var (
	leverOnce     sync.Once
	leverRegistry *LeverMetrics
)

func Lever() *LeverMetrics {
	leverOnce.Do(func() {
		leverRegistry = &LeverMetrics{
			positionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lever_positions_opened_total",
				Help: "Count of successfully opened positions by direction.",
			}, []string{"direction"}),
			positionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "lever_positions_closed_total",
				Help: "Count of successfully closed positions.",
			}),
			requestsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lever_requests_rejected_total",
				Help: "Count of rejected lifecycle requests by reason.",
			}, []string{"reason"}),
			flashSwapFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lever_flash_swap_failures_total",
				Help: "Count of flash swaps that failed and rolled back, by operation.",
			}, []string{"operation"}),
			openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "lever_open_positions",
				Help: "Number of currently open positions.",
			}),
		}
		prometheus.MustRegister(
			leverRegistry.positionsOpened,
			leverRegistry.positionsClosed,
			leverRegistry.requestsRejected,
			leverRegistry.flashSwapFailures,
			leverRegistry.openPositions,
		)
	})
	return leverRegistry
}

func (m *LeverMetrics) ObservePositionOpened(direction string) {
	if m == nil {
		return
	}
	if direction == "" {
		direction = "unknown"
	}
	m.positionsOpened.WithLabelValues(direction).Inc()
	m.openPositions.Inc()
}

func (m *LeverMetrics) ObservePositionClosed() {
	if m == nil {
		return
	}
	m.positionsClosed.Inc()
	m.openPositions.Dec()
}

func (m *LeverMetrics) ObserveRequestRejected(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.requestsRejected.WithLabelValues(reason).Inc()
}

func (m *LeverMetrics) ObserveFlashSwapFailure(operation string) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	m.flashSwapFailures.WithLabelValues(operation).Inc()
}

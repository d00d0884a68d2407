// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counters
	MessagesArchived = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_messages_archived_total", Help: "Number of inbound chat messages archived"})
	ArchiveFailures  = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_archive_failures_total", Help: "Number of archival inserts that failed"})
	SavesCompleted   = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_saves_completed_total", Help: "Number of saved messages persisted"})
	VotesCast        = promauto.NewCounter(prometheus.CounterOpts{Name: "meme_votes_cast_total", Help: "Number of successful vote mutations"})
	BroadcastsSent   = promauto.NewCounter(prometheus.CounterOpts{Name: "ws_broadcasts_total", Help: "Number of broadcast events fanned out"})
	BroadcastDrops   = promauto.NewCounter(prometheus.CounterOpts{Name: "ws_broadcast_drops_total", Help: "Number of sockets pruned after a failed send"})

	// Gauges
	DashboardClients = promauto.NewGauge(prometheus.GaugeOpts{Name: "ws_dashboard_clients", Help: "Currently connected dashboard sockets"})

	// Histograms (seconds)
	VoteDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "meme_vote_duration_seconds", Help: "Vote transaction duration seconds", Buckets: prometheus.DefBuckets})
)

// TimeFunc measures the duration of fn and records it in obs if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LogAttrs returns slog attributes including the correlation id when present.
func LogAttrs(ctx context.Context, attrs ...slog.Attr) []slog.Attr {
	if corr := GetCorrelation(ctx); corr != "" {
		attrs = append(attrs, slog.String("correlation_id", corr))
	}
	return attrs
}

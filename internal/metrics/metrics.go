package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	followerFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promo_follower_fetch_total",
			Help: "Total follower-count extraction attempts by outcome",
		},
		[]string{"platform", "outcome"},
	)

	followerFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "promo_follower_fetch_duration_seconds",
			Help:    "Follower-count fetch duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"platform"},
	)

	authTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promo_telegram_auth_total",
			Help: "Total Telegram auth attempts by variant and outcome",
		},
		[]string{"variant", "outcome"},
	)

	matchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promo_match_total",
			Help: "Total order matching attempts by outcome",
		},
		[]string{"outcome"},
	)
)

// RecordFollowerFetch records one extraction attempt. A zero duration
// means no network call was made.
func RecordFollowerFetch(platform, outcome string, duration time.Duration) {
	followerFetchTotal.WithLabelValues(platform, outcome).Inc()
	if duration > 0 {
		followerFetchDuration.WithLabelValues(platform).Observe(duration.Seconds())
	}
}

func RecordAuth(variant, outcome string) {
	authTotal.WithLabelValues(variant, outcome).Inc()
}

func RecordMatch(outcome string) {
	matchTotal.WithLabelValues(outcome).Inc()
}

// Handler returns the Prometheus metrics handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

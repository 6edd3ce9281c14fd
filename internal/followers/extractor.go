package followers

import (
	"context"
	"strings"
	"time"

	"github.com/flowgrow/promo-service/internal/domain"
	"github.com/flowgrow/promo-service/internal/metrics"
	"github.com/flowgrow/promo-service/internal/pkg/logger"
)

type Config struct {
	// Timeout bounds each outbound fetch.
	Timeout time.Duration
	// MaxConcurrent caps in-flight fetches across all callers to avoid
	// tripping upstream rate limiting.
	MaxConcurrent int
}

// Extractor reports a best-effort follower count for a public social
// handle. All failure modes degrade to 0 plus a diagnostic log: the value
// feeds a display/heuristic, never a security decision, and failing the
// caller on an unreliable scrape would be worse than showing 0.
type Extractor struct {
	fetcher Fetcher
	sem     chan struct{}
}

func New(cfg Config) *Extractor {
	return NewWithFetcher(NewHTTPFetcher(cfg.Timeout), cfg.MaxConcurrent)
}

func NewWithFetcher(f Fetcher, maxConcurrent int) *Extractor {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Extractor{
		fetcher: f,
		sem:     make(chan struct{}, maxConcurrent),
	}
}

// Count never fails. Unsupported platforms return 0 with no network call;
// transport errors and unmatched bodies return 0. One attempt, no
// retries: retrying would worsen rate-limiting risk for a value that is
// only advisory.
func (e *Extractor) Count(ctx context.Context, platform domain.Platform, handle string) int64 {
	handle = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
	log := logger.WithCtx(ctx).With().
		Str("platform", string(platform)).
		Str("handle", handle).
		Logger()

	src, ok := sources[platform]
	if !ok || handle == "" {
		metrics.RecordFollowerFetch(string(platform), "unsupported", 0)
		return 0
	}

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		metrics.RecordFollowerFetch(string(platform), "canceled", 0)
		return 0
	}

	start := time.Now()
	body, err := e.fetcher.Fetch(ctx, src.url(handle), src.headers)
	if err != nil {
		log.Warn().Err(err).Msg("follower fetch failed")
		metrics.RecordFollowerFetch(string(platform), "fetch_error", time.Since(start))
		return 0
	}

	text := string(body)
	for i, p := range src.patterns {
		if n, ok := p.tryExtract(text); ok {
			log.Debug().Int("pattern", i).Int64("followers", n).Msg("follower count extracted")
			metrics.RecordFollowerFetch(string(platform), "ok", time.Since(start))
			return n
		}
	}

	log.Warn().Msg("no follower pattern matched")
	metrics.RecordFollowerFetch(string(platform), "no_match", time.Since(start))
	return 0
}

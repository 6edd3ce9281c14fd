package followers_test

import (
	"context"
	"errors"
	"testing"

	"github.com/flowgrow/promo-service/internal/domain"
	"github.com/flowgrow/promo-service/internal/followers"
	"github.com/stretchr/testify/assert"
)

type fakeFetcher struct {
	body  string
	err   error
	calls int
	urls  []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	f.calls++
	f.urls = append(f.urls, url)
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.body), nil
}

func TestExtractor_Count(t *testing.T) {
	ctx := context.Background()

	t.Run("unsupported platform skips network", func(t *testing.T) {
		f := &fakeFetcher{}
		e := followers.NewWithFetcher(f, 2)

		assert.Equal(t, int64(0), e.Count(ctx, domain.Platform("YOUTUBE"), "someone"))
		assert.Equal(t, 0, f.calls)
	})

	t.Run("empty handle skips network", func(t *testing.T) {
		f := &fakeFetcher{}
		e := followers.NewWithFetcher(f, 2)

		assert.Equal(t, int64(0), e.Count(ctx, domain.PlatformInstagram, "  @  "))
		assert.Equal(t, 0, f.calls)
	})

	t.Run("fetch error returns zero", func(t *testing.T) {
		f := &fakeFetcher{err: errors.New("connection refused")}
		e := followers.NewWithFetcher(f, 2)

		assert.Equal(t, int64(0), e.Count(ctx, domain.PlatformInstagram, "ann"))
		assert.Equal(t, 1, f.calls)
	})

	t.Run("no pattern match returns zero", func(t *testing.T) {
		f := &fakeFetcher{body: "<html><body>login required</body></html>"}
		e := followers.NewWithFetcher(f, 2)

		assert.Equal(t, int64(0), e.Count(ctx, domain.PlatformInstagram, "ann"))
	})

	t.Run("instagram meta tag", func(t *testing.T) {
		f := &fakeFetcher{body: `<meta property="og:description" content="614M Followers, 48 Following">`}
		e := followers.NewWithFetcher(f, 2)

		assert.Equal(t, int64(614_000_000), e.Count(ctx, domain.PlatformInstagram, "@instagram"))
		assert.Equal(t, []string{"https://www.instagram.com/instagram/"}, f.urls)
	})

	t.Run("tiktok exact count preferred over abbreviated", func(t *testing.T) {
		f := &fakeFetcher{body: `{"followerCount":1234567} ... 1.2M Followers`}
		e := followers.NewWithFetcher(f, 2)

		assert.Equal(t, int64(1_234_567), e.Count(ctx, domain.PlatformTikTok, "ann"))
		assert.Equal(t, []string{"https://www.tiktok.com/@ann"}, f.urls)
	})

	t.Run("facebook zh-TW page text", func(t *testing.T) {
		f := &fakeFetcher{body: `<span>3.2萬 位追蹤者</span>`}
		e := followers.NewWithFetcher(f, 2)

		assert.Equal(t, int64(32_000), e.Count(ctx, domain.PlatformFacebook, "somepage"))
	})

	t.Run("facebook fan count", func(t *testing.T) {
		f := &fakeFetcher{body: `1,234 粉絲`}
		e := followers.NewWithFetcher(f, 2)

		assert.Equal(t, int64(1234), e.Count(ctx, domain.PlatformFacebook, "somepage"))
	})

	t.Run("canceled context returns zero", func(t *testing.T) {
		canceled, cancel := context.WithCancel(context.Background())
		cancel()

		// hold the only slot so the canceled caller hits the ctx branch
		bf := &blockingFetcher{block: make(chan struct{}), release: make(chan struct{})}
		e := followers.NewWithFetcher(bf, 1)

		go e.Count(context.Background(), domain.PlatformInstagram, "holder")
		<-bf.block

		assert.Equal(t, int64(0), e.Count(canceled, domain.PlatformInstagram, "ann"))
		close(bf.release)
	})
}

type blockingFetcher struct {
	block   chan struct{}
	release chan struct{}
}

func (b *blockingFetcher) Fetch(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	b.block <- struct{}{}
	<-b.release
	return nil, errors.New("blocked")
}

//go:build integration
// +build integration

package postgres_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/flowgrow/promo-service/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Many clients race to match the same order; the orders row lock must
// let exactly one through.
func TestConcurrentMatch_OneTaskOnly(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()

	repo, pool := setupRepo(t)

	for i := 0; i < 5; i++ {
		seedPromoter(t, repo, uuid.NewString(), domain.PlatformInstagram, int64(100*(i+1)))
	}
	creator, err := repo.UpsertByTelegramID(ctx, "trace", "creator-tg", "creator", domain.RoleCreator)
	require.NoError(t, err)

	order, err := repo.CreateOrder(ctx, creator.ID, domain.PlatformInstagram, 5000, "")
	require.NoError(t, err)

	n := 20
	var wg sync.WaitGroup
	wg.Add(n)

	type res struct {
		task domain.Task
		err  error
	}
	ch := make(chan res, n)

	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			task, err := repo.MatchOrder(ctx, "trace-concurrent", order.ID)
			ch <- res{task: task, err: err}
		}()
	}

	wg.Wait()
	close(ch)

	var (
		matched     int
		notEligible int
		otherErrors []error
	)
	for r := range ch {
		switch {
		case r.err == nil:
			matched++
		case errors.Is(r.err, domain.ErrOrderNotEligible):
			notEligible++
		default:
			otherErrors = append(otherErrors, r.err)
		}
	}

	require.Empty(t, otherErrors)
	require.Equal(t, 1, matched, "exactly one racer wins")
	require.Equal(t, n-1, notEligible)

	var taskCount int
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM tasks WHERE order_id = $1", order.ID).Scan(&taskCount))
	require.Equal(t, 1, taskCount)

	var status string
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT status FROM orders WHERE id = $1", order.ID).Scan(&status))
	require.Equal(t, "MATCHED", status)

	var events int
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM outbox WHERE routing_key = 'order.matched'").Scan(&events))
	require.Equal(t, 1, events)
}

// Two orders matched concurrently on the same platform each get exactly
// one task. Note SKIP LOCKED only excludes an account while a competing
// transaction holds its row lock; once that transaction commits the
// account is rankable again, so both orders landing on the same account
// is a legitimate interleaving and is not asserted against.
func TestConcurrentMatch_DistinctOrders_OneTaskEach(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()

	repo, pool := setupRepo(t)

	seedPromoter(t, repo, "tg-a", domain.PlatformTikTok, 1000)
	seedPromoter(t, repo, "tg-b", domain.PlatformTikTok, 2000)

	creator, err := repo.UpsertByTelegramID(ctx, "trace", "creator-tg2", "creator", domain.RoleCreator)
	require.NoError(t, err)

	o1, err := repo.CreateOrder(ctx, creator.ID, domain.PlatformTikTok, 100, "")
	require.NoError(t, err)
	o2, err := repo.CreateOrder(ctx, creator.ID, domain.PlatformTikTok, 100, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	results := make([]domain.Task, 2)
	errs := make([]error, 2)

	for i, id := range []uuid.UUID{o1.ID, o2.ID} {
		go func(i int, orderID uuid.UUID) {
			defer wg.Done()
			results[i], errs[i] = repo.MatchOrder(ctx, "trace", orderID)
		}(i, id)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, o1.ID, results[0].OrderID)
	require.Equal(t, o2.ID, results[1].OrderID)

	for _, orderID := range []uuid.UUID{o1.ID, o2.ID} {
		var taskCount int
		require.NoError(t, pool.QueryRow(ctx,
			"SELECT COUNT(*) FROM tasks WHERE order_id = $1", orderID).Scan(&taskCount))
		require.Equal(t, 1, taskCount)

		var status string
		require.NoError(t, pool.QueryRow(ctx,
			"SELECT status FROM orders WHERE id = $1", orderID).Scan(&status))
		require.Equal(t, "MATCHED", status)
	}
}

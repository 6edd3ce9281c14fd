package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/flowgrow/promo-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// -------------------------
// Locking policy:
// MatchOrder always locks in this order for a given order id:
//   1) orders row (FOR UPDATE): the serialization point for the
//      PENDING -> MATCHED transition
//   2) candidate social_accounts row (FOR UPDATE SKIP LOCKED), so two
//      concurrent matches never pick the same account mid-assignment
// Task insert + order transition + outbox all commit together.
// -------------------------

func (r *Repository) UpsertByTelegramID(ctx context.Context, traceID, telegramID, username string, role domain.Role) (domain.User, error) {
	traceID = strings.TrimSpace(traceID)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.User{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var u domain.User
	var inserted bool
	// Role applies only on insert; a login must never undo a role
	// granted through AssignRole.
	// xmax = 0 distinguishes a fresh insert from a conflict update
	err = tx.QueryRow(ctx, `
		INSERT INTO users (id, telegram_id, username, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (telegram_id) DO UPDATE
		SET username = EXCLUDED.username,
		    updated_at = NOW()
		RETURNING id, telegram_id, username, role, created_at, updated_at, (xmax = 0)
	`, uuid.New(), telegramID, username, string(role)).
		Scan(&u.ID, &u.TelegramID, &u.Username, &u.Role, &u.CreatedAt, &u.UpdatedAt, &inserted)
	if err != nil {
		return domain.User{}, err
	}

	if inserted {
		payload, _ := json.Marshal(map[string]any{
			"user_id":     u.ID,
			"telegram_id": u.TelegramID,
			"role":        u.Role,
		})
		_, _ = tx.Exec(ctx,
			`INSERT INTO outbox (id, message_id, trace_id, routing_key, payload, occurred_at, status) VALUES ($1, $2, $3, $4, $5, NOW(), 'pending')`,
			uuid.New(), uuid.New(), traceID, "user.registered", payload,
		)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// AssignRole upserts a user with an explicit role. Unlike the login
// upsert, the role IS overwritten on conflict; this is the only write
// path that can promote an existing account to CREATOR.
func (r *Repository) AssignRole(ctx context.Context, traceID, telegramID, username string, role domain.Role) (domain.User, error) {
	traceID = strings.TrimSpace(traceID)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.User{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var u domain.User
	err = tx.QueryRow(ctx, `
		INSERT INTO users (id, telegram_id, username, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (telegram_id) DO UPDATE
		SET username = EXCLUDED.username,
		    role = EXCLUDED.role,
		    updated_at = NOW()
		RETURNING id, telegram_id, username, role, created_at, updated_at
	`, uuid.New(), telegramID, username, string(role)).
		Scan(&u.ID, &u.TelegramID, &u.Username, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return domain.User{}, err
	}

	payload, _ := json.Marshal(map[string]any{
		"user_id":     u.ID,
		"telegram_id": u.TelegramID,
		"role":        u.Role,
	})
	_, _ = tx.Exec(ctx,
		`INSERT INTO outbox (id, message_id, trace_id, routing_key, payload, occurred_at, status) VALUES ($1, $2, $3, $4, $5, NOW(), 'pending')`,
		uuid.New(), uuid.New(), traceID, "user.role_assigned", payload,
	)

	if err := tx.Commit(ctx); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (domain.User, error) {
	var u domain.User
	err := r.pool.QueryRow(ctx, `
		SELECT id, telegram_id, username, role, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id).Scan(&u.ID, &u.TelegramID, &u.Username, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// ListUsers returns every user with their linked accounts in one
// round trip via a left join, grouped client-side.
func (r *Repository) ListUsers(ctx context.Context) ([]domain.UserWithAccounts, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT u.id, u.telegram_id, u.username, u.role, u.created_at, u.updated_at,
		       sa.id, sa.user_id, sa.platform, sa.handle, sa.followers, sa.is_active, sa.created_at, sa.updated_at
		FROM users u
		LEFT JOIN social_accounts sa ON sa.user_id = u.id
		ORDER BY u.created_at ASC, sa.created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.UserWithAccounts
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var u domain.User
		var (
			accID, accUserID       *uuid.UUID
			accPlatform, accHandle *string
			accFollowers           *int64
			accActive              *bool
			accCreated, accUpdated *time.Time
		)
		if err := rows.Scan(
			&u.ID, &u.TelegramID, &u.Username, &u.Role, &u.CreatedAt, &u.UpdatedAt,
			&accID, &accUserID, &accPlatform, &accHandle, &accFollowers, &accActive, &accCreated, &accUpdated,
		); err != nil {
			return nil, err
		}

		i, seen := index[u.ID]
		if !seen {
			out = append(out, domain.UserWithAccounts{User: u, Accounts: []domain.SocialAccount{}})
			i = len(out) - 1
			index[u.ID] = i
		}
		if accID != nil {
			out[i].Accounts = append(out[i].Accounts, domain.SocialAccount{
				ID:        *accID,
				UserID:    *accUserID,
				Platform:  domain.Platform(*accPlatform),
				Handle:    *accHandle,
				Followers: *accFollowers,
				IsActive:  *accActive,
				CreatedAt: *accCreated,
				UpdatedAt: *accUpdated,
			})
		}
	}
	return out, rows.Err()
}

func (r *Repository) ListAccounts(ctx context.Context, userID uuid.UUID) ([]domain.SocialAccount, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, platform, handle, followers, is_active, created_at, updated_at
		FROM social_accounts
		WHERE user_id = $1
		ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SocialAccount
	for rows.Next() {
		var a domain.SocialAccount
		if err := rows.Scan(&a.ID, &a.UserID, &a.Platform, &a.Handle, &a.Followers, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertAccount links or refreshes a social account. The composite
// uniqueness (user_id, platform) is a real constraint, so concurrent
// linking of the same platform serializes on the conflict instead of
// racing a find-then-write.
func (r *Repository) UpsertAccount(ctx context.Context, traceID string, userID uuid.UUID, platform domain.Platform, handle string, followers int64) (domain.SocialAccount, error) {
	traceID = strings.TrimSpace(traceID)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.SocialAccount{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var a domain.SocialAccount
	err = tx.QueryRow(ctx, `
		INSERT INTO social_accounts (id, user_id, platform, handle, followers, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, NOW(), NOW())
		ON CONFLICT (user_id, platform) DO UPDATE
		SET handle = EXCLUDED.handle,
		    followers = EXCLUDED.followers,
		    is_active = TRUE,
		    updated_at = NOW()
		RETURNING id, user_id, platform, handle, followers, is_active, created_at, updated_at
	`, uuid.New(), userID, string(platform), handle, followers).
		Scan(&a.ID, &a.UserID, &a.Platform, &a.Handle, &a.Followers, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return domain.SocialAccount{}, err
	}

	payload, _ := json.Marshal(map[string]any{
		"account_id": a.ID,
		"user_id":    a.UserID,
		"platform":   a.Platform,
		"handle":     a.Handle,
		"followers":  a.Followers,
	})
	_, _ = tx.Exec(ctx,
		`INSERT INTO outbox (id, message_id, trace_id, routing_key, payload, occurred_at, status) VALUES ($1, $2, $3, $4, $5, NOW(), 'pending')`,
		uuid.New(), uuid.New(), traceID, "account.linked", payload,
	)

	if err := tx.Commit(ctx); err != nil {
		return domain.SocialAccount{}, err
	}
	return a, nil
}

func (r *Repository) CreateOrder(ctx context.Context, creatorID uuid.UUID, platform domain.Platform, budget int64, requirements string) (domain.Order, error) {
	var o domain.Order
	err := r.pool.QueryRow(ctx, `
		INSERT INTO orders (id, creator_id, platform, budget, requirements, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'PENDING', NOW(), NOW())
		RETURNING id, creator_id, platform, budget, requirements, status, created_at, updated_at
	`, uuid.New(), creatorID, string(platform), budget, requirements).
		Scan(&o.ID, &o.CreatorID, &o.Platform, &o.Budget, &o.Requirements, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func (r *Repository) GetOrder(ctx context.Context, id uuid.UUID) (domain.Order, []domain.Task, error) {
	var o domain.Order
	err := r.pool.QueryRow(ctx, `
		SELECT id, creator_id, platform, budget, requirements, status, created_at, updated_at
		FROM orders
		WHERE id = $1
	`, id).Scan(&o.ID, &o.CreatorID, &o.Platform, &o.Budget, &o.Requirements, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, promoter_id, social_account_id, status, created_at
		FROM tasks
		WHERE order_id = $1
		ORDER BY created_at ASC
	`, id)
	if err != nil {
		return domain.Order{}, nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		var t domain.Task
		if err := rows.Scan(&t.ID, &t.OrderID, &t.PromoterID, &t.SocialAccountID, &t.Status, &t.CreatedAt); err != nil {
			return domain.Order{}, nil, err
		}
		tasks = append(tasks, t)
	}
	return o, tasks, rows.Err()
}

// MatchOrder runs the whole check-select-assign sequence under one
// transaction so an order is matched at most once and never ends up
// MATCHED without its task.
func (r *Repository) MatchOrder(ctx context.Context, traceID string, orderID uuid.UUID) (domain.Task, error) {
	traceID = strings.TrimSpace(traceID)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// 1) Lock the order row. Concurrent matches for the same order queue
	// here; the loser sees MATCHED and bails.
	var platform, status string
	err = tx.QueryRow(ctx, `
		SELECT platform, status
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, orderID).Scan(&platform, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Task{}, domain.ErrOrderNotEligible
	}
	if err != nil {
		return domain.Task{}, err
	}
	if status != string(domain.OrderPending) {
		return domain.Task{}, domain.ErrOrderNotEligible
	}

	// 2) Pick one promoter with an active account on the platform.
	// Ranked by follower count, then account age; SKIP LOCKED keeps two
	// concurrent matches from converging on the same account.
	var accountID, promoterID uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT sa.id, sa.user_id
		FROM social_accounts sa
		JOIN users u ON u.id = sa.user_id
		WHERE u.role = 'PROMOTER'
		  AND sa.platform = $1
		  AND sa.is_active
		ORDER BY sa.followers DESC, sa.created_at ASC
		LIMIT 1
		FOR UPDATE OF sa SKIP LOCKED
	`, platform).Scan(&accountID, &promoterID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Task{}, domain.ErrNoEligiblePromoter
	}
	if err != nil {
		return domain.Task{}, err
	}

	// 3) Assign + transition together.
	task := domain.Task{
		ID:              uuid.New(),
		OrderID:         orderID,
		PromoterID:      promoterID,
		SocialAccountID: accountID,
		Status:          domain.TaskAssigned,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO tasks (id, order_id, promoter_id, social_account_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING created_at
	`, task.ID, task.OrderID, task.PromoterID, task.SocialAccountID, string(task.Status)).
		Scan(&task.CreatedAt)
	if err != nil {
		return domain.Task{}, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE orders
		SET status = 'MATCHED',
		    updated_at = NOW()
		WHERE id = $1
	`, orderID)
	if err != nil {
		return domain.Task{}, err
	}

	// 4) Outbox (order.matched)
	payload, _ := json.Marshal(map[string]any{
		"order_id":          orderID,
		"task_id":           task.ID,
		"promoter_id":       promoterID,
		"social_account_id": accountID,
	})
	_, _ = tx.Exec(ctx,
		`INSERT INTO outbox (id, message_id, trace_id, routing_key, payload, occurred_at, status) VALUES ($1, $2, $3, $4, $5, NOW(), 'pending')`,
		uuid.New(), uuid.New(), traceID, "order.matched", payload,
	)

	if err := tx.Commit(ctx); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Platform string

const (
	PlatformInstagram Platform = "INSTAGRAM"
	PlatformTikTok    Platform = "TIKTOK"
	PlatformFacebook  Platform = "FACEBOOK"
)

// ParsePlatform normalizes a client-supplied platform string.
// Unknown platforms are returned as-is (uppercased) so the follower
// extractor can still report 0 for them; callers that require a known
// platform check Known().
func ParsePlatform(s string) Platform {
	return Platform(strings.ToUpper(strings.TrimSpace(s)))
}

func (p Platform) Known() bool {
	switch p {
	case PlatformInstagram, PlatformTikTok, PlatformFacebook:
		return true
	}
	return false
}

type Role string

const (
	RoleCreator  Role = "CREATOR"
	RolePromoter Role = "PROMOTER"
)

type OrderStatus string

const (
	OrderPending OrderStatus = "PENDING"
	OrderMatched OrderStatus = "MATCHED"
)

type TaskStatus string

const (
	TaskAssigned TaskStatus = "ASSIGNED"
)

var (
	// Signature verification. Auth always fails closed: a missing bot
	// token is a rejection, never a bypass.
	ErrNotConfigured     = errors.New("bot token not configured")
	ErrInvalidSignature  = errors.New("invalid authentication data")
	ErrMalformedIdentity = errors.New("malformed identity payload")

	// Matching
	ErrOrderNotEligible   = errors.New("order not eligible for matching")
	ErrNoEligiblePromoter = errors.New("no matching promoter found")
	ErrMatchFailed        = errors.New("match transaction failed")

	ErrOrderNotFound = errors.New("order not found")

	ErrUserNotFound = errors.New("user not found")
	ErrCacheMiss    = errors.New("cache miss")
)

// Identity is what a successful Telegram signature verification yields.
// TelegramID is the durable key used to upsert the local user record.
type Identity struct {
	TelegramID  string
	DisplayName string
}

type User struct {
	ID         uuid.UUID `json:"id"`
	TelegramID string    `json:"telegram_id"`
	Username   string    `json:"username"`
	Role       Role      `json:"role"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type SocialAccount struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Platform  Platform  `json:"platform"`
	Handle    string    `json:"handle"`
	Followers int64     `json:"followers"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Order struct {
	ID           uuid.UUID   `json:"id"`
	CreatorID    uuid.UUID   `json:"creator_id"`
	Platform     Platform    `json:"platform"`
	Budget       int64       `json:"budget"`
	Requirements string      `json:"requirements"`
	Status       OrderStatus `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Task is the immutable link between an order and the social account
// that fulfills it; created exactly once per successful match.
type Task struct {
	ID              uuid.UUID  `json:"id"`
	OrderID         uuid.UUID  `json:"order_id"`
	PromoterID      uuid.UUID  `json:"promoter_id"`
	SocialAccountID uuid.UUID  `json:"social_account_id"`
	Status          TaskStatus `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
}

// UserWithAccounts is the admin listing shape: a user plus every
// social account linked to them.
type UserWithAccounts struct {
	User
	Accounts []SocialAccount `json:"accounts"`
}

// UserRepository persists identities and social accounts.
type UserRepository interface {
	// UpsertByTelegramID creates or refreshes a user keyed by telegram id.
	// The role applies only on first insert; logins never reassign roles.
	UpsertByTelegramID(ctx context.Context, traceID, telegramID, username string, role Role) (User, error)

	// AssignRole creates or updates a user with an explicit role. This
	// is the administrative path that can promote a user to CREATOR.
	AssignRole(ctx context.Context, traceID, telegramID, username string, role Role) (User, error)

	GetByID(ctx context.Context, id uuid.UUID) (User, error)
	ListUsers(ctx context.Context) ([]UserWithAccounts, error)
	ListAccounts(ctx context.Context, userID uuid.UUID) ([]SocialAccount, error)

	// UpsertAccount enforces at most one account per (user, platform)
	// via a serialized upsert, not find-then-write.
	UpsertAccount(ctx context.Context, traceID string, userID uuid.UUID, platform Platform, handle string, followers int64) (SocialAccount, error)
}

// OrderRepository owns order/task state. MatchOrder runs the whole
// check-select-assign sequence in one transaction.
type OrderRepository interface {
	CreateOrder(ctx context.Context, creatorID uuid.UUID, platform Platform, budget int64, requirements string) (Order, error)

	// GetOrder reports ErrOrderNotFound for unknown ids; MatchOrder
	// folds that case into ErrOrderNotEligible because the caller asked
	// to mutate, not to read.
	GetOrder(ctx context.Context, id uuid.UUID) (Order, []Task, error)
	MatchOrder(ctx context.Context, traceID string, orderID uuid.UUID) (Task, error)
}

// CacheRepository is the redis-backed fast path: follower counts are
// advisory, so every method is allowed to fail without blocking callers.
type CacheRepository interface {
	GetFollowerCount(ctx context.Context, platform Platform, handle string) (int64, error)
	SetFollowerCount(ctx context.Context, platform Platform, handle string, count int64) error

	AllowRequest(ctx context.Context, ip string, limit int, window time.Duration) (bool, error)
}

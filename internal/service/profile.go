package service

import (
	"context"
	"strings"

	"github.com/flowgrow/promo-service/internal/audit"
	"github.com/flowgrow/promo-service/internal/domain"
	"github.com/google/uuid"
)

// FollowerCounter is satisfied by followers.Extractor.
type FollowerCounter interface {
	Count(ctx context.Context, platform domain.Platform, handle string) int64
}

type ProfileService struct {
	users   domain.UserRepository
	counter FollowerCounter
	cache   domain.CacheRepository
	audit   *audit.Logger
}

func NewProfileService(users domain.UserRepository, counter FollowerCounter, cache domain.CacheRepository, auditLog *audit.Logger) *ProfileService {
	return &ProfileService{users: users, counter: counter, cache: cache, audit: auditLog}
}

func (s *ProfileService) Me(ctx context.Context, userID uuid.UUID) (domain.User, []domain.SocialAccount, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return domain.User{}, nil, err
	}
	accounts, err := s.users.ListAccounts(ctx, userID)
	if err != nil {
		return domain.User{}, nil, err
	}
	return user, accounts, nil
}

// ListUsers returns every user with their linked accounts.
func (s *ProfileService) ListUsers(ctx context.Context) ([]domain.UserWithAccounts, error) {
	return s.users.ListUsers(ctx)
}

// RegisterUser creates or updates a user with an explicit role. Unlike
// the login flow, which always enrolls promoters, this path may grant
// CREATOR.
func (s *ProfileService) RegisterUser(ctx context.Context, traceID, telegramID, username string, role domain.Role) (domain.User, error) {
	user, err := s.users.AssignRole(ctx, traceID, strings.TrimSpace(telegramID), strings.TrimSpace(username), role)
	if err != nil {
		return domain.User{}, err
	}

	if s.audit != nil {
		s.audit.RoleAssigned(ctx, user.ID, user.TelegramID, user.Role)
	}
	return user, nil
}

// CheckFollowers returns the best-effort follower count without
// persisting anything. Cached results short-circuit the scrape; cache
// failures are ignored because the value is advisory either way.
func (s *ProfileService) CheckFollowers(ctx context.Context, platform domain.Platform, handle string) int64 {
	handle = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(handle), "@"))

	if s.cache != nil {
		if n, err := s.cache.GetFollowerCount(ctx, platform, handle); err == nil {
			return n
		}
		// miss or redis fault, fall through to a scrape
	}

	n := s.counter.Count(ctx, platform, handle)
	if n > 0 && s.cache != nil {
		_ = s.cache.SetFollowerCount(ctx, platform, handle, n)
	}
	return n
}

// LinkAccount links or refreshes a social account for the user. When the
// client does not supply a follower count, the extractor provides one;
// extraction failure still links the account with a count of 0.
func (s *ProfileService) LinkAccount(ctx context.Context, traceID string, userID uuid.UUID, platform domain.Platform, handle string, followers *int64) (domain.SocialAccount, error) {
	handle = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(handle), "@"))

	var count int64
	if followers != nil && *followers >= 0 {
		count = *followers
	} else {
		count = s.CheckFollowers(ctx, platform, handle)
	}

	account, err := s.users.UpsertAccount(ctx, traceID, userID, platform, handle, count)
	if err != nil {
		return domain.SocialAccount{}, err
	}

	if s.audit != nil {
		s.audit.AccountLinked(ctx, userID, platform, handle, count)
	}
	return account, nil
}

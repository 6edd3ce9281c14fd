package service

import (
	"context"
	"time"

	"github.com/flowgrow/promo-service/internal/audit"
	"github.com/flowgrow/promo-service/internal/domain"
	"github.com/flowgrow/promo-service/internal/metrics"
)

// TelegramVerifier is satisfied by security.TelegramVerifier.
type TelegramVerifier interface {
	VerifyInitData(initData string) (domain.Identity, error)
	VerifyWidget(fields map[string]string) (domain.Identity, error)
}

// TokenSigner is satisfied by security.HS256Signer.
type TokenSigner interface {
	SignAccessToken(userID, role string, ttl time.Duration) (string, error)
}

type AuthService struct {
	verifier TelegramVerifier
	signer   TokenSigner
	users    domain.UserRepository
	tokenTTL time.Duration
	audit    *audit.Logger
}

func NewAuthService(verifier TelegramVerifier, signer TokenSigner, users domain.UserRepository, tokenTTL time.Duration, auditLog *audit.Logger) *AuthService {
	return &AuthService{
		verifier: verifier,
		signer:   signer,
		users:    users,
		tokenTTL: tokenTTL,
		audit:    auditLog,
	}
}

type LoginResult struct {
	Token string
	User  domain.User
}

// LoginWebApp verifies in-app initData and upserts the user. Rejection is
// explicit: a verification failure never falls through to a session.
func (s *AuthService) LoginWebApp(ctx context.Context, traceID, initData string) (LoginResult, error) {
	identity, err := s.verifier.VerifyInitData(initData)
	if err != nil {
		metrics.RecordAuth("webapp", "rejected")
		if s.audit != nil {
			s.audit.LoginRejected(ctx, "webapp", err)
		}
		return LoginResult{}, err
	}
	return s.establishSession(ctx, traceID, "webapp", identity)
}

// LoginWidget verifies an external Login Widget payload.
func (s *AuthService) LoginWidget(ctx context.Context, traceID string, fields map[string]string) (LoginResult, error) {
	identity, err := s.verifier.VerifyWidget(fields)
	if err != nil {
		metrics.RecordAuth("widget", "rejected")
		if s.audit != nil {
			s.audit.LoginRejected(ctx, "widget", err)
		}
		return LoginResult{}, err
	}
	return s.establishSession(ctx, traceID, "widget", identity)
}

func (s *AuthService) establishSession(ctx context.Context, traceID, variant string, identity domain.Identity) (LoginResult, error) {
	// New users enroll as promoters. CREATOR is granted through the
	// users admin endpoint (ProfileService.RegisterUser); a login never
	// changes an existing role.
	user, err := s.users.UpsertByTelegramID(ctx, traceID, identity.TelegramID, identity.DisplayName, domain.RolePromoter)
	if err != nil {
		return LoginResult{}, err
	}

	token, err := s.signer.SignAccessToken(user.ID.String(), string(user.Role), s.tokenTTL)
	if err != nil {
		return LoginResult{}, err
	}

	metrics.RecordAuth(variant, "ok")
	if s.audit != nil {
		s.audit.LoginSucceeded(ctx, variant, user.ID, user.TelegramID)
	}
	return LoginResult{Token: token, User: user}, nil
}

package audit

import (
	"context"

	"github.com/flowgrow/promo-service/internal/domain"
	appCtx "github.com/flowgrow/promo-service/internal/pkg/context"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Logger provides structured audit logging for business events
type Logger struct {
	log zerolog.Logger
}

func New(log zerolog.Logger) *Logger {
	return &Logger{
		log: log.With().Bool("audit", true).Logger(),
	}
}

// LoginSucceeded logs a verified Telegram login
func (l *Logger) LoginSucceeded(ctx context.Context, variant string, userID uuid.UUID, telegramID string) {
	l.log.Info().
		Str("action", "login_succeeded").
		Str("variant", variant).
		Str("user_id", userID.String()).
		Str("telegram_id", telegramID).
		Str("trace_id", getTraceID(ctx)).
		Msg("Telegram login verified")
}

// LoginRejected logs a failed verification. The reason is our own error
// taxonomy, never a hint about which claim field diverged.
func (l *Logger) LoginRejected(ctx context.Context, variant string, err error) {
	l.log.Warn().
		Str("action", "login_rejected").
		Str("variant", variant).
		Err(err).
		Str("trace_id", getTraceID(ctx)).
		Msg("Telegram login rejected")
}

// AccountLinked logs a social account link/update
func (l *Logger) AccountLinked(ctx context.Context, userID uuid.UUID, platform domain.Platform, handle string, followers int64) {
	l.log.Info().
		Str("action", "account_linked").
		Str("user_id", userID.String()).
		Str("platform", string(platform)).
		Str("handle", handle).
		Int64("followers", followers).
		Str("trace_id", getTraceID(ctx)).
		Msg("Social account linked")
}

// RoleAssigned logs an explicit role grant through the user admin surface
func (l *Logger) RoleAssigned(ctx context.Context, userID uuid.UUID, telegramID string, role domain.Role) {
	l.log.Info().
		Str("action", "role_assigned").
		Str("user_id", userID.String()).
		Str("telegram_id", telegramID).
		Str("role", string(role)).
		Str("trace_id", getTraceID(ctx)).
		Msg("User role assigned")
}

// OrderMatched logs a successful assignment
func (l *Logger) OrderMatched(ctx context.Context, orderID, taskID, promoterID uuid.UUID) {
	l.log.Info().
		Str("action", "order_matched").
		Str("order_id", orderID.String()).
		Str("task_id", taskID.String()).
		Str("promoter_id", promoterID.String()).
		Str("trace_id", getTraceID(ctx)).
		Msg("Order matched to promoter")
}

func getTraceID(ctx context.Context) string {
	return appCtx.TraceIDOr(ctx)
}

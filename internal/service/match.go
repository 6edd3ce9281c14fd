package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/flowgrow/promo-service/internal/audit"
	"github.com/flowgrow/promo-service/internal/domain"
	"github.com/flowgrow/promo-service/internal/metrics"
	"github.com/google/uuid"
)

type MatchService struct {
	orders domain.OrderRepository
	audit  *audit.Logger
}

func NewMatchService(orders domain.OrderRepository, auditLog *audit.Logger) *MatchService {
	return &MatchService{orders: orders, audit: auditLog}
}

func (s *MatchService) CreateOrder(ctx context.Context, creatorID uuid.UUID, platform domain.Platform, budget int64, requirements string) (domain.Order, error) {
	return s.orders.CreateOrder(ctx, creatorID, platform, budget, requirements)
}

func (s *MatchService) GetOrder(ctx context.Context, id uuid.UUID) (domain.Order, []domain.Task, error) {
	return s.orders.GetOrder(ctx, id)
}

// Match assigns one eligible promoter to a pending order. Eligibility
// failures pass through as-is (the order stays PENDING, safe to retry);
// anything else surfaces as ErrMatchFailed and is not retried
// automatically.
func (s *MatchService) Match(ctx context.Context, traceID string, orderID uuid.UUID) (domain.Task, error) {
	task, err := s.orders.MatchOrder(ctx, traceID, orderID)
	switch {
	case err == nil:
		metrics.RecordMatch("ok")
		if s.audit != nil {
			s.audit.OrderMatched(ctx, orderID, task.ID, task.PromoterID)
		}
		return task, nil
	case errors.Is(err, domain.ErrOrderNotEligible):
		metrics.RecordMatch("not_eligible")
		return domain.Task{}, err
	case errors.Is(err, domain.ErrNoEligiblePromoter):
		metrics.RecordMatch("no_promoter")
		return domain.Task{}, err
	default:
		metrics.RecordMatch("failed")
		return domain.Task{}, fmt.Errorf("%w: %v", domain.ErrMatchFailed, err)
	}
}

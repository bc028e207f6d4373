package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/keygate/internal/clock"
	subscriptiondomain "github.com/smallbiznis/keygate/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  subscriptiondomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  subscriptiondomain.Repository
}

func NewService(p Params) subscriptiondomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("subscription.service"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Get(ctx context.Context, userID snowflake.ID) (*subscriptiondomain.Response, error) {
	if userID == 0 {
		return nil, subscriptiondomain.ErrInvalidUser
	}
	sub, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrNotFound
	}
	resp := s.toResponse(sub)
	return &resp, nil
}

// Set overrides a user's entitlement window on behalf of an administrator.
func (s *Service) Set(ctx context.Context, req subscriptiondomain.SetRequest) (*subscriptiondomain.Response, error) {
	if req.UserID == 0 {
		return nil, subscriptiondomain.ErrInvalidUser
	}
	if req.ActiveUntil.IsZero() {
		return nil, subscriptiondomain.ErrInvalidActiveUntil
	}

	now := s.clock.Now()
	sub := &subscriptiondomain.Subscription{
		UserID:      req.UserID,
		ActiveUntil: req.ActiveUntil.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.UpdatedBy != 0 {
		sub.UpdatedBy = &req.UpdatedBy
	}

	if err := s.repo.Upsert(ctx, s.db, sub); err != nil {
		return nil, err
	}

	s.log.Info("subscription overridden",
		zap.String("user_id", req.UserID.String()),
		zap.Time("active_until", sub.ActiveUntil),
		zap.String("updated_by", req.UpdatedBy.String()),
	)

	return s.Get(ctx, req.UserID)
}

func (s *Service) Remove(ctx context.Context, userID snowflake.ID) error {
	if userID == 0 {
		return subscriptiondomain.ErrInvalidUser
	}
	affected, err := s.repo.Delete(ctx, s.db, userID)
	if err != nil {
		return err
	}
	if affected == 0 {
		return subscriptiondomain.ErrNotFound
	}
	s.log.Info("subscription removed", zap.String("user_id", userID.String()))
	return nil
}

func (s *Service) CountExpired(ctx context.Context) (int64, error) {
	return s.repo.CountExpired(ctx, s.db, s.clock.Now())
}

func (s *Service) toResponse(sub *subscriptiondomain.Subscription) subscriptiondomain.Response {
	resp := subscriptiondomain.Response{
		UserID:      sub.UserID.String(),
		ActiveUntil: sub.ActiveUntil,
		Active:      sub.IsActiveAt(s.clock.Now()),
		UpdatedAt:   sub.UpdatedAt,
	}
	if sub.SourceKeyID != nil {
		value := sub.SourceKeyID.String()
		resp.SourceKeyID = &value
	}
	if sub.UpdatedBy != nil {
		value := sub.UpdatedBy.String()
		resp.UpdatedBy = &value
	}
	return resp
}

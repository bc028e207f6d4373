package credential

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	accesskeydomain "github.com/smallbiznis/keygate/internal/accesskey/domain"
	"github.com/smallbiznis/keygate/internal/clock"
	subscriptiondomain "github.com/smallbiznis/keygate/internal/subscription/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Clock   clock.Clock
	KeyRepo accesskeydomain.Repository
	SubRepo subscriptiondomain.Repository
}

type GormStore struct {
	db      *gorm.DB
	clock   clock.Clock
	keyRepo accesskeydomain.Repository
	subRepo subscriptiondomain.Repository
}

func NewGormStore(p Params) Store {
	return &GormStore{
		db:      p.DB,
		clock:   p.Clock,
		keyRepo: p.KeyRepo,
		subRepo: p.SubRepo,
	}
}

func (s *GormStore) FindKeyByValue(ctx context.Context, value string) (*accesskeydomain.AccessKey, error) {
	return s.keyRepo.FindByValue(ctx, s.db, value)
}

func (s *GormStore) ConditionalClaimKey(ctx context.Context, id snowflake.ID, patch ClaimPatch) (ClaimResult, error) {
	affected, err := s.keyRepo.ClaimUnused(ctx, s.db, id, accesskeydomain.Claim{
		UsedBy:    patch.UsedBy,
		UsedAt:    patch.UsedAt,
		ExpiresAt: patch.ExpiresAt,
	})
	if err != nil {
		return ClaimResult{}, fmt.Errorf("claim access key: %w", err)
	}
	if affected == 0 {
		return ClaimResult{}, nil
	}

	key, err := s.keyRepo.FindByID(ctx, s.db, id)
	if err != nil {
		// The claim already committed; the row is informational only.
		return ClaimResult{AffectedRows: affected}, nil
	}
	return ClaimResult{AffectedRows: affected, Key: key}, nil
}

func (s *GormStore) UpsertSubscription(ctx context.Context, userID snowflake.ID, activeUntil time.Time, sourceKeyID snowflake.ID) error {
	now := s.clock.Now()
	sub := &subscriptiondomain.Subscription{
		UserID:      userID,
		ActiveUntil: activeUntil,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if sourceKeyID != 0 {
		sub.SourceKeyID = &sourceKeyID
	}
	if err := s.subRepo.Upsert(ctx, s.db, sub); err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

func (s *GormStore) GetSubscription(ctx context.Context, userID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return s.subRepo.FindByUserID(ctx, s.db, userID)
}

package service

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accesskeydomain "github.com/smallbiznis/keygate/internal/accesskey/domain"
	"github.com/smallbiznis/keygate/internal/clock"
	"github.com/smallbiznis/keygate/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxKeyCollisionRetries = 5

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  accesskeydomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  accesskeydomain.Repository
	genID *snowflake.Node
	clock clock.Clock
}

func New(p Params) accesskeydomain.Service {
	return newService(p)
}

func NewMaintenance(p Params) accesskeydomain.Maintenance {
	return newService(p)
}

func newService(p Params) *Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("accesskey.service"),
		repo:  p.Repo,
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) Generate(ctx context.Context, req accesskeydomain.GenerateRequest) ([]accesskeydomain.Response, error) {
	if req.Count == 0 {
		req.Count = 1
	}
	if req.Count < 1 || req.Count > accesskeydomain.MaxGenerateCount {
		return nil, accesskeydomain.ErrInvalidCount
	}
	if !accesskeydomain.IsAllowedDuration(req.DurationDays) {
		return nil, accesskeydomain.ErrInvalidDuration
	}

	var assigned *string
	if email := strings.TrimSpace(req.AssignedEmail); email != "" {
		parsed, err := mail.ParseAddress(email)
		if err != nil || parsed.Address != email {
			return nil, accesskeydomain.ErrInvalidEmail
		}
		normalized := strings.ToLower(parsed.Address)
		assigned = &normalized
	}

	var createdBy *snowflake.ID
	if req.CreatedBy != 0 {
		createdBy = &req.CreatedBy
	}

	now := s.clock.Now()
	created := make([]accesskeydomain.AccessKey, 0, req.Count)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := 0; i < req.Count; i++ {
			key, err := s.insertUnique(ctx, tx, accesskeydomain.AccessKey{
				DurationDays:  req.DurationDays,
				AssignedEmail: assigned,
				CreatedBy:     createdBy,
				CreatedAt:     now,
			})
			if err != nil {
				return err
			}
			created = append(created, *key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("access keys generated",
		zap.Int("count", len(created)),
		zap.Int("duration_days", req.DurationDays),
		zap.Bool("assigned", assigned != nil),
	)

	resp := make([]accesskeydomain.Response, 0, len(created))
	for i := range created {
		resp = append(resp, toResponse(&created[i]))
	}
	return resp, nil
}

// insertUnique retries inside a savepoint when the random code collides.
func (s *Service) insertUnique(ctx context.Context, tx *gorm.DB, key accesskeydomain.AccessKey) (*accesskeydomain.AccessKey, error) {
	for attempt := 0; attempt < maxKeyCollisionRetries; attempt++ {
		value, err := accesskeydomain.NewKeyValue()
		if err != nil {
			return nil, err
		}
		key.ID = s.genID.Generate()
		key.Key = value

		err = tx.Transaction(func(sp *gorm.DB) error {
			return s.repo.Insert(ctx, sp, &key)
		})
		if err == nil {
			return &key, nil
		}
		if !db.IsDuplicateKeyErr(err) {
			return nil, err
		}
		s.log.Warn("access key collision, regenerating", zap.Int("attempt", attempt+1))
	}
	return nil, accesskeydomain.ErrKeyCollision
}

func (s *Service) List(ctx context.Context, req accesskeydomain.ListRequest) ([]accesskeydomain.Response, error) {
	limit := req.Limit
	if limit <= 0 || limit > accesskeydomain.DefaultListLimit {
		limit = accesskeydomain.DefaultListLimit
	}

	items, err := s.repo.List(ctx, s.db, accesskeydomain.ListFilter{Limit: limit, Used: req.Used})
	if err != nil {
		return nil, err
	}

	resp := make([]accesskeydomain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, toResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) Get(ctx context.Context, id string) (*accesskeydomain.Response, error) {
	keyID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	key, err := s.repo.FindByID(ctx, s.db, keyID)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, accesskeydomain.ErrNotFound
	}
	resp := toResponse(key)
	return &resp, nil
}

// Revoke deletes an unused key. Used keys are kept as redemption provenance.
func (s *Service) Revoke(ctx context.Context, id string) error {
	keyID, err := parseID(id)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		key, err := s.repo.FindByID(ctx, tx, keyID)
		if err != nil {
			return err
		}
		if key == nil {
			return accesskeydomain.ErrNotFound
		}
		if key.IsUsed {
			return accesskeydomain.ErrAlreadyUsed
		}

		affected, err := s.repo.DeleteUnused(ctx, tx, keyID)
		if err != nil {
			return err
		}
		if affected == 0 {
			return accesskeydomain.ErrAlreadyUsed
		}
		s.log.Info("access key revoked", zap.String("access_key_id", keyID.String()))
		return nil
	})
}

func (s *Service) PurgeCreatedBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 50
	}

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		deleted, err := s.repo.DeleteCreatedBefore(ctx, s.db, cutoff, batchSize)
		if err != nil {
			return total, err
		}
		total += deleted
		if deleted < int64(batchSize) {
			return total, nil
		}
	}
}

func (s *Service) SuspiciousRedeemers(ctx context.Context, since time.Time, threshold int) ([]accesskeydomain.RedemptionCount, error) {
	return s.repo.CountRedemptionsSince(ctx, s.db, since, threshold)
}

func parseID(raw string) (snowflake.ID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, accesskeydomain.ErrInvalidID
	}
	id, err := snowflake.ParseString(trimmed)
	if err != nil || id == 0 {
		return 0, accesskeydomain.ErrInvalidID
	}
	return id, nil
}

func toResponse(key *accesskeydomain.AccessKey) accesskeydomain.Response {
	return accesskeydomain.Response{
		ID:            key.ID.String(),
		Key:           key.Key,
		DurationDays:  key.DurationDays,
		IsUsed:        key.IsUsed,
		UsedBy:        idString(key.UsedBy),
		UsedAt:        key.UsedAt,
		ExpiresAt:     key.ExpiresAt,
		AssignedEmail: key.AssignedEmail,
		CreatedBy:     idString(key.CreatedBy),
		CreatedAt:     key.CreatedAt,
	}
}

func idString(id *snowflake.ID) *string {
	if id == nil || *id == 0 {
		return nil
	}
	value := id.String()
	return &value
}

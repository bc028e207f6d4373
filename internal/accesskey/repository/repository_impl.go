package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	accesskeydomain "github.com/smallbiznis/keygate/internal/accesskey/domain"
	"gorm.io/gorm"
)

const accessKeyColumns = `id, code, duration_days, is_used, used_by, used_at, expires_at, assigned_email, created_by, created_at`

type repo struct{}

func Provide() accesskeydomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, key *accesskeydomain.AccessKey) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO access_keys (id, code, duration_days, is_used, assigned_email, created_by, created_at)
		 VALUES (?, ?, ?, FALSE, ?, ?, ?)`,
		key.ID,
		key.Key,
		key.DurationDays,
		key.AssignedEmail,
		key.CreatedBy,
		key.CreatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*accesskeydomain.AccessKey, error) {
	var key accesskeydomain.AccessKey
	err := db.WithContext(ctx).Raw(
		`SELECT `+accessKeyColumns+` FROM access_keys WHERE id = ?`,
		id,
	).Scan(&key).Error
	if err != nil {
		return nil, err
	}
	if key.ID == 0 {
		return nil, nil
	}
	return &key, nil
}

func (r *repo) FindByValue(ctx context.Context, db *gorm.DB, value string) (*accesskeydomain.AccessKey, error) {
	var key accesskeydomain.AccessKey
	err := db.WithContext(ctx).Raw(
		`SELECT `+accessKeyColumns+` FROM access_keys WHERE code = ?`,
		value,
	).Scan(&key).Error
	if err != nil {
		return nil, err
	}
	if key.ID == 0 {
		return nil, nil
	}
	return &key, nil
}

func (r *repo) ClaimUnused(ctx context.Context, db *gorm.DB, id snowflake.ID, claim accesskeydomain.Claim) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE access_keys
		 SET is_used = TRUE, used_by = ?, used_at = ?, expires_at = ?
		 WHERE id = ? AND is_used = FALSE`,
		claim.UsedBy,
		claim.UsedAt,
		claim.ExpiresAt,
		id,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter accesskeydomain.ListFilter) ([]accesskeydomain.AccessKey, error) {
	query := `SELECT ` + accessKeyColumns + ` FROM access_keys`
	args := make([]any, 0, 2)
	if filter.Used != nil {
		query += ` WHERE is_used = ?`
		args = append(args, *filter.Used)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, filter.Limit)

	var keys []accesskeydomain.AccessKey
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *repo) DeleteUnused(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`DELETE FROM access_keys WHERE id = ? AND is_used = FALSE`,
		id,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) DeleteCreatedBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) (int64, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT id FROM access_keys WHERE created_at < ? ORDER BY created_at ASC LIMIT ?`,
		cutoff,
		limit,
	).Scan(&ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	result := db.WithContext(ctx).Exec(`DELETE FROM access_keys WHERE id IN ?`, ids)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) CountRedemptionsSince(ctx context.Context, db *gorm.DB, since time.Time, threshold int) ([]accesskeydomain.RedemptionCount, error) {
	var rows []accesskeydomain.RedemptionCount
	err := db.WithContext(ctx).Raw(
		`SELECT used_by, COUNT(*) AS total
		 FROM access_keys
		 WHERE is_used = TRUE AND used_by IS NOT NULL AND used_at >= ?
		 GROUP BY used_by
		 HAVING COUNT(*) > ?
		 ORDER BY total DESC`,
		since,
		threshold,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

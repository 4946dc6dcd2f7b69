package kvstore

import (
	"context"
	"errors"
	"time"

	"github.com/hogansalley/storefront/pkg/db"
	"github.com/hogansalley/storefront/pkg/db/models"
	pkgerrors "github.com/hogansalley/storefront/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQL stores entries in the kv_entries table created by pkg/migrate.
type SQL struct {
	client *db.Client
	now    func() time.Time
}

func NewSQL(client *db.Client) *SQL {
	return &SQL{client: client, now: time.Now}
}

func keyEquals(key string) clause.Expression {
	return clause.Eq{Column: clause.Column{Name: "key"}, Value: key}
}

func (s *SQL) Get(ctx context.Context, key string) (string, bool, error) {
	var entry models.KVEntry
	err := s.client.DB().WithContext(ctx).Where(keyEquals(key)).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "read kv entry")
	}
	return entry.Value, true, nil
}

func (s *SQL) Set(ctx context.Context, key, value string) error {
	entry := models.KVEntry{Key: key, Value: value, UpdatedAt: s.now().UTC()}
	err := s.client.DB().WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "write kv entry")
	}
	return nil
}

func (s *SQL) Remove(ctx context.Context, key string) error {
	err := s.client.DB().WithContext(ctx).Where(keyEquals(key)).Delete(&models.KVEntry{}).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "remove kv entry")
	}
	return nil
}

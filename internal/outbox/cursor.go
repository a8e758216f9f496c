package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CursorStore remembers, per consumer, the last change it handled so a
// restarted consumer resumes where it stopped.
type CursorStore struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewCursorStore constructs a CursorStore; a nil clock uses time.Now.
func NewCursorStore(db *gorm.DB, clock func() time.Time) (*CursorStore, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if clock == nil {
		clock = time.Now
	}
	return &CursorStore{db: db, clock: clock}, nil
}

// Load returns the saved position of consumer, or zero when none is stored.
func (s *CursorStore) Load(ctx context.Context, consumer string) (int64, error) {
	name, err := consumerName(consumer)
	if err != nil {
		return 0, err
	}
	var cursor Cursor
	err = s.db.WithContext(ctx).Where("consumer = ?", name).Take(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return cursor.AfterID, nil
}

// Save records afterID as the position of consumer.
func (s *CursorStore) Save(ctx context.Context, consumer string, afterID int64) error {
	name, err := consumerName(consumer)
	if err != nil {
		return err
	}
	if afterID < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCursor, afterID)
	}
	cursor := Cursor{Consumer: name, AfterID: afterID, UpdatedAtSeconds: s.clock().UTC().Unix()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "consumer"}},
		DoUpdates: clause.AssignmentColumns([]string{"after_id", "updated_at_s"}),
	}).Create(&cursor).Error
}

func consumerName(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || len(trimmed) > 190 {
		return "", fmt.Errorf("%w: %q", ErrInvalidConsumer, raw)
	}
	return trimmed, nil
}

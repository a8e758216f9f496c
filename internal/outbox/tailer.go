package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 100
	maxBatchSize        = 1000
)

var errMissingDatabase = errors.New("outbox: database handle is required")

// Query selects changes strictly after AfterID, optionally for one table.
type Query struct {
	AfterID int64
	Limit   int
	Table   string
}

// Handler processes one change. Returning an error leaves the cursor in place
// so the change is delivered again.
type Handler func(ctx context.Context, record ChangeRecord) error

// TailerConfig wires a Tailer.
type TailerConfig struct {
	Database     *gorm.DB
	PollInterval time.Duration
	BatchSize    int
	Logger       *zap.Logger
}

// Tailer reads the changes table in id order.
type Tailer struct {
	db           *gorm.DB
	pollInterval time.Duration
	batchSize    int
	logger       *zap.Logger
}

// NewTailer validates config and applies defaults.
func NewTailer(config TailerConfig) (*Tailer, error) {
	if config.Database == nil {
		return nil, errMissingDatabase
	}
	pollInterval := config.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if batchSize > maxBatchSize {
		batchSize = maxBatchSize
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tailer{db: config.Database, pollInterval: pollInterval, batchSize: batchSize, logger: logger}, nil
}

// BatchSize reports the page size used when a query does not set one.
func (t *Tailer) BatchSize() int {
	return t.batchSize
}

// Next returns up to query.Limit changes with id greater than query.AfterID.
func (t *Tailer) Next(ctx context.Context, query Query) ([]ChangeRecord, error) {
	if query.AfterID < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCursor, query.AfterID)
	}
	limit := query.Limit
	if limit <= 0 || limit > maxBatchSize {
		limit = t.batchSize
	}

	statement := t.db.WithContext(ctx).Where("id > ?", query.AfterID)
	if query.Table != "" {
		statement = statement.Where("table_name = ?", query.Table)
	}
	var records []ChangeRecord
	if err := statement.Order("id ASC").Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// LatestID returns the highest change id, or zero for an empty outbox.
func (t *Tailer) LatestID(ctx context.Context) (int64, error) {
	var latest int64
	err := t.db.WithContext(ctx).Model(&ChangeRecord{}).Select("COALESCE(MAX(id), 0)").Scan(&latest).Error
	return latest, err
}

// Run hands every change after query.AfterID to handle, in id order, until
// ctx ends. It drains available changes, then sleeps until wake fires or the
// poll interval elapses. A nil wake channel means polling only.
func (t *Tailer) Run(ctx context.Context, query Query, wake <-chan struct{}, handle Handler) error {
	if query.AfterID < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCursor, query.AfterID)
	}
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	cursor := query.AfterID
	for {
		cursor = t.drain(ctx, query, cursor, handle)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		case <-ticker.C:
		}
	}
}

func (t *Tailer) drain(ctx context.Context, query Query, cursor int64, handle Handler) int64 {
	for {
		records, err := t.Next(ctx, Query{AfterID: cursor, Limit: t.batchSize, Table: query.Table})
		if err != nil {
			if ctx.Err() == nil {
				t.logger.Warn("outbox read failed", zap.Int64("after_id", cursor), zap.Error(err))
			}
			return cursor
		}
		for _, record := range records {
			if err := handle(ctx, record); err != nil {
				t.logger.Warn("outbox handler failed", zap.Int64("change_id", record.ID), zap.String("table", record.Table), zap.Error(err))
				return cursor
			}
			cursor = record.ID
		}
		if len(records) < t.batchSize {
			return cursor
		}
	}
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/jingfee/sungrow-scheduler/pkg/types"
	"github.com/levenlabs/go-lflag"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLiteProvider persists state values and the message queue to a local
// sqlite file for single host installs.
type SQLiteProvider struct {
	path string
	db   *gorm.DB
}

// StateEntry is one persisted state value.
type StateEntry struct {
	Name      string `gorm:"primaryKey"`
	JSON      string
	UpdatedAt time.Time
}

// StoredMessage is one pending queue message. ScheduledAt is unix
// milliseconds so ordering does not depend on how the driver formats times.
type StoredMessage struct {
	SequenceID  string `gorm:"primaryKey"`
	ScheduledAt int64  `gorm:"index"`
	Operation   string
	JSON        string
}

func configuredSQLite() *SQLiteProvider {
	path := lflag.String("sqlite-path", "sungrow-scheduler.db", "Path of the sqlite database file")

	s := &SQLiteProvider{}

	lflag.Do(func() {
		s.path = *path
	})

	return s
}

// NewSQLite opens (and migrates) the database at path.
func NewSQLite(path string) (*SQLiteProvider, error) {
	s := &SQLiteProvider{path: path}
	if err := s.Init(); err != nil {
		return nil, err
	}
	return s, nil
}

// Init opens the database and migrates the schema.
func (s *SQLiteProvider) Init() error {
	db, err := gorm.Open(sqlite.Open(s.path), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&StateEntry{}, &StoredMessage{}); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	s.db = db
	return nil
}

// Close closes the underlying connection.
func (s *SQLiteProvider) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteProvider) getValue(ctx context.Context, key string) (string, bool, error) {
	var entry StateEntry
	result := s.db.WithContext(ctx).Where("name = ?", key).Take(&entry)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if result.Error != nil {
		return "", false, result.Error
	}
	return entry.JSON, true, nil
}

func (s *SQLiteProvider) setValue(ctx context.Context, key, value string) error {
	entry := StateEntry{Name: key, JSON: value, UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&entry).Error
}

// Enqueue stores msg keyed by a new uuid.
func (s *SQLiteProvider) Enqueue(ctx context.Context, msg types.Message, at time.Time) (string, error) {
	sm := types.ScheduledMessage{
		SequenceID:  uuid.NewString(),
		ScheduledAt: at,
		Message:     msg,
	}
	jsonBytes, err := json.Marshal(sm)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}
	row := StoredMessage{
		SequenceID:  sm.SequenceID,
		ScheduledAt: at.UnixMilli(),
		Operation:   msg.Operation.String(),
		JSON:        string(jsonBytes),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", fmt.Errorf("failed to enqueue message: %w", err)
	}
	return sm.SequenceID, nil
}

// PeekPending returns pending messages ordered by scheduled time.
func (s *SQLiteProvider) PeekPending(ctx context.Context, limit int) ([]types.ScheduledMessage, error) {
	var rows []StoredMessage
	result := s.db.WithContext(ctx).Order("scheduled_at asc, sequence_id asc").Limit(queryLimit(limit)).Find(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query operations: %w", result.Error)
	}
	return decodeRows(rows)
}

// Cancel deletes a pending message.
func (s *SQLiteProvider) Cancel(ctx context.Context, sequenceID string) error {
	result := s.db.WithContext(ctx).Delete(&StoredMessage{}, "sequence_id = ?", sequenceID)
	if result.Error != nil {
		return fmt.Errorf("failed to cancel %s: %w", sequenceID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, sequenceID)
	}
	return nil
}

// ClaimDue removes and returns due messages inside one transaction.
func (s *SQLiteProvider) ClaimDue(ctx context.Context, now time.Time, limit int) ([]types.ScheduledMessage, error) {
	var rows []StoredMessage
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("scheduled_at <= ?", now.UnixMilli()).
			Order("scheduled_at asc, sequence_id asc").
			Limit(queryLimit(limit)).
			Find(&rows)
		if result.Error != nil {
			return result.Error
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]string, len(rows))
		for i, r := range rows {
			ids[i] = r.SequenceID
		}
		return tx.Delete(&StoredMessage{}, "sequence_id IN ?", ids).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim due operations: %w", err)
	}
	return decodeRows(rows)
}

func queryLimit(limit int) int {
	if limit <= 0 {
		// gorm treats a negative limit as none
		return -1
	}
	return limit
}

func decodeRows(rows []StoredMessage) ([]types.ScheduledMessage, error) {
	msgs := make([]types.ScheduledMessage, 0, len(rows))
	for _, r := range rows {
		var sm types.ScheduledMessage
		if err := json.Unmarshal([]byte(r.JSON), &sm); err != nil {
			return nil, fmt.Errorf("failed to unmarshal operation (id=%s): %w", r.SequenceID, err)
		}
		sm.SequenceID = r.SequenceID
		msgs = append(msgs, sm)
	}
	return msgs, nil
}

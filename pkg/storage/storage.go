package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jingfee/sungrow-scheduler/pkg/types"
	"github.com/levenlabs/go-lflag"
)

var (
	// ErrNotFound is returned when cancelling a message that is no longer queued.
	ErrNotFound = errors.New("not found")
)

// Queue holds scheduled messages until they are due.
type Queue interface {
	// Enqueue schedules msg for at and returns its sequence id.
	Enqueue(ctx context.Context, msg types.Message, at time.Time) (string, error)
	// PeekPending returns up to limit pending messages ordered by scheduled
	// time without removing them. A limit <= 0 returns all of them.
	PeekPending(ctx context.Context, limit int) ([]types.ScheduledMessage, error)
	// Cancel removes a pending message by sequence id.
	Cancel(ctx context.Context, sequenceID string) error
	// ClaimDue atomically removes and returns up to limit messages scheduled
	// at or before now, ordered by scheduled time.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]types.ScheduledMessage, error)
}

// Database defines the interface for persisting cross-invocation state and
// the scheduled message queue. Every getter tolerates a value that was never
// set and returns its zero default.
type Database interface {
	Queue

	// GetLastBalance returns the last time the battery was charged to full.
	// The zero time means never.
	GetLastBalance(ctx context.Context) (time.Time, error)
	SetLastBalance(ctx context.Context, t time.Time) error

	// GetLatestChargeSoC returns the SoC read when the last charge stopped.
	GetLatestChargeSoC(ctx context.Context) (float64, bool, error)
	SetLatestChargeSoC(ctx context.Context, soc float64) error

	// GetLatestNightHighPrice returns the highest price of the last planned
	// night charge, 0 when unknown.
	GetLatestNightHighPrice(ctx context.Context) (float64, error)
	SetLatestNightHighPrice(ctx context.Context, price float64) error

	GetLoadSamples(ctx context.Context) ([]types.LoadSample, error)
	// AppendLoadSample adds s and keeps only the newest retain samples.
	AppendLoadSample(ctx context.Context, s types.LoadSample, retain int) error

	// GetStatus returns StatusStopped when nothing was recorded.
	GetStatus(ctx context.Context) (types.Status, error)
	SetStatus(ctx context.Context, s types.Status) error

	GetRanks(ctx context.Context) ([]int, error)
	SetRanks(ctx context.Context, ranks []int) error

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "firestore", "Storage provider to use (available: firestore, sqlite, memory)")

	var p struct{ Database }

	fs := configuredFirestore()
	sq := configuredSQLite()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
			p.Database = newStore(fs)
		case "sqlite":
			if err := sq.Init(); err != nil {
				panic(fmt.Sprintf("sqlite init failed: %v", err))
			}
			p.Database = newStore(sq)
		case "memory":
			p.Database = NewMemory()
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}

package ess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jingfee/sungrow-scheduler/pkg/log"
	"github.com/levenlabs/go-lflag"
)

var (
	// ErrInvalidToken is returned when the device API rejected the session token.
	ErrInvalidToken = errors.New("invalid token")
)

// System defines the interface for controlling the hybrid inverter and its battery.
type System interface {
	// GetStateOfCharge returns the battery state of charge as a fraction.
	GetStateOfCharge(ctx context.Context) (float64, error)

	// GetDailyLoad returns the house load counter in Wh. The counter resets at
	// midnight.
	GetDailyLoad(ctx context.Context) (float64, error)

	// StartCharge force charges from the grid at powerW until targetSoC.
	StartCharge(ctx context.Context, powerW, targetSoC float64) error
	StopCharge(ctx context.Context) error

	// StartDischarge force discharges to cover the house load.
	StartDischarge(ctx context.Context) error
	StopDischarge(ctx context.Context) error
}

// Configured sets up the ESS system based on flags.
func Configured() System {
	provider := lflag.String("ess", "isolarcloud", "Inverter control to use (available: isolarcloud, modbus, dryrun)")

	var p struct{ System }

	ic := configuredISolarCloud()
	mb := configuredModbus()

	lflag.Do(func() {
		switch *provider {
		case "isolarcloud":
			if err := ic.Validate(); err != nil {
				panic(fmt.Sprintf("isolarcloud validation failed: %v", err))
			}
			p.System = ic
		case "modbus":
			if err := mb.Validate(); err != nil {
				panic(fmt.Sprintf("modbus validation failed: %v", err))
			}
			p.System = mb
		case "dryrun":
			p.System = NewSimulated(9600, time.Now)
		default:
			panic(fmt.Sprintf("unknown ess: %s", *provider))
		}
	})

	return &p
}

// Fire issues a device command without retrying. A failure is logged and
// reported as false; callers continue either way.
func Fire(ctx context.Context, command string, fn func(ctx context.Context) error) bool {
	if err := fn(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "device command failed", slog.String("command", command), slog.Any("error", err))
		return false
	}
	log.Ctx(ctx).InfoContext(ctx, "device command sent", slog.String("command", command))
	return true
}

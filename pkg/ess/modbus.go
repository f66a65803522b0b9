package ess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/jingfee/sungrow-scheduler/pkg/log"
	"github.com/levenlabs/go-lflag"
	"github.com/simonvetter/modbus"
)

// Register map of the hybrid inverter's local Modbus TCP interface.
const (
	regSoC       = 13022 // input, 0.1 %
	regDailyLoad = 13016 // input, 0.1 kWh
	regEMSMode   = 13049 // holding
	regCommand   = 13050 // holding
	regPower     = 13051 // holding, W
	regMaxSoC    = 13057 // holding, 0.1 %
)

const (
	emsSelfConsumption = 0
	emsForced          = 2

	cmdCharge    = 0xAA
	cmdDischarge = 0xBB
	cmdStop      = 0xCC

	maxDischargeW = 6000
)

// Modbus implements System over the inverter's Modbus TCP port.
type Modbus struct {
	host   string
	unitID uint8

	mu              sync.Mutex
	client          *modbus.ModbusClient
	shouldReconnect bool // when true the client is re-created before the next call
}

func configuredModbus() *Modbus {
	host := lflag.String("modbus-host", "", "host:port of the inverter Modbus TCP interface")
	unitID := lflag.String("modbus-unit-id", "1", "Modbus unit id of the inverter")

	m := &Modbus{shouldReconnect: true}

	lflag.Do(func() {
		m.host = *host
		id, err := strconv.ParseUint(*unitID, 10, 8)
		if err != nil {
			panic(fmt.Sprintf("invalid modbus-unit-id: %s", *unitID))
		}
		m.unitID = uint8(id)
	})

	return m
}

// NewModbus returns a client for host. It connects on first use.
func NewModbus(host string, unitID uint8) *Modbus {
	return &Modbus{host: host, unitID: unitID, shouldReconnect: true}
}

// Validate checks the host is set.
func (m *Modbus) Validate() error {
	if m.host == "" {
		return errors.New("missing modbus host")
	}
	return nil
}

// reconnectIfNecessary closes a failed connection and dials again.
func (m *Modbus) reconnectIfNecessary(ctx context.Context) error {
	if !m.shouldReconnect {
		return nil
	}

	// Ignore errors from Close() as we start a new connection anyway.
	if m.client != nil {
		m.client.Close()
	}

	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s", m.host),
		Timeout: 2 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("create modbus client: %w", err)
	}
	if err := client.Open(); err != nil {
		return fmt.Errorf("open modbus client: %w", err)
	}
	if err := client.SetUnitId(m.unitID); err != nil {
		return fmt.Errorf("set unit id: %w", err)
	}
	m.client = client
	m.shouldReconnect = false

	log.Ctx(ctx).InfoContext(ctx, "connected modbus client", slog.String("host", m.host))
	return nil
}

func (m *Modbus) readInput(ctx context.Context, addr uint16) (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.reconnectIfNecessary(ctx); err != nil {
		return 0, fmt.Errorf("reconnect: %w", err)
	}
	v, err := m.client.ReadRegister(addr, modbus.INPUT_REGISTER)
	if err != nil {
		m.shouldReconnect = true
		return 0, fmt.Errorf("read register %d: %w", addr, err)
	}
	return v, nil
}

// write writes each (register, value) pair in order.
func (m *Modbus) write(ctx context.Context, pairs ...[2]uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.reconnectIfNecessary(ctx); err != nil {
		return fmt.Errorf("reconnect: %w", err)
	}
	for _, p := range pairs {
		if err := m.client.WriteRegister(p[0], p[1]); err != nil {
			m.shouldReconnect = true
			return fmt.Errorf("write register %d: %w", p[0], err)
		}
	}
	return nil
}

// GetStateOfCharge returns the battery level as a fraction.
func (m *Modbus) GetStateOfCharge(ctx context.Context) (float64, error) {
	v, err := m.readInput(ctx, regSoC)
	if err != nil {
		return 0, err
	}
	return float64(v) / 1000, nil
}

// GetDailyLoad returns today's house load in Wh.
func (m *Modbus) GetDailyLoad(ctx context.Context) (float64, error) {
	v, err := m.readInput(ctx, regDailyLoad)
	if err != nil {
		return 0, err
	}
	return float64(v) * 100, nil
}

// StartCharge enables forced charge at powerW up to targetSoC.
func (m *Modbus) StartCharge(ctx context.Context, powerW, targetSoC float64) error {
	return m.write(ctx,
		[2]uint16{regMaxSoC, uint16(math.Round(math.Min(targetSoC, 1) * 1000))},
		[2]uint16{regEMSMode, emsForced},
		[2]uint16{regCommand, cmdCharge},
		[2]uint16{regPower, uint16(math.Round(math.Max(powerW, 0)))},
	)
}

// StopCharge returns the inverter to self consumption.
func (m *Modbus) StopCharge(ctx context.Context) error {
	return m.stop(ctx)
}

// StartDischarge enables forced discharge at full power.
func (m *Modbus) StartDischarge(ctx context.Context) error {
	return m.write(ctx,
		[2]uint16{regEMSMode, emsForced},
		[2]uint16{regCommand, cmdDischarge},
		[2]uint16{regPower, maxDischargeW},
	)
}

// StopDischarge returns the inverter to self consumption.
func (m *Modbus) StopDischarge(ctx context.Context) error {
	return m.stop(ctx)
}

func (m *Modbus) stop(ctx context.Context) error {
	return m.write(ctx,
		[2]uint16{regCommand, cmdStop},
		[2]uint16{regPower, 0},
		[2]uint16{regEMSMode, emsSelfConsumption},
	)
}

package ess

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/simonvetter/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeInverter serves the inverter register map.
type fakeInverter struct {
	mu      sync.Mutex
	input   map[uint16]uint16
	holding map[uint16]uint16
	writes  []uint16
}

func (f *fakeInverter) HandleCoils(req *modbus.CoilsRequest) ([]bool, error) {
	return nil, modbus.ErrIllegalFunction
}

func (f *fakeInverter) HandleDiscreteInputs(req *modbus.DiscreteInputsRequest) ([]bool, error) {
	return nil, modbus.ErrIllegalFunction
}

func (f *fakeInverter) HandleHoldingRegisters(req *modbus.HoldingRegistersRequest) ([]uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := make([]uint16, req.Quantity)
	for i := uint16(0); i < req.Quantity; i++ {
		addr := req.Addr + i
		if req.IsWrite {
			f.holding[addr] = req.Args[i]
			f.writes = append(f.writes, addr)
		}
		res[i] = f.holding[addr]
	}
	return res, nil
}

func (f *fakeInverter) HandleInputRegisters(req *modbus.InputRegistersRequest) ([]uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := make([]uint16, req.Quantity)
	for i := uint16(0); i < req.Quantity; i++ {
		v, ok := f.input[req.Addr+i]
		if !ok {
			return nil, modbus.ErrIllegalDataAddress
		}
		res[i] = v
	}
	return res, nil
}

func freePort(t *testing.T) int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestModbus(t *testing.T) {
	ctx := context.Background()
	inv := &fakeInverter{
		input:   map[uint16]uint16{regSoC: 853, regDailyLoad: 123},
		holding: map[uint16]uint16{},
	}
	host := fmt.Sprintf("127.0.0.1:%d", freePort(t))
	server, err := modbus.NewServer(&modbus.ServerConfiguration{
		URL:        "tcp://" + host,
		Timeout:    10 * time.Second,
		MaxClients: 2,
	}, inv)
	require.NoError(t, err)
	require.NoError(t, server.Start())
	defer server.Stop()

	m := NewModbus(host, 1)
	require.NoError(t, m.Validate())

	t.Run("Read", func(t *testing.T) {
		soc, err := m.GetStateOfCharge(ctx)
		require.NoError(t, err)
		assert.InDelta(t, 0.853, soc, 1e-9)

		load, err := m.GetDailyLoad(ctx)
		require.NoError(t, err)
		assert.InDelta(t, 12300.0, load, 1e-9)
	})

	t.Run("StartCharge", func(t *testing.T) {
		require.NoError(t, m.StartCharge(ctx, 2400, 0.95))
		inv.mu.Lock()
		defer inv.mu.Unlock()
		assert.Equal(t, uint16(950), inv.holding[regMaxSoC])
		assert.Equal(t, uint16(emsForced), inv.holding[regEMSMode])
		assert.Equal(t, uint16(cmdCharge), inv.holding[regCommand])
		assert.Equal(t, uint16(2400), inv.holding[regPower])
	})

	t.Run("Discharge", func(t *testing.T) {
		require.NoError(t, m.StartDischarge(ctx))
		inv.mu.Lock()
		assert.Equal(t, uint16(cmdDischarge), inv.holding[regCommand])
		assert.Equal(t, uint16(maxDischargeW), inv.holding[regPower])
		inv.mu.Unlock()

		require.NoError(t, m.StopDischarge(ctx))
		inv.mu.Lock()
		assert.Equal(t, uint16(cmdStop), inv.holding[regCommand])
		assert.Equal(t, uint16(emsSelfConsumption), inv.holding[regEMSMode])
		assert.Equal(t, uint16(0), inv.holding[regPower])
		inv.mu.Unlock()
	})

	t.Run("ReadErrorReconnects", func(t *testing.T) {
		inv.mu.Lock()
		delete(inv.input, regSoC)
		inv.mu.Unlock()

		_, err := m.GetStateOfCharge(ctx)
		assert.Error(t, err)
		assert.True(t, m.shouldReconnect)

		inv.mu.Lock()
		inv.input[regSoC] = 500
		inv.mu.Unlock()
		soc, err := m.GetStateOfCharge(ctx)
		require.NoError(t, err)
		assert.InDelta(t, 0.5, soc, 1e-9)
	})

	t.Run("Validate", func(t *testing.T) {
		assert.Error(t, NewModbus("", 1).Validate())
	})
}

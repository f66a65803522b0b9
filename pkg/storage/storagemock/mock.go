package storagemock

import (
	"context"
	"time"

	"github.com/jingfee/sungrow-scheduler/pkg/storage"
	"github.com/jingfee/sungrow-scheduler/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) Enqueue(ctx context.Context, msg types.Message, at time.Time) (string, error) {
	args := m.Called(ctx, msg, at)
	return args.String(0), args.Error(1)
}

func (m *MockDatabase) PeekPending(ctx context.Context, limit int) ([]types.ScheduledMessage, error) {
	args := m.Called(ctx, limit)
	if v := args.Get(0); v != nil {
		return v.([]types.ScheduledMessage), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) Cancel(ctx context.Context, sequenceID string) error {
	args := m.Called(ctx, sequenceID)
	return args.Error(0)
}

func (m *MockDatabase) ClaimDue(ctx context.Context, now time.Time, limit int) ([]types.ScheduledMessage, error) {
	args := m.Called(ctx, now, limit)
	if v := args.Get(0); v != nil {
		return v.([]types.ScheduledMessage), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) GetLastBalance(ctx context.Context) (time.Time, error) {
	args := m.Called(ctx)
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *MockDatabase) SetLastBalance(ctx context.Context, t time.Time) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *MockDatabase) GetLatestChargeSoC(ctx context.Context) (float64, bool, error) {
	args := m.Called(ctx)
	return args.Get(0).(float64), args.Bool(1), args.Error(2)
}

func (m *MockDatabase) SetLatestChargeSoC(ctx context.Context, soc float64) error {
	args := m.Called(ctx, soc)
	return args.Error(0)
}

func (m *MockDatabase) GetLatestNightHighPrice(ctx context.Context) (float64, error) {
	args := m.Called(ctx)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockDatabase) SetLatestNightHighPrice(ctx context.Context, price float64) error {
	args := m.Called(ctx, price)
	return args.Error(0)
}

func (m *MockDatabase) GetLoadSamples(ctx context.Context) ([]types.LoadSample, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.([]types.LoadSample), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) AppendLoadSample(ctx context.Context, s types.LoadSample, retain int) error {
	args := m.Called(ctx, s, retain)
	return args.Error(0)
}

func (m *MockDatabase) GetStatus(ctx context.Context) (types.Status, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.Status), args.Error(1)
}

func (m *MockDatabase) SetStatus(ctx context.Context, s types.Status) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *MockDatabase) GetRanks(ctx context.Context) ([]int, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.([]int), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) SetRanks(ctx context.Context, ranks []int) error {
	args := m.Called(ctx, ranks)
	return args.Error(0)
}

func (m *MockDatabase) Close() error {
	return nil
}

package server

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type mockController struct {
	mock.Mock
}

func (m *mockController) Plan(ctx context.Context, now time.Time) error {
	return m.Called(ctx, now).Error(0)
}

func (m *mockController) ConfirmPrices(ctx context.Context, now time.Time) error {
	return m.Called(ctx, now).Error(0)
}

func (m *mockController) DischargeLeftover(ctx context.Context, now time.Time) error {
	return m.Called(ctx, now).Error(0)
}

func (m *mockController) RecordLoad(ctx context.Context, now time.Time) error {
	return m.Called(ctx, now).Error(0)
}

func (m *mockController) Dispatch(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

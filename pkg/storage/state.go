package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jingfee/sungrow-scheduler/pkg/types"
)

const (
	keyLastBalance          = "lastBalance"
	keyLatestChargeSoC      = "latestChargeSoc"
	keyLatestNightHighPrice = "latestNightHighPrice"
	keyLoadSamples          = "loadSamples"
	keyStatus               = "status"
	keyRanks                = "ranks"
)

// provider is a backend holding JSON encoded values by key next to the queue.
type provider interface {
	Queue
	// getValue returns false if key was never set.
	getValue(ctx context.Context, key string) (string, bool, error)
	setValue(ctx context.Context, key, value string) error
	Close() error
}

// store implements the typed Database contract on top of a provider.
type store struct {
	provider
}

func newStore(p provider) *store {
	return &store{provider: p}
}

func (s *store) get(ctx context.Context, key string, v any) (bool, error) {
	raw, ok, err := s.getValue(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (s *store) set(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := s.setValue(ctx, key, string(b)); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (s *store) GetLastBalance(ctx context.Context) (time.Time, error) {
	var t time.Time
	_, err := s.get(ctx, keyLastBalance, &t)
	return t, err
}

func (s *store) SetLastBalance(ctx context.Context, t time.Time) error {
	return s.set(ctx, keyLastBalance, t)
}

func (s *store) GetLatestChargeSoC(ctx context.Context) (float64, bool, error) {
	var soc float64
	ok, err := s.get(ctx, keyLatestChargeSoC, &soc)
	return soc, ok, err
}

func (s *store) SetLatestChargeSoC(ctx context.Context, soc float64) error {
	return s.set(ctx, keyLatestChargeSoC, soc)
}

func (s *store) GetLatestNightHighPrice(ctx context.Context) (float64, error) {
	var price float64
	_, err := s.get(ctx, keyLatestNightHighPrice, &price)
	return price, err
}

func (s *store) SetLatestNightHighPrice(ctx context.Context, price float64) error {
	return s.set(ctx, keyLatestNightHighPrice, price)
}

func (s *store) GetLoadSamples(ctx context.Context) ([]types.LoadSample, error) {
	var samples []types.LoadSample
	_, err := s.get(ctx, keyLoadSamples, &samples)
	return samples, err
}

func (s *store) AppendLoadSample(ctx context.Context, sample types.LoadSample, retain int) error {
	samples, err := s.GetLoadSamples(ctx)
	if err != nil {
		return err
	}
	samples = append(samples, sample)
	if retain > 0 && len(samples) > retain {
		samples = samples[len(samples)-retain:]
	}
	return s.set(ctx, keyLoadSamples, samples)
}

func (s *store) GetStatus(ctx context.Context) (types.Status, error) {
	var status types.Status
	ok, err := s.get(ctx, keyStatus, &status)
	if err != nil {
		return "", err
	}
	if !ok || status == "" {
		return types.StatusStopped, nil
	}
	return status, nil
}

func (s *store) SetStatus(ctx context.Context, status types.Status) error {
	return s.set(ctx, keyStatus, status)
}

func (s *store) GetRanks(ctx context.Context) ([]int, error) {
	var ranks []int
	_, err := s.get(ctx, keyRanks, &ranks)
	return ranks, err
}

func (s *store) SetRanks(ctx context.Context, ranks []int) error {
	if ranks == nil {
		ranks = []int{}
	}
	return s.set(ctx, keyRanks, ranks)
}

package prices

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/jingfee/sungrow-scheduler/pkg/common"
	"github.com/jingfee/sungrow-scheduler/pkg/log"
	"github.com/jingfee/sungrow-scheduler/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// Elpriset implements Source using the elprisetjustnu.se day-ahead API.
type Elpriset struct {
	apiURL string
	area   string
	client *http.Client

	mu    sync.Mutex
	cache map[string][]types.Price
}

// configuredElpriset sets up flags for Elpriset and returns the instance.
func configuredElpriset() *Elpriset {
	e := &Elpriset{
		client: common.HTTPClient(10 * time.Second),
		cache:  make(map[string][]types.Price),
	}
	apiURL := lflag.String("elpriset-api-url", "https://www.elprisetjustnu.se/api/v1/prices", "URL for the elprisetjustnu.se price API")
	area := lflag.String("price-area", "SE3", "Price area to fetch (SE1-SE4)")

	lflag.Do(func() {
		e.apiURL = *apiURL
		e.area = *area
	})

	return e
}

// Validate ensures the configuration is valid.
func (e *Elpriset) Validate() error {
	if e.apiURL == "" {
		return fmt.Errorf("elpriset-api-url is required")
	}
	if _, err := url.Parse(e.apiURL); err != nil {
		return fmt.Errorf("failed to parse elpriset url (%s): %w", e.apiURL, err)
	}
	switch e.area {
	case "SE1", "SE2", "SE3", "SE4":
	default:
		return fmt.Errorf("invalid price area: %s", e.area)
	}
	return nil
}

type elprisetEntry struct {
	SEKPerKWH float64   `json:"SEK_per_kWh"`
	TimeStart time.Time `json:"time_start"`
	TimeEnd   time.Time `json:"time_end"`
}

// FetchDay returns the published prices for day. Day-ahead prices never
// change once published so successful responses are cached.
func (e *Elpriset) FetchDay(ctx context.Context, day time.Time) ([]types.Price, error) {
	day = day.In(common.Stockholm)
	key := day.Format(time.DateOnly)

	e.mu.Lock()
	if cached, ok := e.cache[key]; ok {
		e.mu.Unlock()
		return cached, nil
	}
	e.mu.Unlock()

	u, err := url.JoinPath(e.apiURL, day.Format("2006"), fmt.Sprintf("%s_%s.json", day.Format("01-02"), e.area))
	if err != nil {
		return nil, fmt.Errorf("invalid api url: %w", err)
	}

	log.Ctx(ctx).DebugContext(ctx, "fetching prices from elpriset", slog.String("url", u))
	var data []elprisetEntry
	if err := common.GetJSON(ctx, e.client, u, nil, &data); err != nil {
		return nil, fmt.Errorf("elpriset prices for %s: %w", key, err)
	}

	prices := make([]types.Price, 0, len(data))
	for _, item := range data {
		if item.TimeStart.IsZero() {
			log.Ctx(ctx).WarnContext(ctx, "skipping elpriset entry without time_start")
			continue
		}
		prices = append(prices, types.Price{
			Provider:   "elpriset_" + e.area,
			TSStart:    item.TimeStart.In(common.Stockholm),
			TSEnd:      item.TimeEnd.In(common.Stockholm),
			CostPerKWH: item.SEKPerKWH,
		})
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"fetched prices",
		slog.String("day", key),
		slog.Int("count", len(prices)),
	)

	if len(prices) > 0 {
		e.mu.Lock()
		e.cache[key] = prices
		e.mu.Unlock()
	}
	return prices, nil
}

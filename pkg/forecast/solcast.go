package forecast

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/jingfee/sungrow-scheduler/pkg/common"
	"github.com/jingfee/sungrow-scheduler/pkg/log"
	"github.com/jingfee/sungrow-scheduler/pkg/types"
	"github.com/levenlabs/go-lflag"
	"github.com/sosodev/duration"
)

// Solcast implements Source for a Solcast rooftop site.
type Solcast struct {
	apiURL string
	siteID string
	apiKey string
	client *http.Client
}

func configuredSolcast() *Solcast {
	s := &Solcast{
		client: common.HTTPClient(15 * time.Second),
	}
	apiURL := lflag.String("solcast-api-url", "https://api.solcast.com.au", "URL for the Solcast API")
	siteID := lflag.String("solcast-site-id", "", "Solcast rooftop site resource id")
	apiKey := lflag.String("solcast-api-key", os.Getenv("SOLCAST_API_KEY"), "Solcast API key")

	lflag.Do(func() {
		s.apiURL = *apiURL
		s.siteID = *siteID
		s.apiKey = *apiKey
	})

	return s
}

// Enabled returns true if the source has a site and a key to query with.
func (s *Solcast) Enabled() bool {
	return s.siteID != "" && s.apiKey != ""
}

type solcastResponse struct {
	Forecasts []struct {
		PVEstimate float64   `json:"pv_estimate"`
		PeriodEnd  time.Time `json:"period_end"`
		Period     string    `json:"period"`
	} `json:"forecasts"`
}

// Fetch returns the forecast periods published for the site.
func (s *Solcast) Fetch(ctx context.Context) ([]types.ForecastPeriod, error) {
	u, err := url.JoinPath(s.apiURL, "rooftop_sites", s.siteID, "forecasts")
	if err != nil {
		return nil, fmt.Errorf("invalid api url: %w", err)
	}
	u += "?format=json"

	var data solcastResponse
	header := http.Header{"Authorization": []string{"Bearer " + s.apiKey}}
	if err := common.GetJSON(ctx, s.client, u, header, &data); err != nil {
		return nil, fmt.Errorf("solcast forecast: %w", err)
	}

	periods := make([]types.ForecastPeriod, 0, len(data.Forecasts))
	for _, f := range data.Forecasts {
		length, err := parsePeriod(f.Period)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "invalid solcast period, assuming 30m", slog.String("period", f.Period), slog.Any("error", err))
			length = 30 * time.Minute
		}
		periods = append(periods, types.ForecastPeriod{
			TSStart: f.PeriodEnd.Add(-length),
			TSEnd:   f.PeriodEnd,
			KW:      f.PVEstimate,
		})
	}
	log.Ctx(ctx).DebugContext(ctx, "fetched solcast forecast", slog.Int("count", len(periods)))
	return periods, nil
}

// parsePeriod parses the ISO-8601 duration of a Solcast period. An empty
// period is the default 30 minutes.
func parsePeriod(p string) (time.Duration, error) {
	if p == "" {
		return 30 * time.Minute, nil
	}
	d, err := duration.Parse(p)
	if err != nil {
		return 0, fmt.Errorf("invalid period %q: %w", p, err)
	}
	length := d.ToTimeDuration()
	if length <= 0 {
		return 0, fmt.Errorf("non-positive period: %s", p)
	}
	return length, nil
}

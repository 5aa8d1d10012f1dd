package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/communitysafe/alerthub/internal/models"
)

// Timeframe selects one of the USGS summary feeds.
type Timeframe string

const (
	TimeframeHour  Timeframe = "hour"
	TimeframeDay   Timeframe = "day"
	TimeframeWeek  Timeframe = "week"
	TimeframeMonth Timeframe = "month"
)

func ParseTimeframe(s string) (Timeframe, error) {
	switch Timeframe(s) {
	case TimeframeHour, TimeframeDay, TimeframeWeek, TimeframeMonth:
		return Timeframe(s), nil
	default:
		return "", fmt.Errorf("unknown timeframe: %q", s)
	}
}

// QuakeQuery narrows a USGS fetch beyond the adapter defaults.
type QuakeQuery struct {
	Timeframe    Timeframe
	MinMagnitude float64
}

// USGSAdapter fetches the USGS earthquake summary GeoJSON feed. It is a
// global feed and ignores the caller's location.
type USGSAdapter struct {
	baseURL      string
	minMagnitude float64
	client       *http.Client
}

func NewUSGSAdapter(baseURL string, minMagnitude float64, client *http.Client) *USGSAdapter {
	return &USGSAdapter{
		baseURL:      baseURL,
		minMagnitude: minMagnitude,
		client:       client,
	}
}

func (a *USGSAdapter) Name() models.Source    { return models.SourceEarthquake }
func (a *USGSAdapter) RequiresLocation() bool { return false }

func (a *USGSAdapter) Fetch(ctx context.Context, _ *models.Coordinates) ([]models.Alert, error) {
	return a.FetchQuakes(ctx, QuakeQuery{Timeframe: TimeframeDay, MinMagnitude: a.minMagnitude})
}

// FetchQuakes fetches one summary feed. Features with a null magnitude are
// skipped rather than treated as magnitude 0.
func (a *USGSAdapter) FetchQuakes(ctx context.Context, q QuakeQuery) ([]models.Alert, error) {
	if q.Timeframe == "" {
		q.Timeframe = TimeframeDay
	}
	url := fmt.Sprintf("%s/all_%s.geojson", a.baseURL, q.Timeframe)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error while doing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d - status: %s", resp.StatusCode, resp.Status)
	}

	var data usgsResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("error decoding resp.Body: %w", err)
	}

	alerts := make([]models.Alert, 0, len(data.Features))
	for _, f := range data.Features {
		if f.Properties.Mag == nil || *f.Properties.Mag < q.MinMagnitude {
			continue
		}
		if len(f.Geometry.Coordinates) < 3 {
			continue
		}
		mag := *f.Properties.Mag

		details := &models.EarthquakeDetails{
			Magnitude: mag,
			DepthKM:   f.Geometry.Coordinates[2],
			Location:  f.Properties.Place,
			Coordinates: models.Coordinates{
				Longitude: f.Geometry.Coordinates[0],
				Latitude:  f.Geometry.Coordinates[1],
			},
			Tsunami:      f.Properties.Tsunami == 1,
			FeltReports:  f.Properties.Felt,
			Significance: f.Properties.Sig,
		}

		alerts = append(alerts, models.Alert{
			ID:          "usgs_" + f.ID,
			Source:      models.SourceEarthquake,
			Severity:    magnitudeSeverity(mag),
			Title:       f.Properties.Title,
			Description: f.Properties.Place,
			Timestamp:   time.UnixMilli(f.Properties.Time),
			Earthquake:  details,
		})
	}

	return alerts, nil
}

// magnitudeSeverity maps the Richter scale onto the shared severity enum.
func magnitudeSeverity(mag float64) models.Severity {
	switch {
	case mag >= 8.0:
		return models.SeverityExtreme
	case mag >= 7.0:
		return models.SeveritySevere
	case mag >= 6.0:
		return models.SeverityHigh
	case mag >= 5.0:
		return models.SeverityModerate
	case mag >= 4.0:
		return models.SeverityLow
	default:
		return models.SeverityInfo
	}
}

type usgsResponse struct {
	Features []usgsFeature `json:"features"`
}

type usgsFeature struct {
	ID         string         `json:"id"`
	Properties usgsProperties `json:"properties"`
	Geometry   usgsGeometry   `json:"geometry"`
}

type usgsProperties struct {
	Mag     *float64 `json:"mag"` // null for some events; never default to 0
	Place   string   `json:"place"`
	Time    int64    `json:"time"` // unix millis
	Title   string   `json:"title"`
	Tsunami int      `json:"tsunami"` // 0 or 1
	Felt    *int     `json:"felt"`
	Sig     *int     `json:"sig"`
}

type usgsGeometry struct {
	Coordinates []float64 `json:"coordinates"` // [lon, lat, depth]
}

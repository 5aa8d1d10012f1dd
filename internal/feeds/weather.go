package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/communitysafe/alerthub/internal/models"
)

// WeatherAdapter fetches active CAP alerts for a point from the NWS alert
// API. It is location-scoped: without coordinates there is nothing to fetch.
type WeatherAdapter struct {
	url    string
	client *http.Client
}

func NewWeatherAdapter(url string, client *http.Client) *WeatherAdapter {
	return &WeatherAdapter{
		url:    url,
		client: client,
	}
}

func (a *WeatherAdapter) Name() models.Source    { return models.SourceWeather }
func (a *WeatherAdapter) RequiresLocation() bool { return true }

func (a *WeatherAdapter) Fetch(ctx context.Context, loc *models.Coordinates) ([]models.Alert, error) {
	if loc == nil {
		return nil, fmt.Errorf("weather adapter requires a location")
	}

	url := fmt.Sprintf("%s?point=%.4f,%.4f", a.url, loc.Latitude, loc.Longitude)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error while doing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d - status: %s", resp.StatusCode, resp.Status)
	}

	var data nwsResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("error decoding resp.Body: %w", err)
	}

	alerts := make([]models.Alert, 0, len(data.Features))
	for _, f := range data.Features {
		p := f.Properties

		timestamp, err := parseNWSTime(p.Effective, p.Onset, p.Sent)
		if err != nil {
			slog.Warn("weather alert timestamp parsing failed", "id", f.ID, "error", err.Error())
			continue
		}

		alert := models.Alert{
			ID:          "nws_" + f.ID,
			Source:      models.SourceWeather,
			Severity:    capSeverity(p.Severity),
			Title:       firstNonEmpty(p.Headline, p.Event),
			Description: p.Description,
			Timestamp:   timestamp,
			Weather: &models.WeatherDetails{
				WeatherType: p.Event,
				Coordinates: loc,
			},
		}

		if p.Expires != "" {
			if exp, err := time.Parse(time.RFC3339, p.Expires); err == nil {
				alert.ExpiresAt = &exp
			}
		}
		if p.AreaDesc != "" {
			alert.AffectedAreas = strings.Split(p.AreaDesc, "; ")
		}

		alerts = append(alerts, alert)
	}

	return alerts, nil
}

// capSeverity maps CAP severity classes onto the shared enum.
func capSeverity(s string) models.Severity {
	switch strings.ToLower(s) {
	case "extreme":
		return models.SeverityExtreme
	case "severe":
		return models.SeveritySevere
	case "moderate":
		return models.SeverityModerate
	case "minor":
		return models.SeverityLow
	default:
		return models.SeverityInfo
	}
}

func parseNWSTime(candidates ...string) (time.Time, error) {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, c); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("no parsable timestamp in %v", candidates)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

type nwsResponse struct {
	Features []nwsFeature `json:"features"`
}

type nwsFeature struct {
	ID         string        `json:"id"`
	Properties nwsProperties `json:"properties"`
}

type nwsProperties struct {
	Event       string `json:"event"`
	Headline    string `json:"headline"`
	Description string `json:"description"`
	Severity    string `json:"severity"` // Extreme, Severe, Moderate, Minor, Unknown
	AreaDesc    string `json:"areaDesc"`
	Effective   string `json:"effective"`
	Onset       string `json:"onset"`
	Sent        string `json:"sent"`
	Expires     string `json:"expires"`
}

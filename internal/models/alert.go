package models

import (
	"fmt"
	"strings"
	"time"
)

// Source discriminates the Alert union. Every alert carries exactly one of
// the matching detail payloads.
type Source string

const (
	SourceWeather    Source = "weather"
	SourceEarthquake Source = "earthquake"
	SourceAdmin      Source = "admin"
)

// Sources lists every valid source value.
var Sources = []Source{SourceWeather, SourceEarthquake, SourceAdmin}

func ParseSource(s string) (Source, error) {
	switch Source(strings.ToLower(s)) {
	case SourceWeather:
		return SourceWeather, nil
	case SourceEarthquake:
		return SourceEarthquake, nil
	case SourceAdmin:
		return SourceAdmin, nil
	default:
		return "", fmt.Errorf("unknown alert source: %q", s)
	}
}

// Severity is the ordered urgency classification shared across all sources.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
	SeveritySevere   Severity = "severe"
	SeverityExtreme  Severity = "extreme"
)

// Severities lists every valid severity, lowest first.
var Severities = []Severity{
	SeverityInfo,
	SeverityLow,
	SeverityModerate,
	SeverityHigh,
	SeveritySevere,
	SeverityExtreme,
}

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityModerate: 2,
	SeverityHigh:     3,
	SeveritySevere:   4,
	SeverityExtreme:  5,
}

// Rank returns the ordinal position of s, or -1 for an unknown value.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

func (s Severity) Valid() bool { return s.Rank() >= 0 }

func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(s))
	if !sev.Valid() {
		return "", fmt.Errorf("unknown severity: %q", s)
	}
	return sev, nil
}

// Priority classifies admin-authored alerts.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Alert is the normalized shape every feed adapter and the community alert
// store produce. The Source field selects which detail payload is set.
type Alert struct {
	ID            string     `json:"id"`
	Source        Source     `json:"source"`
	Severity      Severity   `json:"severity"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Timestamp     time.Time  `json:"timestamp"` // event time, not fetch time
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	AffectedAreas []string   `json:"affectedAreas,omitempty"`
	IsRead        bool       `json:"isRead"`

	Weather    *WeatherDetails    `json:"weather,omitempty"`
	Earthquake *EarthquakeDetails `json:"earthquake,omitempty"`
	Admin      *AdminDetails      `json:"admin,omitempty"`
}

type WeatherDetails struct {
	WeatherType   string       `json:"weatherType"`
	Temperature   *float64     `json:"temperature,omitempty"`
	WindSpeed     *float64     `json:"windSpeed,omitempty"`
	Precipitation *float64     `json:"precipitation,omitempty"`
	Humidity      *float64     `json:"humidity,omitempty"`
	Coordinates   *Coordinates `json:"coordinates,omitempty"`
}

type EarthquakeDetails struct {
	Magnitude    float64     `json:"magnitude"`
	DepthKM      float64     `json:"depthKm"`
	Location     string      `json:"location"`
	Coordinates  Coordinates `json:"coordinates"`
	Tsunami      bool        `json:"tsunami,omitempty"`
	FeltReports  *int        `json:"feltReports,omitempty"`
	Significance *int        `json:"significance,omitempty"`
}

type AdminDetails struct {
	AdminName   string   `json:"adminName"`
	AdminEmail  string   `json:"adminEmail"`
	TargetUsers []string `json:"targetUsers,omitempty"`
	TargetAreas []string `json:"targetAreas,omitempty"`
	Priority    Priority `json:"priority"`
}

// Expired reports whether the alert's expiry, if any, has passed at now.
// Admin alerts expire only by their server-authored ExpiresAt; the processor
// never ages them out.
func (a *Alert) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && a.ExpiresAt.Before(now)
}

// Validate checks the union invariants: a known severity, a known source,
// and the detail payload matching the source (earthquakes must carry
// coordinates by construction of EarthquakeDetails).
func (a *Alert) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("alert missing id")
	}
	if !a.Severity.Valid() {
		return fmt.Errorf("alert %s: invalid severity %q", a.ID, a.Severity)
	}
	switch a.Source {
	case SourceWeather:
		if a.Weather == nil {
			return fmt.Errorf("alert %s: weather source without weather details", a.ID)
		}
	case SourceEarthquake:
		if a.Earthquake == nil {
			return fmt.Errorf("alert %s: earthquake source without earthquake details", a.ID)
		}
	case SourceAdmin:
		if a.Admin == nil {
			return fmt.Errorf("alert %s: admin source without admin details", a.ID)
		}
	default:
		return fmt.Errorf("alert %s: unknown source %q", a.ID, a.Source)
	}
	return nil
}

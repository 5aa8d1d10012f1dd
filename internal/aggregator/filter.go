package aggregator

import (
	"fmt"
	"strings"
	"time"

	"github.com/communitysafe/alerthub/internal/models"
)

// ValidationError marks caller input errors so the API layer can map them to
// a 400 instead of a 500.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// Filter selects a slice of the cached alerts. Zero-value fields are
// ignored; set fields are combined with AND.
type Filter struct {
	Sources    []models.Source
	Severities []models.Severity
	Since      *time.Time
	Until      *time.Time
	Read       *bool
	// Area matches case-insensitively as a substring of any affected area.
	Area string
}

func (f *Filter) Validate() error {
	for _, s := range f.Sources {
		if _, err := models.ParseSource(string(s)); err != nil {
			return validationErrorf("filter: %v", err)
		}
	}
	for _, s := range f.Severities {
		if !s.Valid() {
			return validationErrorf("filter: unknown severity: %q", s)
		}
	}
	if f.Since != nil && f.Until != nil && f.Until.Before(*f.Since) {
		return validationErrorf("filter: date range ends before it starts")
	}
	return nil
}

func (f *Filter) matches(a *models.Alert) bool {
	if len(f.Sources) > 0 && !containsSource(f.Sources, a.Source) {
		return false
	}
	if len(f.Severities) > 0 && !containsSeverity(f.Severities, a.Severity) {
		return false
	}
	if f.Since != nil && a.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && a.Timestamp.After(*f.Until) {
		return false
	}
	if f.Read != nil && a.IsRead != *f.Read {
		return false
	}
	if f.Area != "" && !matchesArea(a, f.Area) {
		return false
	}
	return true
}

func matchesArea(a *models.Alert, area string) bool {
	needle := strings.ToLower(area)
	for _, aa := range a.AffectedAreas {
		if strings.Contains(strings.ToLower(aa), needle) {
			return true
		}
	}
	return false
}

func containsSource(haystack []models.Source, s models.Source) bool {
	for _, h := range haystack {
		if h == s {
			return true
		}
	}
	return false
}

func containsSeverity(haystack []models.Severity, s models.Severity) bool {
	for _, h := range haystack {
		if h == s {
			return true
		}
	}
	return false
}

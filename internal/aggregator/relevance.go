package aggregator

import (
	"strings"

	"github.com/communitysafe/alerthub/internal/models"
)

// shortLocationMax bounds the reverse match: only compact alert location
// strings (a place name, not a full sentence) are searched for inside the
// user's location string.
const shortLocationMax = 32

// Relevant reports whether an alert is associated with a user's location
// string. The association is a case-insensitive substring heuristic over the
// alert's textual fields, or the reverse for short alert locations. It can
// both over- and under-match; it is not geofencing.
func Relevant(a *models.Alert, location string) bool {
	loc := strings.ToLower(strings.TrimSpace(location))
	if loc == "" {
		return false
	}

	fields := []string{a.Title, a.Description}
	if a.Earthquake != nil {
		fields = append(fields, a.Earthquake.Location)
	}
	fields = append(fields, a.AffectedAreas...)
	if a.Admin != nil {
		fields = append(fields, a.Admin.TargetAreas...)
	}

	for _, f := range fields {
		fl := strings.ToLower(f)
		if fl == "" {
			continue
		}
		if strings.Contains(fl, loc) {
			return true
		}
		if len(fl) <= shortLocationMax && strings.Contains(loc, fl) {
			return true
		}
	}
	return false
}

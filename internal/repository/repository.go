package repository

import (
	"context"
	"time"

	"github.com/communitysafe/alerthub/internal/models"
)

// CommunityAlertRepository persists operator-authored alerts. Feed alerts
// are never stored; they live only in the aggregator cache.
type CommunityAlertRepository interface {
	Add(ctx context.Context, a *models.Alert) error
	GetByID(ctx context.Context, id string) (*models.Alert, error)
	// ListActive returns alerts that have not expired at the given instant,
	// newest first. Alerts without an expiry are always active.
	ListActive(ctx context.Context, now time.Time) ([]models.Alert, error)
	// List returns every stored alert, newest first, including expired ones.
	List(ctx context.Context) ([]models.Alert, error)
}

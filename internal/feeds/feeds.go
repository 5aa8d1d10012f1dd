package feeds

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/communitysafe/alerthub/internal/models"
)

// Adapter translates one external feed into normalized alerts. Adapters
// return errors upward; the aggregator isolates a failing feed so it cannot
// block the others.
type Adapter interface {
	Name() models.Source
	// RequiresLocation reports whether Fetch needs coordinates. The
	// aggregator skips location-scoped adapters when no location is given.
	RequiresLocation() bool
	Fetch(ctx context.Context, loc *models.Coordinates) ([]models.Alert, error)
}

// NewHTTPClient builds the retrying HTTP client shared by all adapters.
// Every request carries an explicit timeout so a stalled feed cannot hang a
// refresh cycle.
func NewHTTPClient(timeout time.Duration, retries int) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = retries
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = timeout
	rc.Logger = nil // adapters log failures themselves
	return rc.StandardClient()
}

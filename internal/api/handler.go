package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/communitysafe/alerthub/internal/aggregator"
	"github.com/communitysafe/alerthub/internal/feeds"
	"github.com/communitysafe/alerthub/internal/models"
	"github.com/communitysafe/alerthub/internal/repository"
)

type Handler struct {
	agg       *aggregator.Aggregator
	usgs      *feeds.USGSAdapter
	weather   *feeds.WeatherAdapter
	repo      repository.CommunityAlertRepository
	jwtSecret string
}

func NewHandler(agg *aggregator.Aggregator, usgs *feeds.USGSAdapter, weather *feeds.WeatherAdapter, repo repository.CommunityAlertRepository, jwtSecret string) *Handler {
	return &Handler{
		agg:       agg,
		usgs:      usgs,
		weather:   weather,
		repo:      repo,
		jwtSecret: jwtSecret,
	}
}

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("alertseverity", func(fl validator.FieldLevel) bool {
			_, err := models.ParseSeverity(fl.Field().String())
			return err == nil
		})
		v.RegisterValidation("alertpriority", func(fl validator.FieldLevel) bool {
			return models.Priority(fl.Field().String()).Valid()
		})
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/api/alerts", h.getAlerts)
	r.GET("/api/alerts/earthquakes", h.getEarthquakes)
	r.GET("/api/alerts/weather", h.getWeather)
	r.GET("/api/alerts/community", h.getCommunityAlerts)
	r.POST("/api/alerts/community", RequireAdmin(h.jwtSecret), h.createCommunityAlert)
	r.POST("/api/alerts/read/:id", h.markRead)
	r.POST("/api/alerts/read", h.markAllRead)
	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// getAlerts returns the combined, deduplicated feed. lat/lon are optional;
// when present the weather feed is activated for that point.
func (h *Handler) getAlerts(c *gin.Context) {
	loc, err := optionalLocation(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	// A fresh cache answers location-less reads directly. A location always
	// fetches so the point-scoped weather feed runs for it.
	var alerts []models.Alert
	if loc == nil && !h.agg.Stale() {
		alerts = h.agg.Snapshot()
	} else {
		alerts, err = h.agg.FetchAll(c.Request.Context(), loc, nil)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error":   "failed to fetch alerts",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"data":       alerts,
		"count":      len(alerts),
		"statistics": h.agg.Statistics(),
	})
}

func (h *Handler) getEarthquakes(c *gin.Context) {
	query := feeds.QuakeQuery{Timeframe: feeds.TimeframeDay}

	if tf := c.Query("timeframe"); tf != "" {
		parsed, err := feeds.ParseTimeframe(tf)
		if err != nil {
			badRequest(c, err)
			return
		}
		query.Timeframe = parsed
	}
	if m := c.Query("min_magnitude"); m != "" {
		mag, err := strconv.ParseFloat(m, 64)
		if err != nil {
			badRequest(c, errors.New("min_magnitude must be a number"))
			return
		}
		query.MinMagnitude = mag
	}

	center, err := optionalLocation(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	var radiusKM float64
	if r := c.Query("radius_km"); r != "" {
		if center == nil {
			badRequest(c, errors.New("radius_km requires lat and lon"))
			return
		}
		radiusKM, err = strconv.ParseFloat(r, 64)
		if err != nil || radiusKM <= 0 {
			badRequest(c, errors.New("radius_km must be a positive number"))
			return
		}
	} else if center != nil {
		badRequest(c, errors.New("lat and lon require radius_km"))
		return
	}

	alerts, err := h.usgs.FetchQuakes(c.Request.Context(), query)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"error":   "failed to fetch earthquake feed",
		})
		return
	}

	params := gin.H{
		"timeframe":     query.Timeframe,
		"min_magnitude": query.MinMagnitude,
	}
	if center != nil && radiusKM > 0 {
		alerts = withinRadius(alerts, *center, radiusKM)
		params["lat"] = center.Latitude
		params["lon"] = center.Longitude
		params["radius_km"] = radiusKM
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    alerts,
		"count":   len(alerts),
		"params":  params,
	})
}

func (h *Handler) getWeather(c *gin.Context) {
	loc, err := optionalLocation(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	if loc == nil {
		badRequest(c, errors.New("lat and lon are required"))
		return
	}

	alerts, err := h.weather.Fetch(c.Request.Context(), loc)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"error":   "failed to fetch weather alerts",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"data":     alerts,
		"count":    len(alerts),
		"location": loc,
	})
}

func (h *Handler) getCommunityAlerts(c *gin.Context) {
	alerts, err := h.repo.ListActive(c.Request.Context(), time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "failed to load community alerts",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    alerts,
		"count":   len(alerts),
	})
}

type createCommunityAlertRequest struct {
	Severity      string     `json:"severity" binding:"required,alertseverity"`
	Title         string     `json:"title" binding:"required"`
	Description   string     `json:"description" binding:"required"`
	ExpiresAt     *time.Time `json:"expiresAt"`
	AffectedAreas []string   `json:"affectedAreas"`
	Priority      string     `json:"priority" binding:"omitempty,alertpriority"`
	TargetUsers   []string   `json:"targetUsers"`
	TargetAreas   []string   `json:"targetAreas"`
}

func (h *Handler) createCommunityAlert(c *gin.Context) {
	var req createCommunityAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	claims := c.MustGet(claimsKey).(*Claims)

	priority := models.Priority(req.Priority)
	if req.Priority == "" {
		priority = models.PriorityMedium
	}
	severity, _ := models.ParseSeverity(req.Severity)

	alert := &models.Alert{
		ID:            "admin_" + uuid.NewString(),
		Source:        models.SourceAdmin,
		Severity:      severity,
		Title:         req.Title,
		Description:   req.Description,
		Timestamp:     time.Now().UTC(),
		ExpiresAt:     req.ExpiresAt,
		AffectedAreas: req.AffectedAreas,
		Admin: &models.AdminDetails{
			AdminName:   claims.Name,
			AdminEmail:  claims.Email,
			TargetUsers: req.TargetUsers,
			TargetAreas: req.TargetAreas,
			Priority:    priority,
		},
	}

	if err := h.repo.Add(c.Request.Context(), alert); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "failed to store community alert",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    alert,
	})
}

func (h *Handler) markRead(c *gin.Context) {
	updated := h.agg.MarkRead(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"updated": updated,
		"unread":  h.agg.UnreadCount(),
	})
}

func (h *Handler) markAllRead(c *gin.Context) {
	updated := h.agg.MarkAllRead()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"updated": updated,
		"unread":  h.agg.UnreadCount(),
	})
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// optionalLocation parses lat/lon. Both present yields coordinates, both
// absent yields nil, one without the other is an error.
func optionalLocation(c *gin.Context) (*models.Coordinates, error) {
	latStr, lonStr := c.Query("lat"), c.Query("lon")
	if latStr == "" && lonStr == "" {
		return nil, nil
	}
	if latStr == "" || lonStr == "" {
		return nil, errors.New("lat and lon must be supplied together")
	}

	// Negated range checks so NaN fails them too.
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil || !(lat >= -90 && lat <= 90) {
		return nil, errors.New("lat must be a number between -90 and 90")
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil || !(lon >= -180 && lon <= 180) {
		return nil, errors.New("lon must be a number between -180 and 180")
	}

	return &models.Coordinates{Latitude: lat, Longitude: lon}, nil
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   err.Error(),
	})
}

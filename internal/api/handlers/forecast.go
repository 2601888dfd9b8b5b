package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/sts/internal/dashboard"
	"github.com/irfndi/sts/internal/logging"
	"github.com/irfndi/sts/internal/middleware"
	"github.com/irfndi/sts/internal/utils"
)

// DateLayout is the accepted format of the start and end query parameters.
const DateLayout = time.DateOnly

// ForecastDashboard is the read side of the forecast explorer.
type ForecastDashboard interface {
	Range(ctx context.Context) (*dashboard.Range, error)
	MeanLine(ctx context.Context, q dashboard.MeanQuery) (*dashboard.MeanLine, error)
	Exceedance(ctx context.Context, q dashboard.ExceedanceQuery) (*dashboard.Exceedance, error)
}

// ForecastHandler serves the forecast explorer endpoints
type ForecastHandler struct {
	dashboard ForecastDashboard
	logger    *logging.StandardLogger
}

// NewForecastHandler creates a new forecast handler. Server-side failures are
// logged through logger.
func NewForecastHandler(d ForecastDashboard, logger *logging.StandardLogger) *ForecastHandler {
	return &ForecastHandler{dashboard: d, logger: logger}
}

// GetRange returns the first and last forecast timestamp and the sample count.
func (h *ForecastHandler) GetRange(c *gin.Context) {
	r, err := h.dashboard.Range(c.Request.Context())
	if err != nil {
		h.respondError(c, "range", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    r,
	})
}

// GetMean returns the mean forecast line.
// Query: start, end (YYYY-MM-DD, end inclusive), samples, rolling.
func (h *ForecastHandler) GetMean(c *gin.Context) {
	ctx := c.Request.Context()
	start, end, err := h.dateRange(c)
	if err != nil {
		h.respondError(c, "mean", err)
		return
	}
	show, err := intQuery(c, "samples", dashboard.DefaultShowSamples)
	if err != nil {
		h.respondError(c, "mean", err)
		return
	}
	rolling, err := intQuery(c, "rolling", 0)
	if err != nil {
		h.respondError(c, "mean", err)
		return
	}

	line, err := h.dashboard.MeanLine(ctx, dashboard.MeanQuery{
		Start:        start,
		End:          end,
		ShowSamples:  show,
		RollingHours: rolling,
	})
	if err != nil {
		h.respondError(c, "mean", err)
		return
	}
	middleware.AddSpanAttribute(c, "forecast.points", len(line.Mean))

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    line,
	})
}

// GetExceedance returns the probability that aggregate demand over the range
// is strictly above threshold, with the histogram of the aggregates.
// Query: start, end, threshold (required), bins, aggregate (sum|max).
func (h *ForecastHandler) GetExceedance(c *gin.Context) {
	ctx := c.Request.Context()
	start, end, err := h.dateRange(c)
	if err != nil {
		h.respondError(c, "exceedance", err)
		return
	}

	raw := c.Query("threshold")
	if raw == "" {
		h.respondError(c, "exceedance", utils.NewValidationError("threshold parameter is required"))
		return
	}
	threshold, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		h.respondError(c, "exceedance", utils.NewValidationErrorf("invalid threshold %q", raw))
		return
	}
	bins, err := intQuery(c, "bins", dashboard.DefaultBins)
	if err != nil {
		h.respondError(c, "exceedance", err)
		return
	}

	ex, err := h.dashboard.Exceedance(ctx, dashboard.ExceedanceQuery{
		Start:     start,
		End:       end,
		Threshold: threshold,
		Bins:      bins,
		Aggregate: c.DefaultQuery("aggregate", dashboard.AggregateSum),
	})
	if err != nil {
		h.respondError(c, "exceedance", err)
		return
	}
	middleware.AddSpanAttribute(c, "forecast.exceedance", ex.Probability)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    ex,
	})
}

// dateRange parses start and end. A missing bound falls back to the extent
// of the data; end covers its whole day.
func (h *ForecastHandler) dateRange(c *gin.Context) (time.Time, time.Time, error) {
	rawStart, rawEnd := c.Query("start"), c.Query("end")

	var start, end time.Time
	if rawStart == "" || rawEnd == "" {
		r, err := h.dashboard.Range(c.Request.Context())
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		start, end = r.Start, r.End
	}

	return overrideDates(rawStart, rawEnd, start, end)
}

// overrideDates replaces start and end with the non-empty query values.
// A parsed end covers its whole day.
func overrideDates(rawStart, rawEnd string, start, end time.Time) (time.Time, time.Time, error) {
	if rawStart != "" {
		d, err := time.Parse(DateLayout, rawStart)
		if err != nil {
			return time.Time{}, time.Time{}, utils.NewValidationErrorf("invalid start date %q, expected YYYY-MM-DD", rawStart)
		}
		start = d
	}
	if rawEnd != "" {
		d, err := time.Parse(DateLayout, rawEnd)
		if err != nil {
			return time.Time{}, time.Time{}, utils.NewValidationErrorf("invalid end date %q, expected YYYY-MM-DD", rawEnd)
		}
		end = d.Add(24*time.Hour - time.Nanosecond)
	}
	return start, end, nil
}

func intQuery(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, utils.NewValidationErrorf("invalid %s %q", key, raw)
	}
	return v, nil
}

func (h *ForecastHandler) respondError(c *gin.Context, operation string, err error) {
	status := http.StatusInternalServerError
	switch {
	case utils.IsValidationError(err):
		status = http.StatusBadRequest
	case errors.Is(err, dashboard.ErrDataUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		middleware.RecordError(c, err, "forecast request failed")
		h.logger.WithOperation(operation).Error("Forecast request failed", "error", err.Error(), "path", c.Request.URL.Path)
	}
	c.JSON(status, gin.H{
		"success": false,
		"error":   err.Error(),
	})
}

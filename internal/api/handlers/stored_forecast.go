package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/sts/internal/database"
	"github.com/irfndi/sts/internal/logging"
	"github.com/irfndi/sts/internal/middleware"
	"github.com/irfndi/sts/internal/models"
	"github.com/irfndi/sts/internal/utils"
)

// StoredForecastReader reads forecasts written by the batch run's database sink.
type StoredForecastReader interface {
	LatestRun(ctx context.Context, model string) (*database.ForecastRun, error)
	Forecast(ctx context.Context, model string, start, end time.Time) ([]models.ForecastRecord, error)
}

// StoredForecastHandler serves the forecast stored in Postgres.
type StoredForecastHandler struct {
	reader       StoredForecastReader
	defaultModel string
	logger       *logging.StandardLogger
}

// NewStoredForecastHandler creates a handler reading forecasts of defaultModel
// unless a request names another model.
func NewStoredForecastHandler(reader StoredForecastReader, defaultModel string, logger *logging.StandardLogger) *StoredForecastHandler {
	return &StoredForecastHandler{reader: reader, defaultModel: defaultModel, logger: logger}
}

// StoredForecast is the body of GetLatest.
type StoredForecast struct {
	Model   string                  `json:"model"`
	Run     *database.ForecastRun   `json:"run"`
	Records []models.ForecastRecord `json:"records"`
}

// GetLatest returns the latest stored run of a model and its rows.
// Query: model, start, end (YYYY-MM-DD, end inclusive). Missing bounds default
// to the extent of the run.
func (h *StoredForecastHandler) GetLatest(c *gin.Context) {
	ctx := c.Request.Context()
	model := c.DefaultQuery("model", h.defaultModel)

	run, err := h.reader.LatestRun(ctx, model)
	if err != nil {
		h.respondError(c, err)
		return
	}

	start, end, err := overrideDates(c.Query("start"), c.Query("end"), run.FirstDS, run.LastDS)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if end.Before(start) {
		h.respondError(c, utils.NewValidationErrorf("start %s is after end %s", start.Format(DateLayout), end.Format(DateLayout)))
		return
	}

	records, err := h.reader.Forecast(ctx, model, start, end)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if records == nil {
		records = []models.ForecastRecord{}
	}
	middleware.AddSpanAttribute(c, "forecast.stored_rows", len(records))

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": StoredForecast{
			Model:   model,
			Run:     run,
			Records: records,
		},
	})
}

func (h *StoredForecastHandler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case utils.IsValidationError(err):
		status = http.StatusBadRequest
	case errors.Is(err, database.ErrNoForecast):
		status = http.StatusNotFound
	}
	if status >= http.StatusInternalServerError {
		middleware.RecordError(c, err, "stored forecast request failed")
		h.logger.WithOperation("latest").Error("Stored forecast request failed", "error", err.Error())
	}
	c.JSON(status, gin.H{
		"success": false,
		"error":   err.Error(),
	})
}

package testmocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/irfndi/sts/internal/forecaster"
	"github.com/irfndi/sts/internal/models"
)

// MockEstimator implements forecaster.Estimator and forecaster.Sampler for testing
type MockEstimator struct {
	mock.Mock
}

func (m *MockEstimator) Fit(ctx context.Context, spec forecaster.ModelSpec, frame forecaster.Frame) (forecaster.Handle, error) {
	args := m.Called(ctx, spec, frame)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(forecaster.Handle), args.Error(1)
}

func (m *MockEstimator) Predict(ctx context.Context, h forecaster.Handle, frame forecaster.Frame) (*models.Forecast, error) {
	args := m.Called(ctx, h, frame)
	if fn, ok := args.Get(0).(func(context.Context, forecaster.Handle, forecaster.Frame) *models.Forecast); ok {
		return fn(ctx, h, frame), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Forecast), args.Error(1)
}

func (m *MockEstimator) Sample(ctx context.Context, h forecaster.Handle, frame forecaster.Frame, n int, seed uint64) (*models.SampleSet, error) {
	args := m.Called(ctx, h, frame, n, seed)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SampleSet), args.Error(1)
}

// StubHandle is a fixed forecaster.Handle.
type StubHandle struct {
	ModelName string
	History   []time.Time
	Columns   []string
}

func (h *StubHandle) Name() string                   { return h.ModelName }
func (h *StubHandle) HistoryTimestamps() []time.Time { return h.History }
func (h *StubHandle) Conditions() []string           { return h.Columns }

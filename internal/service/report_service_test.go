package service

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantale/polyarb/internal/domain"
)

func newReportFixture(t *testing.T) (*ReportService, *fakeRuns, *fakeGroups) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	runs := &fakeRuns{}
	groups := newFakeGroups(twoConditionGroup("g1"))
	return NewReportService(runs, groups, logger), runs, groups
}

func seedRun(t *testing.T, runs *fakeRuns, id string) domain.ProjectionRun {
	t.Helper()
	run := domain.ProjectionRun{
		ID:         id,
		GroupID:    "g1",
		Theta:      []float64{0.40, 0.70},
		Mu:         []float64{0.529, 0.529},
		Profit:     0.0821,
		Gap:        3.2e-6,
		Iterations: 41,
		Status:     domain.StatusConverged,
		Directions: []domain.TradeDirection{domain.DirectionBuy, domain.DirectionSell},
		CreatedAt:  time.Date(2026, 8, 20, 10, 30, 0, 0, time.UTC),
	}
	require.NoError(t, runs.Insert(context.Background(), run))
	return run
}

func TestReportService_GetRun(t *testing.T) {
	svc, runs, _ := newReportFixture(t)
	seedRun(t, runs, "run-1")

	run, err := svc.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "g1", run.GroupID)

	_, err = svc.GetRun(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReportService_PrintRecent(t *testing.T) {
	svc, runs, _ := newReportFixture(t)
	seedRun(t, runs, "run-1")

	var buf bytes.Buffer
	require.NoError(t, svc.PrintRecent(context.Background(), &buf, 10))
	out := buf.String()

	assert.Contains(t, out, "Group g1") // title resolved from the store
	assert.Contains(t, out, "converged")
	assert.Contains(t, out, "1B/1S")
	assert.Contains(t, out, "2026-08-20 10:30:00")
}

func TestReportService_PrintRecentEmpty(t *testing.T) {
	svc, _, _ := newReportFixture(t)

	var buf bytes.Buffer
	require.NoError(t, svc.PrintRecent(context.Background(), &buf, 10))
	assert.Contains(t, buf.String(), "no projection runs recorded")
}

func TestReportService_PrintRun(t *testing.T) {
	svc, runs, _ := newReportFixture(t)
	seedRun(t, runs, "run-1")

	var buf bytes.Buffer
	require.NoError(t, svc.PrintRun(context.Background(), &buf, "run-1"))
	out := buf.String()

	assert.Contains(t, out, "run run-1")
	assert.Contains(t, out, "0.4000")
	assert.Contains(t, out, "0.5290")
	assert.Contains(t, out, "BUY")
	assert.Contains(t, out, "SELL")
}

func TestSummarizeDirections(t *testing.T) {
	assert.Equal(t, "-", summarizeDirections(nil))
	assert.Equal(t, "hold", summarizeDirections([]domain.TradeDirection{
		domain.DirectionHold, domain.DirectionHold,
	}))
	assert.Equal(t, "2B/1S", summarizeDirections([]domain.TradeDirection{
		domain.DirectionBuy, domain.DirectionSell, domain.DirectionBuy,
	}))
}

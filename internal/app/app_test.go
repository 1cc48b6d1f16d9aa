package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gmsas95/medtrack/internal/clock"
	"github.com/gmsas95/medtrack/internal/config"
	"github.com/gmsas95/medtrack/internal/metrics"
	"github.com/gmsas95/medtrack/internal/reminders"
	"github.com/gmsas95/medtrack/internal/store"
	"github.com/gmsas95/medtrack/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("", t.TempDir())
	require.NoError(t, err)
	return cfg
}

func TestBuildWiresServices(t *testing.T) {
	tests := []struct {
		name         string
		dispatch     bool
		wantDispatch bool
	}{
		{name: "dispatch enabled", dispatch: true, wantDispatch: true},
		{name: "dispatch disabled", dispatch: false, wantDispatch: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Dispatch.Enabled = tt.dispatch

			app, err := build(cfg, storetest.New(t), zap.NewNop(), clock.Real{}, metrics.New(), "1.0.0")
			require.NoError(t, err)
			assert.Equal(t, "1.0.0", app.Version)
			assert.NotNil(t, app.Reminders)
			assert.NotNil(t, app.Screener)
			assert.NotNil(t, app.Jobs)
			assert.Equal(t, tt.wantDispatch, app.Dispatcher != nil)
			assert.NotEmpty(t, app.Leases.Owner())
			assert.NotNil(t, app.Server().App())
		})
	}
}

func TestBuildLoadsTableFile(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "table.yaml")
	require.NoError(t, os.WriteFile(path, []byte("latex:\n  - rubber glove\n"), 0644))
	cfg.Conflicts.TableFile = path

	app, err := build(cfg, storetest.New(t), zap.NewNop(), clock.Real{}, metrics.New(), "test")
	require.NoError(t, err)
	assert.Equal(t, 1, app.Screener.Table().Len())
}

func TestBuildRejectsBadTableFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Conflicts.TableFile = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := build(cfg, storetest.New(t), zap.NewNop(), clock.Real{}, metrics.New(), "test")
	assert.Error(t, err)
}

func TestEndToEndScheduleAndSweep(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 3, 4, 7, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)
	cfg := testConfig(t)
	st := storetest.New(t)

	app, err := build(cfg, st, zap.NewNop(), clk, metrics.New(), "test")
	require.NoError(t, err)

	user := &store.User{DisplayName: "Kai"}
	require.NoError(t, st.CreateUser(ctx, user))
	med := &store.Medication{UserID: user.ID, Name: "Levothyroxine", DosageAmount: 50, DosageUnit: "mcg", StartDate: start}
	require.NoError(t, st.CreateMedication(ctx, med))

	res, err := app.Reminders.CreateSchedule(ctx, reminders.ScheduleInput{
		MedicationID: med.ID,
		Frequency:    "once_daily",
		TimeOfDay:    "08:00",
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Reminders)

	// two days later, the first two reminders were never acknowledged
	clk.Set(start.Add(49 * time.Hour))
	result, err := app.Jobs.RunSweep(ctx)
	require.NoError(t, err)
	assert.True(t, result.Ran)
	assert.Equal(t, 2, result.Report.Missed)

	a, err := app.Tracker.ComputeAdherence(ctx, med.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), a.Missed)
	assert.Equal(t, 0.0, a.Rate)
	assert.Equal(t, "ok", a.Status())
}

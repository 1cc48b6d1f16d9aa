package reminders

import (
	"context"
	"testing"
	"time"

	"github.com/gmsas95/medtrack/internal/adherence"
	"github.com/gmsas95/medtrack/internal/clock"
	apperrors "github.com/gmsas95/medtrack/internal/errors"
	"github.com/gmsas95/medtrack/internal/metrics"
	"github.com/gmsas95/medtrack/internal/store"
	"github.com/gmsas95/medtrack/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Monday 2024-03-04 07:00 UTC
var monday = time.Date(2024, 3, 4, 7, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	tracker *adherence.Tracker
	store   *store.Store
	clock   *clock.Fake
	user    *store.User
	med     *store.Medication
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	st := storetest.New(t)
	clk := clock.NewFake(monday)
	m := metrics.New()
	logger := zap.NewNop()

	user := &store.User{DisplayName: "Lin"}
	require.NoError(t, st.CreateUser(ctx, user))
	med := &store.Medication{UserID: user.ID, Name: "Amlodipine", DosageAmount: 5, DosageUnit: "mg", StartDate: monday.AddDate(0, 0, -10)}
	require.NoError(t, st.CreateMedication(ctx, med))

	tracker := adherence.New(st, clk, m, logger)
	return &fixture{
		svc:     New(st, clk, tracker, m, logger, DefaultConfig()),
		tracker: tracker,
		store:   st,
		clock:   clk,
		user:    user,
		med:     med,
	}
}

func intPtr(v int) *int { return &v }

func (f *fixture) reminder(t *testing.T, at time.Time) *store.Reminder {
	t.Helper()
	r, err := f.svc.CreateReminder(context.Background(), ManualReminderInput{MedicationID: f.med.ID, ScheduledTime: at})
	require.NoError(t, err)
	return r
}

func (f *fixture) sent(t *testing.T, at time.Time) *store.Reminder {
	t.Helper()
	r := f.reminder(t, at)
	r, err := f.svc.Send(context.Background(), r.ID)
	require.NoError(t, err)
	return r
}

func TestCreateSchedule_DailyHorizon(t *testing.T) {
	f := setup(t)

	res, err := f.svc.CreateSchedule(context.Background(), ScheduleInput{
		MedicationID: f.med.ID,
		Frequency:    "once_daily",
		TimeOfDay:    "08:00",
	})
	require.NoError(t, err)

	require.Len(t, res.Reminders, 7)
	for i, r := range res.Reminders {
		want := time.Date(2024, 3, 4+i, 8, 0, 0, 0, time.UTC)
		assert.True(t, r.ScheduledTime.Equal(want), "reminder %d at %s", i, r.ScheduledTime)
		assert.Equal(t, store.ReminderScheduled, r.Status)
		require.NotNil(t, r.ScheduleID)
		assert.Equal(t, res.Schedule.ID, *r.ScheduleID)
		assert.Equal(t, "Time to take Amlodipine (5 mg)", r.Message)
	}

	count, err := f.store.CountReminders(context.Background(), res.Schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)
	require.NotNil(t, res.Schedule.MaterializedUntil)
	assert.True(t, res.Schedule.MaterializedUntil.Equal(monday.Add(7*24*time.Hour)))
}

func TestCreateSchedule_WeeklyDays(t *testing.T) {
	f := setup(t)

	res, err := f.svc.CreateSchedule(context.Background(), ScheduleInput{
		MedicationID: f.med.ID,
		Frequency:    "weekly",
		TimeOfDay:    "09:30",
		DaysOfWeek:   []int{1, 3, 5},
	})
	require.NoError(t, err)

	require.Len(t, res.Reminders, 3)
	want := []time.Weekday{time.Monday, time.Wednesday, time.Friday}
	for i, r := range res.Reminders {
		assert.Equal(t, want[i], r.ScheduledTime.Weekday())
		assert.Equal(t, 9, r.ScheduledTime.Hour())
		assert.Equal(t, 30, r.ScheduledTime.Minute())
	}
	assert.Equal(t, "1,3,5", res.Schedule.DaysOfWeek)
}

func TestCreateSchedule_MissingIntervalWritesNothing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.CreateSchedule(ctx, ScheduleInput{
		MedicationID: f.med.ID,
		Frequency:    "every_n_hours",
		TimeOfDay:    "06:00",
	})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	scheds, err := f.store.ListSchedules(ctx, f.med.ID)
	require.NoError(t, err)
	assert.Empty(t, scheds)
	all, err := f.svc.List(ctx, ListFilter{MedicationID: f.med.ID})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreateSchedule_Errors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	inactive := &store.Medication{UserID: f.user.ID, Name: "Old", StartDate: monday, Status: store.MedicationCompleted}
	require.NoError(t, f.store.CreateMedication(ctx, inactive))

	tests := []struct {
		name string
		in   ScheduleInput
		want error
	}{
		{"unknown medication", ScheduleInput{MedicationID: "nope", Frequency: "once_daily", TimeOfDay: "08:00"}, apperrors.ErrNotFound},
		{"inactive medication", ScheduleInput{MedicationID: inactive.ID, Frequency: "once_daily", TimeOfDay: "08:00"}, apperrors.ErrValidation},
		{"unknown frequency", ScheduleInput{MedicationID: f.med.ID, Frequency: "hourly", TimeOfDay: "08:00"}, apperrors.ErrValidation},
		{"bad time", ScheduleInput{MedicationID: f.med.ID, Frequency: "once_daily", TimeOfDay: "25:00"}, apperrors.ErrValidation},
		{"missing time", ScheduleInput{MedicationID: f.med.ID, Frequency: "once_daily"}, apperrors.ErrValidation},
		{"monthly day 32", ScheduleInput{MedicationID: f.med.ID, Frequency: "monthly", TimeOfDay: "08:00", MonthlyDay: intPtr(32)}, apperrors.ErrValidation},
		{"interval too long", ScheduleInput{MedicationID: f.med.ID, Frequency: "every_n_hours", TimeOfDay: "08:00", CustomFrequencyHours: intPtr(200)}, apperrors.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateSchedule(ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreateSchedule_ClipsToEndDate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	end := monday.Add(48 * time.Hour)
	med := &store.Medication{UserID: f.user.ID, Name: "Prednisone", StartDate: monday, EndDate: &end}
	require.NoError(t, f.store.CreateMedication(ctx, med))

	res, err := f.svc.CreateSchedule(ctx, ScheduleInput{MedicationID: med.ID, Frequency: "once_daily", TimeOfDay: "08:00"})
	require.NoError(t, err)
	assert.Len(t, res.Reminders, 2)
}

func TestCreateSchedule_AsNeededHasNoReminders(t *testing.T) {
	f := setup(t)

	res, err := f.svc.CreateSchedule(context.Background(), ScheduleInput{MedicationID: f.med.ID, Frequency: "as_needed"})
	require.NoError(t, err)
	assert.Empty(t, res.Reminders)
	assert.True(t, res.Schedule.IsActive)
}

func TestCreateSchedule_UsesPatientTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata not available")
	}
	f := setup(t)
	ctx := context.Background()

	user := &store.User{DisplayName: "Sam", Timezone: "America/New_York"}
	require.NoError(t, f.store.CreateUser(ctx, user))
	med := &store.Medication{UserID: user.ID, Name: "Levothyroxine", StartDate: monday.AddDate(0, 0, -1)}
	require.NoError(t, f.store.CreateMedication(ctx, med))

	res, err := f.svc.CreateSchedule(ctx, ScheduleInput{MedicationID: med.ID, Frequency: "once_daily", TimeOfDay: "08:00"})
	require.NoError(t, err)
	require.NotEmpty(t, res.Reminders)

	first := res.Reminders[0].ScheduledTime.In(loc)
	assert.Equal(t, 8, first.Hour())
	assert.True(t, res.Reminders[0].ScheduledTime.Equal(time.Date(2024, 3, 4, 13, 0, 0, 0, time.UTC)))
}

func TestReplenish_ExtendsWithoutDuplicates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	res, err := f.svc.CreateSchedule(ctx, ScheduleInput{MedicationID: f.med.ID, Frequency: "once_daily", TimeOfDay: "08:00"})
	require.NoError(t, err)

	f.clock.Advance(48 * time.Hour)

	report, err := f.svc.Replenish(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Schedules)
	assert.Equal(t, int64(2), report.Inserted)
	assert.Zero(t, report.Failed)

	report, err = f.svc.Replenish(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Inserted)

	count, err := f.store.CountReminders(ctx, res.Schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(9), count)
}

func TestReplenish_SkipsDeactivatedSchedules(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	res, err := f.svc.CreateSchedule(ctx, ScheduleInput{MedicationID: f.med.ID, Frequency: "once_daily", TimeOfDay: "08:00"})
	require.NoError(t, err)

	sched, err := f.svc.DeactivateSchedule(ctx, res.Schedule.ID)
	require.NoError(t, err)
	assert.False(t, sched.IsActive)

	f.clock.Advance(72 * time.Hour)
	report, err := f.svc.Replenish(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Schedules)

	count, err := f.store.CountReminders(ctx, res.Schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), count, "existing reminders are kept")

	_, err = f.svc.DeactivateSchedule(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestLifecycle_SendThenAcknowledge(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	r := f.reminder(t, monday)

	sent, err := f.svc.Send(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ReminderSent, sent.Status)
	require.NotNil(t, sent.SentAt)
	assert.Nil(t, sent.AcknowledgedAt)

	f.clock.Advance(5 * time.Minute)
	acked, err := f.svc.Acknowledge(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ReminderAcknowledged, acked.Status)
	require.NotNil(t, acked.AcknowledgedAt)
	assert.True(t, acked.AcknowledgedAt.Equal(monday.Add(5*time.Minute)))

	dose, err := f.store.FindDose(ctx, f.med.ID, monday)
	require.NoError(t, err)
	require.NotNil(t, dose)
	assert.True(t, dose.IsTaken)

	_, err = f.svc.Acknowledge(ctx, r.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

func TestLifecycle_InvalidTransitions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	r := f.reminder(t, monday)

	_, err := f.svc.Acknowledge(ctx, r.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition, "scheduled cannot be acknowledged")

	_, err = f.svc.Snooze(ctx, r.ID, time.Minute)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition, "scheduled cannot be snoozed")

	_, err = f.svc.Send(ctx, r.ID)
	require.NoError(t, err)
	_, err = f.svc.Send(ctx, r.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition, "sent cannot be sent again")

	_, err = f.svc.Send(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestLifecycle_AcknowledgeMissedIsInvalid(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	r := f.sent(t, monday.Add(-time.Hour))

	_, err := f.svc.SweepMissed(ctx, monday)
	require.NoError(t, err)

	_, err = f.svc.Acknowledge(ctx, r.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

func TestLifecycle_StaleVersionConflicts(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	r := f.reminder(t, monday)
	stale := r.Version

	_, err := f.svc.Send(ctx, r.ID, IfVersion(stale))
	require.NoError(t, err)

	_, err = f.svc.Acknowledge(ctx, r.ID, IfVersion(stale))
	assert.ErrorIs(t, err, apperrors.ErrConcurrencyConflict)

	current, err := f.svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ReminderSent, current.Status)

	_, err = f.svc.Acknowledge(ctx, r.ID, IfVersion(current.Version))
	assert.NoError(t, err)
}

func TestSnooze_CountsAndMovesForward(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	r := f.sent(t, monday)

	snoozed, err := f.svc.Snooze(ctx, r.ID, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, snoozed.SnoozeCount)
	assert.Equal(t, store.ReminderScheduled, snoozed.Status)
	assert.Nil(t, snoozed.SentAt)
	assert.True(t, snoozed.ScheduledTime.After(r.ScheduledTime))
	assert.True(t, snoozed.ScheduledTime.Equal(monday.Add(15*time.Minute)))

	previous := snoozed.ScheduledTime
	_, err = f.svc.Send(ctx, r.ID)
	require.NoError(t, err)

	// zero delay falls back to the configured default
	snoozed, err = f.svc.Snooze(ctx, r.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, snoozed.SnoozeCount)
	assert.True(t, snoozed.ScheduledTime.After(previous))
}

func TestSnooze_EarlySendStillMovesForward(t *testing.T) {
	f := setup(t)
	at := monday.Add(time.Hour)
	r := f.sent(t, at)

	snoozed, err := f.svc.Snooze(context.Background(), r.ID, 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, snoozed.ScheduledTime.Equal(at.Add(10*time.Minute)))
}

func TestSnooze_OntoNextSlotOfSameSchedule(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	res, err := f.svc.CreateSchedule(ctx, ScheduleInput{
		MedicationID:         f.med.ID,
		Frequency:            "every_n_hours",
		TimeOfDay:            "07:00",
		CustomFrequencyHours: intPtr(1),
	})
	require.NoError(t, err)

	slot := monday.Add(time.Hour)
	var first *store.Reminder
	for i := range res.Reminders {
		if res.Reminders[i].ScheduledTime.Equal(slot) {
			first = &res.Reminders[i]
		}
	}
	require.NotNil(t, first, "hourly schedule has an 08:00 reminder")

	f.clock.Advance(time.Hour)
	_, err = f.svc.Send(ctx, first.ID)
	require.NoError(t, err)

	// 08:00 + 60m is the time of the 09:00 reminder of the same schedule
	snoozed, err := f.svc.Snooze(ctx, first.ID, time.Hour)
	require.NoError(t, err)
	assert.True(t, snoozed.ScheduledTime.Equal(slot.Add(time.Hour)))
	assert.True(t, snoozed.SlotTime.Equal(slot), "slot time does not move")

	f.clock.Advance(time.Hour)
	_, err = f.svc.Send(ctx, first.ID)
	require.NoError(t, err)
	_, err = f.svc.Acknowledge(ctx, first.ID)
	require.NoError(t, err)

	dose, err := f.store.FindDose(ctx, f.med.ID, slot)
	require.NoError(t, err)
	require.NotNil(t, dose, "taken dose is recorded at the original slot")
	assert.True(t, dose.IsTaken)

	dose, err = f.store.FindDose(ctx, f.med.ID, slot.Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, dose)

	report, err := f.svc.Replenish(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Failed)
}

func TestReplenish_MalformedScheduleDoesNotHaltBatch(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	good, err := f.svc.CreateSchedule(ctx, ScheduleInput{MedicationID: f.med.ID, Frequency: "once_daily", TimeOfDay: "08:00"})
	require.NoError(t, err)

	// weekly with no days cannot be expanded
	broken := &store.Schedule{
		MedicationID:     f.med.ID,
		Frequency:        "weekly",
		TimeOfDayMinutes: 9 * 60,
		IsActive:         true,
	}
	require.NoError(t, f.store.DB().Create(broken).Error)

	f.clock.Advance(48 * time.Hour)
	report, err := f.svc.Replenish(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Schedules)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, int64(2), report.Inserted)

	count, err := f.store.CountReminders(ctx, good.Schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(9), count)
}

func TestSweepMissed_FailedWriteDoesNotHaltBatch(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	a := f.reminder(t, monday.Add(-3*time.Hour))
	stuck := f.reminder(t, monday.Add(-2*time.Hour))
	b := f.sent(t, monday.Add(-time.Hour))

	require.NoError(t, f.store.DB().Exec(
		"CREATE TRIGGER reject_stuck BEFORE UPDATE ON reminders WHEN OLD.id = '"+stuck.ID+"' "+
			"BEGIN SELECT RAISE(ABORT, 'disk full'); END",
	).Error)

	report, err := f.svc.SweepMissed(ctx, monday)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Examined)
	assert.Equal(t, 2, report.Missed)
	assert.Equal(t, 1, report.Failed)

	for _, id := range []string{a.ID, b.ID} {
		r, err := f.svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, store.ReminderMissed, r.Status)
	}
	r, err := f.svc.Get(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ReminderScheduled, r.Status)
}

func TestSweepMissed_Idempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	overdueScheduled := f.reminder(t, monday.Add(-2*time.Hour))
	overdueSent := f.sent(t, monday.Add(-time.Hour))
	future := f.reminder(t, monday.Add(time.Hour))
	acked := f.sent(t, monday.Add(-3*time.Hour))
	_, err := f.svc.Acknowledge(ctx, acked.ID)
	require.NoError(t, err)

	report, err := f.svc.SweepMissed(ctx, monday)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Missed)
	assert.Zero(t, report.Failed)

	for _, id := range []string{overdueScheduled.ID, overdueSent.ID} {
		r, err := f.svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, store.ReminderMissed, r.Status)
	}
	r, err := f.svc.Get(ctx, future.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ReminderScheduled, r.Status)

	snapshot, err := f.svc.List(ctx, ListFilter{})
	require.NoError(t, err)

	again, err := f.svc.SweepMissed(ctx, monday)
	require.NoError(t, err)
	assert.Zero(t, again.Examined)
	assert.Zero(t, again.Missed)

	after, err := f.svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, after, len(snapshot))
	for i := range after {
		assert.Equal(t, snapshot[i].Status, after[i].Status)
		assert.Equal(t, snapshot[i].Version, after[i].Version)
	}

	a, err := f.tracker.ComputeAdherence(ctx, f.med.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.Taken)
	assert.Equal(t, int64(2), a.Missed)
}

func TestSweepMissed_StrictBoundary(t *testing.T) {
	f := setup(t)
	r := f.reminder(t, monday)

	report, err := f.svc.SweepMissed(context.Background(), monday)
	require.NoError(t, err)
	assert.Zero(t, report.Missed)

	got, err := f.svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ReminderScheduled, got.Status)
}

func TestList_Views(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	dueScheduled := f.reminder(t, monday.Add(-10*time.Minute))
	sentFuture := f.sent(t, monday.Add(time.Hour))
	upcoming := f.reminder(t, monday.Add(2*time.Hour))
	missed := f.reminder(t, monday.Add(-5*time.Hour))
	_, err := f.svc.SweepMissed(ctx, monday.Add(-time.Hour))
	require.NoError(t, err)

	ids := func(rs []store.Reminder) []string {
		out := make([]string, 0, len(rs))
		for _, r := range rs {
			out = append(out, r.ID)
		}
		return out
	}

	pending, err := f.svc.List(ctx, ListFilter{Status: ViewPending, UserID: f.user.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{dueScheduled.ID, sentFuture.ID}, ids(pending))

	up, err := f.svc.List(ctx, ListFilter{Status: ViewUpcoming})
	require.NoError(t, err)
	assert.Equal(t, []string{upcoming.ID}, ids(up))

	gone, err := f.svc.List(ctx, ListFilter{Status: ViewMissed, MedicationID: f.med.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{missed.ID}, ids(gone))

	_, err = ParseView("later")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestDue(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	atNow := f.reminder(t, monday)
	f.reminder(t, monday.Add(time.Minute))
	past := f.reminder(t, monday.Add(-time.Minute))

	due, err := f.svc.Due(ctx, monday, 0)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, past.ID, due[0].ID)
	assert.Equal(t, atNow.ID, due[1].ID)
}

func TestCreateReminder_DefaultsToNow(t *testing.T) {
	f := setup(t)

	r, err := f.svc.CreateReminder(context.Background(), ManualReminderInput{MedicationID: f.med.ID, Message: "Take with food"})
	require.NoError(t, err)
	assert.True(t, r.ScheduledTime.Equal(monday))
	assert.Nil(t, r.ScheduleID)
	assert.Equal(t, "Take with food", r.Message)

	_, err = f.svc.CreateReminder(context.Background(), ManualReminderInput{MedicationID: "nope"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

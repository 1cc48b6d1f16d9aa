package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gmsas95/medtrack/internal/adherence"
	"github.com/gmsas95/medtrack/internal/clock"
	"github.com/gmsas95/medtrack/internal/config"
	"github.com/gmsas95/medtrack/internal/conflicts"
	"github.com/gmsas95/medtrack/internal/dispatch"
	apperrors "github.com/gmsas95/medtrack/internal/errors"
	"github.com/gmsas95/medtrack/internal/jobs"
	"github.com/gmsas95/medtrack/internal/lease"
	"github.com/gmsas95/medtrack/internal/metrics"
	"github.com/gmsas95/medtrack/internal/reminders"
	"github.com/gmsas95/medtrack/internal/store"
	"github.com/gmsas95/medtrack/internal/store/storetest"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Monday 2024-03-04 07:00 UTC
var monday = time.Date(2024, 3, 4, 7, 0, 0, 0, time.UTC)

type testServer struct {
	t     *testing.T
	srv   *Server
	store *store.Store
	clock *clock.Fake
	token string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := storetest.New(t)
	clk := clock.NewFake(monday)
	m := metrics.New()
	logger := zap.NewNop()

	cfg := &config.Config{}
	cfg.Security.JWTSecret = "test-secret"
	cfg.Security.AdminPassword = "hunter2"
	cfg.Security.AllowOrigins = []string{"*"}

	tracker := adherence.New(st, clk, m, logger)
	svc := reminders.New(st, clk, tracker, m, logger, reminders.DefaultConfig())
	screener := conflicts.New(st, st, clk, m, logger)
	hub := dispatch.NewHub(m, logger)
	runner := jobs.NewRunner(jobs.Config{}, svc, nil, lease.NewManager(st, clk, "test"), clk, m, logger)

	srv := New(Deps{
		Config:    cfg,
		Store:     st,
		Reminders: svc,
		Tracker:   tracker,
		Screener:  screener,
		Jobs:      runner,
		Hub:       hub,
		Metrics:   m,
		Clock:     clk,
		Logger:    logger,
	})

	ts := &testServer{t: t, srv: srv, store: st, clock: clk}
	ts.token = ts.login("hunter2")
	return ts
}

func (ts *testServer) login(password string) string {
	resp, body := ts.do(http.MethodPost, "/api/auth/login", map[string]string{"password": password}, nil)
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(ts.t, json.Unmarshal(body, &out))
	return out.Token
}

func (ts *testServer) do(method, path string, payload interface{}, headers map[string]string) (*http.Response, []byte) {
	ts.t.Helper()
	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(ts.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := ts.srv.App().Test(req, -1)
	require.NoError(ts.t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(ts.t, err)
	return resp, body
}

// call is an authenticated request that decodes the response into out
func (ts *testServer) call(method, path string, payload interface{}, out interface{}, headers ...string) int {
	ts.t.Helper()
	h := map[string]string{"Authorization": "Bearer " + ts.token}
	for i := 0; i+1 < len(headers); i += 2 {
		h[headers[i]] = headers[i+1]
	}
	resp, body := ts.do(method, path, payload, h)
	if out != nil && len(body) > 0 {
		require.NoError(ts.t, json.Unmarshal(body, out), string(body))
	}
	return resp.StatusCode
}

func (ts *testServer) seed() (*store.User, *store.Medication) {
	ts.t.Helper()
	var user store.User
	require.Equal(ts.t, http.StatusCreated, ts.call(http.MethodPost, "/api/users",
		map[string]string{"display_name": "Lin", "timezone": "UTC"}, &user))

	var med store.Medication
	require.Equal(ts.t, http.StatusCreated, ts.call(http.MethodPost, "/api/medications", map[string]interface{}{
		"user_id":       user.ID,
		"name":          "Amoxicillin",
		"dosage_amount": 500,
		"dosage_unit":   "mg",
		"start_date":    monday.AddDate(0, 0, -1),
	}, &med))
	return &user, &med
}

func TestHealthIsPublic(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(http.MethodGet, "/api/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "healthy")
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t)
	require.NotEmpty(t, ts.token)
	assert.Empty(t, ts.login("wrong"))

	var out struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	for _, headers := range []map[string]string{
		nil,
		{"Authorization": "Bearer garbage"},
	} {
		resp, body := ts.do(http.MethodGet, "/api/users/u1", nil, headers)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.NoError(t, json.Unmarshal(body, &out))
		assert.Equal(t, apperrors.CodeUnauthorized, out.Code)
		assert.NotEmpty(t, out.Error)
	}

	resp, body := ts.do(http.MethodPost, "/api/auth/login", map[string]string{"password": "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, apperrors.CodeUnauthorized, out.Code)
}

func TestHandlersRunUnderRequestDeadline(t *testing.T) {
	ts := newTestServer(t)
	ts.srv.App().Get("/api/test/deadline", func(c *fiber.Ctx) error {
		deadline, ok := c.UserContext().Deadline()
		return c.JSON(fiber.Map{"has_deadline": ok, "remaining": time.Until(deadline).Seconds()})
	})

	var out struct {
		HasDeadline bool    `json:"has_deadline"`
		Remaining   float64 `json:"remaining"`
	}
	require.Equal(t, http.StatusOK, ts.call(http.MethodGet, "/api/test/deadline", nil, &out))
	assert.True(t, out.HasDeadline)
	assert.InDelta(t, 30, out.Remaining, 5, "bounded by the default write timeout")
}

func TestClientDrivesAdminEndpoints(t *testing.T) {
	ts := newTestServer(t)
	_, med := ts.seed()

	var r store.Reminder
	require.Equal(t, http.StatusCreated, ts.call(http.MethodPost, "/api/reminders",
		map[string]interface{}{"medication_id": med.ID, "scheduled_time": monday.Add(-time.Hour)}, &r))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = ts.srv.App().Listener(ln) }()
	t.Cleanup(func() { _ = ts.srv.App().Shutdown() })
	base := "http://" + ln.Addr().String()

	result, err := NewClient(base, "hunter2", 5*time.Second).Sweep()
	require.NoError(t, err)
	assert.True(t, result.Ran)
	assert.Equal(t, 1, result.Report.Missed)

	report, err := NewClient(base, "hunter2", 5*time.Second).Replenish()
	require.NoError(t, err)
	assert.Zero(t, report.Failed)

	_, err = NewClient(base, "wrong", 5*time.Second).Sweep()
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestUnknownResourcesAre404(t *testing.T) {
	ts := newTestServer(t)
	var out map[string]interface{}
	assert.Equal(t, http.StatusNotFound, ts.call(http.MethodGet, "/api/medications/nope", nil, &out))
	assert.Equal(t, "NOT_FOUND", out["code"])

	assert.Equal(t, http.StatusNotFound, ts.call(http.MethodPost, "/api/schedules",
		map[string]string{"medication_id": "nope", "frequency": "once_daily", "time_of_day": "08:00"}, nil))
	assert.Equal(t, http.StatusNotFound, ts.call(http.MethodPost, "/api/medications",
		map[string]interface{}{"user_id": "nope", "name": "X"}, nil))
}

func TestReminderLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	_, med := ts.seed()

	var sched reminders.ScheduleResult
	require.Equal(t, http.StatusCreated, ts.call(http.MethodPost, "/api/schedules", map[string]string{
		"medication_id": med.ID,
		"frequency":     "once_daily",
		"time_of_day":   "08:00",
	}, &sched))
	require.NotEmpty(t, sched.Reminders)
	first := sched.Reminders[0]
	assert.Equal(t, monday.Add(time.Hour), first.ScheduledTime.UTC())

	ts.clock.Set(monday.Add(time.Hour))

	var sent store.Reminder
	require.Equal(t, http.StatusOK, ts.call(http.MethodPost, "/api/reminders/"+first.ID+"/send", nil, &sent))
	assert.Equal(t, store.ReminderSent, sent.Status)

	// stale version
	assert.Equal(t, http.StatusConflict, ts.call(http.MethodPost, "/api/reminders/"+first.ID+"/acknowledge", nil, nil,
		"If-Match", "0"))

	var acked store.Reminder
	require.Equal(t, http.StatusOK, ts.call(http.MethodPost, "/api/reminders/"+first.ID+"/acknowledge", nil, &acked,
		"If-Match", `"`+strconv.Itoa(sent.Version)+`"`))
	assert.Equal(t, store.ReminderAcknowledged, acked.Status)

	// acknowledged is terminal
	assert.Equal(t, http.StatusConflict, ts.call(http.MethodPost, "/api/reminders/"+first.ID+"/snooze",
		map[string]int{"minutes": 5}, nil))

	var adh adherenceResponse
	require.Equal(t, http.StatusOK, ts.call(http.MethodGet, "/api/medications/"+med.ID+"/adherence", nil, &adh))
	assert.Equal(t, int64(1), adh.Taken)
	require.NotNil(t, adh.Rate)
	assert.Equal(t, 1.0, *adh.Rate)
	assert.Equal(t, "ok", adh.Status)

	var list []store.Reminder
	require.Equal(t, http.StatusOK, ts.call(http.MethodGet, "/api/reminders?status=acknowledged&medication_id="+med.ID, nil, &list))
	assert.Len(t, list, 1)

	assert.Equal(t, http.StatusBadRequest, ts.call(http.MethodGet, "/api/reminders?status=bogus", nil, nil))
}

func TestSnoozeDefaultsAndMovesForward(t *testing.T) {
	ts := newTestServer(t)
	_, med := ts.seed()

	var r store.Reminder
	require.Equal(t, http.StatusCreated, ts.call(http.MethodPost, "/api/reminders",
		map[string]interface{}{"medication_id": med.ID, "scheduled_time": monday}, &r))
	require.Equal(t, http.StatusOK, ts.call(http.MethodPost, "/api/reminders/"+r.ID+"/send", nil, nil))

	var snoozed store.Reminder
	require.Equal(t, http.StatusOK, ts.call(http.MethodPost, "/api/reminders/"+r.ID+"/snooze", nil, &snoozed))
	assert.Equal(t, store.ReminderScheduled, snoozed.Status)
	assert.Equal(t, 1, snoozed.SnoozeCount)
	assert.True(t, snoozed.ScheduledTime.After(monday))
}

func TestAdherenceWithoutData(t *testing.T) {
	ts := newTestServer(t)
	_, med := ts.seed()

	var raw map[string]interface{}
	require.Equal(t, http.StatusOK, ts.call(http.MethodGet, "/api/medications/"+med.ID+"/adherence", nil, &raw))
	assert.Nil(t, raw["rate"])
	assert.Equal(t, "no-data", raw["status"])
}

func TestDosesAndMissedListing(t *testing.T) {
	ts := newTestServer(t)
	user, med := ts.seed()

	var dose store.Dose
	require.Equal(t, http.StatusCreated, ts.call(http.MethodPost, "/api/doses", map[string]interface{}{
		"medication_id":  med.ID,
		"scheduled_time": monday.Add(-2 * time.Hour),
		"taken":          false,
	}, &dose))

	var missed []store.Dose
	require.Equal(t, http.StatusOK, ts.call(http.MethodGet, "/api/users/"+user.ID+"/doses/missed", nil, &missed))
	require.Len(t, missed, 1)

	taken := true
	require.Equal(t, http.StatusOK, ts.call(http.MethodPut, "/api/doses/"+dose.ID, map[string]interface{}{"taken": taken}, &dose))
	assert.True(t, dose.IsTaken)

	asOf := monday.Add(-3 * time.Hour).Format(time.RFC3339)
	require.Equal(t, http.StatusOK, ts.call(http.MethodGet, "/api/users/"+user.ID+"/doses/missed?as_of="+asOf, nil, &missed))
	assert.Empty(t, missed)

	assert.Equal(t, http.StatusBadRequest, ts.call(http.MethodGet, "/api/users/"+user.ID+"/doses/missed?as_of=yesterday", nil, nil))
	assert.Equal(t, http.StatusNotFound, ts.call(http.MethodGet, "/api/users/ghost/doses/missed", nil, nil))
}

func TestAllergyCheck(t *testing.T) {
	ts := newTestServer(t)
	user, _ := ts.seed()

	require.Equal(t, http.StatusCreated, ts.call(http.MethodPost, "/api/users/"+user.ID+"/allergies",
		map[string]string{"allergen": "Penicillin", "severity": "severe"}, nil))

	var result conflicts.Result
	require.Equal(t, http.StatusOK, ts.call(http.MethodPost, "/api/allergy-check",
		map[string]string{"user_id": user.ID, "medication_name": "Amoxicillin"}, &result))
	assert.True(t, result.HasConflicts)
	assert.NotEmpty(t, result.Advisory)

	require.Equal(t, http.StatusOK, ts.call(http.MethodPost, "/api/allergy-check",
		map[string]string{"user_id": user.ID, "medication_name": "Ibuprofen"}, &result))
	assert.False(t, result.HasConflicts)

	assert.Equal(t, http.StatusBadRequest, ts.call(http.MethodPost, "/api/allergy-check",
		map[string]string{"user_id": user.ID}, nil))
	assert.Equal(t, http.StatusNotFound, ts.call(http.MethodPost, "/api/allergy-check",
		map[string]string{"user_id": "ghost", "medication_name": "Aspirin"}, nil))
}

func TestInteractions(t *testing.T) {
	ts := newTestServer(t)
	_, med := ts.seed()

	var in store.DrugInteraction
	require.Equal(t, http.StatusCreated, ts.call(http.MethodPost, "/api/medications/"+med.ID+"/interactions",
		map[string]string{"interacting_drug": "Warfarin", "severity": "Major", "effect": "bleeding"}, &in))

	var list []store.DrugInteraction
	require.Equal(t, http.StatusOK, ts.call(http.MethodGet, "/api/medications/"+med.ID+"/interactions", nil, &list))
	assert.Len(t, list, 1)

	require.Equal(t, http.StatusOK, ts.call(http.MethodPost, "/api/interactions/"+in.ID+"/acknowledge", nil, &in))
	assert.True(t, in.Acknowledged)
}

func TestAdminSweep(t *testing.T) {
	ts := newTestServer(t)
	_, med := ts.seed()

	var r store.Reminder
	require.Equal(t, http.StatusCreated, ts.call(http.MethodPost, "/api/reminders",
		map[string]interface{}{"medication_id": med.ID, "scheduled_time": monday.Add(-time.Hour)}, &r))

	var result jobs.SweepResult
	require.Equal(t, http.StatusOK, ts.call(http.MethodPost, "/api/admin/sweep", nil, &result))
	assert.True(t, result.Ran)
	assert.Equal(t, 1, result.Report.Missed)

	got, err := ts.store.GetReminder(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ReminderMissed, got.Status)
}

func TestMetricsEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.do(http.MethodGet, "/api/health", nil, nil)

	resp, body := ts.do(http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "medtrack_http_requests_total"))

	resp, body = ts.do(http.MethodGet, "/api/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "medtrack_http_requests_total")
}

func TestWebsocketRequiresUpgrade(t *testing.T) {
	ts := newTestServer(t)
	var out map[string]interface{}
	assert.Equal(t, http.StatusUpgradeRequired, ts.call(http.MethodGet, "/ws/reminders", nil, &out))
}

func TestFreeTextIsValidated(t *testing.T) {
	ts := newTestServer(t)
	user, _ := ts.seed()

	var out map[string]interface{}
	assert.Equal(t, http.StatusBadRequest, ts.call(http.MethodPost, "/api/medications", map[string]interface{}{
		"user_id": user.ID,
		"name":    "Aspirin\x00",
	}, &out))
	assert.Equal(t, "VALIDATION", out["code"])

	assert.Equal(t, http.StatusBadRequest, ts.call(http.MethodPost, "/api/users/"+user.ID+"/allergies",
		map[string]string{"allergen": strings.Repeat("x", 500)}, nil))
}

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
	"github.com/gmsas95/medtrack/internal/jobs"
	"github.com/gmsas95/medtrack/internal/reminders"
	"github.com/gofiber/fiber/v2"
)

// Client calls the admin endpoints of a running server. The CLI uses it
// while the server process holds the data directory.
type Client struct {
	baseURL  string
	password string
	timeout  time.Duration
}

// NewClient creates a client for the server at baseURL
func NewClient(baseURL, password string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Client{baseURL: baseURL, password: password, timeout: timeout}
}

// Sweep runs one guarded missed-reminder sweep on the server
func (c *Client) Sweep() (jobs.SweepResult, error) {
	var result jobs.SweepResult
	err := c.admin("/api/admin/sweep", &result)
	return result, err
}

// Replenish extends the server's active schedules to the horizon
func (c *Client) Replenish() (reminders.ReplenishReport, error) {
	var report reminders.ReplenishReport
	err := c.admin("/api/admin/replenish", &report)
	return report, err
}

func (c *Client) admin(path string, out interface{}) error {
	var login struct {
		Token string `json:"token"`
	}
	if err := c.post("/api/auth/login", "", map[string]string{"password": c.password}, &login); err != nil {
		return err
	}
	return c.post(path, login.Token, nil, out)
}

func (c *Client) post(path, token string, payload, out interface{}) error {
	a := fiber.Post(c.baseURL + path).Timeout(c.timeout)
	if token != "" {
		a.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	if payload != nil {
		a.JSON(payload)
	}

	code, body, errs := a.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("POST %s: %w", path, errors.Join(errs...))
	}
	if code >= fiber.StatusBadRequest {
		var e struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(body, &e) == nil && e.Code != "" {
			return apperrors.New(e.Code, e.Error)
		}
		return fmt.Errorf("POST %s: status %d", path, code)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	return nil
}

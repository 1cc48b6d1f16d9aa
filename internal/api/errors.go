package api

import (
	"errors"
	"strconv"
	"strings"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
	"github.com/gmsas95/medtrack/internal/reminders"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func statusFor(err error) int {
	switch apperrors.GetCode(err) {
	case apperrors.CodeNotFound:
		return fiber.StatusNotFound
	case apperrors.CodeValidation:
		return fiber.StatusBadRequest
	case apperrors.CodeInvalidTransition, apperrors.CodeConcurrencyConflict:
		return fiber.StatusConflict
	case apperrors.CodeUnauthorized:
		return fiber.StatusUnauthorized
	default:
		return fiber.StatusInternalServerError
	}
}

// fail writes err as a JSON error body. Internal errors are logged and
// their detail is not sent to the client.
func (s *Server) fail(c *fiber.Ctx, err error, msg string) error {
	status := statusFor(err)
	if status == fiber.StatusInternalServerError {
		s.logger.Error(msg,
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		return c.Status(status).JSON(fiber.Map{"error": msg, "code": apperrors.CodeInternal})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error(), "code": apperrors.GetCode(err)})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg, "code": apperrors.CodeValidation})
}

func errorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		} else {
			logger.Error("Unhandled request error", zap.String("path", c.Path()), zap.Error(err))
		}
		return c.Status(code).JSON(fiber.Map{"error": err.Error()})
	}
}

// validateText reports the first failed free-text check as a validation error
func validateText(checks ...error) error {
	for _, err := range checks {
		if err != nil {
			return apperrors.Validation("%v", err)
		}
	}
	return nil
}

// versionOption turns an If-Match header into an optimistic version check
func versionOption(c *fiber.Ctx) ([]reminders.TransitionOption, error) {
	raw := strings.Trim(strings.TrimPrefix(c.Get(fiber.HeaderIfMatch), "W/"), `"`)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, apperrors.Validation("If-Match must be a reminder version, got %q", raw)
	}
	return []reminders.TransitionOption{reminders.IfVersion(v)}, nil
}

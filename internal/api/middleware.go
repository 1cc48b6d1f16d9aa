package api

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/golang-jwt/jwt/v5"
)

const tokenTTL = 7 * 24 * time.Hour

// authMiddleware accepts a bearer token, or a token query parameter for
// websocket clients that cannot set headers
func (s *Server) authMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := strings.TrimPrefix(c.Get("Authorization"), "Bearer ")
		if tokenString == "" {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			return s.fail(c, apperrors.Unauthorized("missing authorization header"), "")
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			return []byte(s.config.Security.JWTSecret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

		if err != nil || !token.Valid {
			return s.fail(c, apperrors.Unauthorized("invalid token"), "")
		}

		return c.Next()
	}
}

// requestContext bounds the handler's context by the write timeout.
// fasthttp does not report client disconnects, so the deadline is the only
// cancellation a request sees.
func (s *Server) requestContext() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(context.Background(), s.requestTimeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

func (s *Server) issueToken(subject string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(tokenTTL).Unix(),
	})
	return token.SignedString([]byte(s.config.Security.JWTSecret))
}

func (s *Server) checkPassword(given string) bool {
	want := s.config.Security.AdminPassword
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(given), []byte(want)) == 1
}

func (s *Server) metricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		s.metrics.RecordRequest(status < 500, time.Since(start))
		return err
	}
}

func (s *Server) upgradeOnly() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

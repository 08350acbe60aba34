package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"golang-matching-service/pkg/logger"
)

const (
	// HeaderTenantID is the header key for tenant ID
	HeaderTenantID = "X-Tenant-ID"

	tenantKey = "tenant_id"
)

// tenantScope rejects requests without a tenant and stores it on the context.
func tenantScope() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID := strings.TrimSpace(c.Request().Header.Get(HeaderTenantID))
			if tenantID == "" {
				return echo.NewHTTPError(http.StatusBadRequest, "missing "+HeaderTenantID+" header")
			}
			c.Set(tenantKey, tenantID)
			return next(c)
		}
	}
}

func tenantFrom(c echo.Context) string {
	tenantID, _ := c.Get(tenantKey).(string)
	return tenantID
}

func requestLogger(log logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()
			res := c.Response()
			start := time.Now()
			if err = next(c); err != nil {
				c.Error(err)
			}

			log.WithField(logger.FieldTenantID, req.Header.Get(HeaderTenantID)).WithFields(logger.Fields{
				"request_id":       res.Header().Get(echo.HeaderXRequestID),
				"method":           req.Method,
				"route":            c.Path(),
				"status":           res.Status,
				"remote_ip":        c.RealIP(),
				"response_time_ms": time.Since(start).Milliseconds(),
				"response_size":    res.Size,
			}).Info("Request")

			return nil
		}
	}
}

// requestValidator adapts go-playground/validator to echo.Validator.
type requestValidator struct {
	validate *validator.Validate
}

func newRequestValidator() *requestValidator {
	return &requestValidator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

func (v *requestValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

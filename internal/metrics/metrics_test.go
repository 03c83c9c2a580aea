package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/traffic-tacos/auth-api/pkg/errors"
)

func TestRecorders(t *testing.T) {
	before := testutil.ToFloat64(loginAttemptsTotal.WithLabelValues("success"))
	RecordLoginAttempt("success")
	assert.Equal(t, before+1, testutil.ToFloat64(loginAttemptsTotal.WithLabelValues("success")))

	before = testutil.ToFloat64(gateRejectionsTotal.WithLabelValues("restricted", "AUTH_REQUIRED"))
	RecordGateRejection("restricted", "AUTH_REQUIRED")
	assert.Equal(t, before+1, testutil.ToFloat64(gateRejectionsTotal.WithLabelValues("restricted", "AUTH_REQUIRED")))

	before = testutil.ToFloat64(tokensIssuedTotal)
	RecordTokenIssued()
	assert.Equal(t, before+1, testutil.ToFloat64(tokensIssuedTotal))
}

func TestHTTPMetricsMiddlewareAndHandler(t *testing.T) {
	require.NoError(t, Init())
	require.NoError(t, Init(), "Init must be idempotent")

	app := fiber.New()
	app.Use(HTTPMetricsMiddleware())
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })
	app.Get("/metrics", PrometheusHandler())

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/ping", "200"))

	resp, err := app.Test(httptest.NewRequest("GET", "/ping", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/ping", "200")))

	resp, err = app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "http_server_requests_total")
}

func TestHTTPMetricsMiddlewareUsesAppErrorStatus(t *testing.T) {
	app := fiber.New()
	app.Use(HTTPMetricsMiddleware())
	app.Get("/private", func(c *fiber.Ctx) error {
		return apperrors.NewAppError(apperrors.CodeForbidden, "This is not for you", nil)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/private", "403"))

	_, err := app.Test(httptest.NewRequest("GET", "/private", nil))
	require.NoError(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/private", "403")))
}

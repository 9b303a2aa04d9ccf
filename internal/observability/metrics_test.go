package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandlerExposesTransitionCounters(t *testing.T) {
	CoverLetterTransitions().WithLabelValues("sign", "success").Inc()
	QueueCacheLookups().WithLabelValues("hit").Inc()

	app := fiber.New()
	app.Get("/metrics", MetricsHandler())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	require.True(t, strings.Contains(text, `cover_letter_transitions_total{action="sign",result="success"}`))
	require.True(t, strings.Contains(text, "cover_letter_queue_cache_lookups_total"))
}

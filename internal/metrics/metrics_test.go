package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndExpose(t *testing.T) {
	require.NotPanics(t, Register)
	require.NotPanics(t, Register, "second registration is a no-op")

	Deliveries.WithLabelValues("telegram", "success").Inc()
	EventsDetected.WithLabelValues("high").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stockpulse_deliveries_total")
}

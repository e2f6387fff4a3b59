package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/xtrntr/venue/internal/models"
)

func TestMetrics(t *testing.T) {
	m := New()

	m.RequestHandled("Buy", true)
	m.RequestHandled("Buy", true)
	m.RequestHandled("Buy", false)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("Buy", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("Buy", "false")))

	m.TickCompleted(nil)
	m.TickCompleted([]models.Trade{{
		Volume: models.CurrencyAmount{Currency: "RU", Value: 4},
		Price:  models.CurrencyAmount{Currency: "USD", Value: 5},
	}})
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ticks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.trades.WithLabelValues("RU-USD")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.tradedVolume.WithLabelValues("RU-USD")))

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeSessions))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.RequestHandled("Balance", true)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, `venue_requests_total{ok="true",type="Balance"} 1`), body)
}

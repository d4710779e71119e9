package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRecordCommitLabelsResult(t *testing.T) {
	RecordCommit("logout", errors.New("boom"))
	RecordCommit("shutdown", nil)
	text := scrape(t)
	require.Contains(t, text, `tradepost_store_commits_total{result="error",trigger="logout"}`)
	require.Contains(t, text, `tradepost_store_commits_total{result="ok",trigger="shutdown"} 1`)
}

func TestHandlerExposesMarketMetrics(t *testing.T) {
	RecordRequest("GET_CREDITS", "ok", 2*time.Millisecond)
	SetActiveSessions(3)

	text := scrape(t)
	require.True(t, strings.Contains(text, `tradepost_market_requests_total{outcome="ok",type="GET_CREDITS"}`))
	require.Contains(t, text, "tradepost_server_active_sessions 3")
}

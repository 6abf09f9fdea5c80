package trade

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nordflow/ingest/internal/config"
	"github.com/nordflow/ingest/internal/domain"
	"github.com/nordflow/ingest/internal/store/memstore"
	"github.com/nordflow/ingest/internal/upstream"
)

// newTestClient stands up a fake upstream that issues a token and always
// responds with an empty trade set, so ingester tests exercise the
// checkpoint state machine without depending on parse.FlattenTrades output.
func newTestClient(t *testing.T) *upstream.Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/connect/token", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "tok",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/api/v2/Intraday/Trades/ByDeliveryStart", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"contracts": []interface{}{}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := config.Config{
		UpstreamBaseURL:  srv.URL,
		UpstreamSTSURL:   srv.URL + "/connect/token",
		UpstreamUsername: "u",
		UpstreamPassword: "p",
	}
	return upstream.NewClient(cfg, zerolog.Nop())
}

func TestRunColdStartsBackfillThenActiveWindow(t *testing.T) {
	ms := memstore.New()
	client := newTestClient(t)

	coldStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := coldStart.Add(30 * time.Hour)

	ing := New(client, ms, ms, Config{ColdStart: coldStart}, nil, zerolog.Nop())
	ing.now = func() time.Time { return now }

	require.NoError(t, ing.Run(context.Background(), "SE1"))

	state, ok, err := ms.GetTradeFetchState(context.Background(), "SE1")
	require.NoError(t, err)
	require.True(t, ok)

	safeLine := now.Add(-safeLineLag)
	assert.True(t, state.LastFetchedTime.Equal(safeLine), "backfill checkpoint should advance exactly to the safe line")
	assert.Equal(t, domain.StatusOK, state.Status)
}

func TestRunActiveWindowNeverAdvancesCheckpoint(t *testing.T) {
	ms := memstore.New()
	client := newTestClient(t)

	now := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	safeLine := now.Add(-safeLineLag)

	// Checkpoint is already at the safe line: Run should skip backfill
	// entirely and only run the (non-advancing) active window.
	require.NoError(t, ms.SaveTradeFetchState(context.Background(), domain.TradeFetchState{
		Area: "SE1", LastFetchedTime: safeLine,
	}))

	ing := New(client, ms, ms, Config{}, nil, zerolog.Nop())
	ing.now = func() time.Time { return now }

	require.NoError(t, ing.Run(context.Background(), "SE1"))

	state, ok, err := ms.GetTradeFetchState(context.Background(), "SE1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, state.LastFetchedTime.Equal(safeLine), "active window must never move last_fetched_time")
	assert.Equal(t, domain.StatusOK, state.Status)
}

func TestRunTwiceIsIdempotentPerLeg(t *testing.T) {
	tradesPayload := `{
		"contracts": [{
			"contractId": "C1",
			"contractName": "PH 15-16",
			"deliveryStart": "2026-01-01T15:00:00Z",
			"deliveryEnd": "2026-01-01T16:00:00Z",
			"trades": [{
				"tradeId": "T1",
				"tradeTime": "2026-01-01T09:00:00Z",
				"tradeUpdatedAt": "2026-01-01T09:00:00Z",
				"tradeState": "Completed",
				"price": 50,
				"volume": 3,
				"legs": [
					{"deliveryArea": "SE3", "referenceOrderId": "O1", "tradeSide": "Buy"},
					{"deliveryArea": "DK1", "referenceOrderId": "O2", "tradeSide": "Sell"}
				]
			}]
		}]
	}`

	mux := http.NewServeMux()
	mux.HandleFunc("/connect/token", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "tok", "expires_in": 3600})
	})
	mux.HandleFunc("/api/v2/Intraday/Trades/ByDeliveryStart", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(tradesPayload))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := upstream.NewClient(config.Config{
		UpstreamBaseURL:  srv.URL,
		UpstreamSTSURL:   srv.URL + "/connect/token",
		UpstreamUsername: "u",
		UpstreamPassword: "p",
	}, zerolog.Nop())

	ms := memstore.New()
	coldStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := coldStart.Add(14 * time.Hour)

	ing := New(client, ms, ms, Config{ColdStart: coldStart}, nil, zerolog.Nop())
	ing.now = func() time.Time { return now }

	require.NoError(t, ing.Run(context.Background(), "SE3"))
	assert.Equal(t, 2, ms.TradeCount(), "one row per (trade, leg) pair")

	state, _, err := ms.GetTradeFetchState(context.Background(), "SE3")
	require.NoError(t, err)
	checkpointAfterFirst := state.LastFetchedTime

	// Second run with no new data: the active window is re-scanned, rows
	// are upserted again, and neither count nor checkpoint changes.
	require.NoError(t, ing.Run(context.Background(), "SE3"))
	assert.Equal(t, 2, ms.TradeCount(), "re-scanning the same window must not duplicate rows")

	state, _, err = ms.GetTradeFetchState(context.Background(), "SE3")
	require.NoError(t, err)
	assert.True(t, state.LastFetchedTime.Equal(checkpointAfterFirst))
}

func TestBackfillChunkFailurePersistsErrorAndStops(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/connect/token", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "tok", "expires_in": 3600})
	})
	mux.HandleFunc("/api/v2/Intraday/Trades/ByDeliveryStart", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := upstream.NewClient(config.Config{
		UpstreamBaseURL:  srv.URL,
		UpstreamSTSURL:   srv.URL + "/connect/token",
		UpstreamUsername: "u",
		UpstreamPassword: "p",
	}, zerolog.Nop())

	ms := memstore.New()
	coldStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := coldStart.Add(30 * time.Hour)

	ing := New(client, ms, ms, Config{ColdStart: coldStart}, nil, zerolog.Nop())
	ing.now = func() time.Time { return now }

	err := ing.Run(context.Background(), "SE1")
	require.Error(t, err)

	state, ok, getErr := ms.GetTradeFetchState(context.Background(), "SE1")
	require.NoError(t, getErr)
	require.True(t, ok)
	assert.Equal(t, domain.StatusError, state.Status)
	assert.NotEmpty(t, state.LastError)
	assert.True(t, state.LastFetchedTime.Equal(coldStart), "a failed chunk must not advance the checkpoint")
}

package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nordflow/ingest/internal/config"
	"github.com/nordflow/ingest/internal/errs"
)

func TestDoRequestRefreshesTokenOnceOn401(t *testing.T) {
	var tokenCalls int64

	mux := http.NewServeMux()
	mux.HandleFunc("/connect/token", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&tokenCalls, 1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "password", r.Form.Get("grant_type"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": fmt.Sprintf("tok%d", n),
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/api/v2/Intraday/Trades/ByDeliveryStart", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"contracts": []interface{}{}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := NewClient(config.Config{
		UpstreamBaseURL:  srv.URL,
		UpstreamSTSURL:   srv.URL + "/connect/token",
		UpstreamUsername: "u",
		UpstreamPassword: "p",
	}, zerolog.Nop())

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	resp, err := c.TradesByDeliveryStart(context.Background(), "SE1", from, from.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, resp.Contracts)
	assert.Equal(t, int64(2), atomic.LoadInt64(&tokenCalls), "the first token is rejected, exactly one refresh follows")
}

func TestOrderRevisionsGeneratorSlicesAndSurvivesSliceError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/connect/token", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "tok", "expires_in": 3600})
	})
	mux.HandleFunc("/api/v2/Intraday/OrderRevisions/ByUpdatedTime", func(w http.ResponseWriter, r *http.Request) {
		// The second 4h slice starts at 04:00; fail it to prove the
		// generator keeps going.
		if r.URL.Query().Get("updatedTimeFrom") == "2026-03-01T04:00:00Z" {
			http.Error(w, "boom", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"contracts": []interface{}{}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := NewClient(config.Config{
		UpstreamBaseURL:  srv.URL,
		UpstreamSTSURL:   srv.URL + "/connect/token",
		UpstreamUsername: "u",
		UpstreamPassword: "p",
	}, zerolog.Nop())

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(10 * time.Hour)

	var slices []RevisionSlice
	for s := range c.OrderRevisionsByUpdatedTime(context.Background(), "SE1", from, to, 4*time.Hour) {
		slices = append(slices, s)
	}

	require.Len(t, slices, 3, "10h window slices into 4h+4h+2h")
	assert.NoError(t, slices[0].Err)
	assert.NotNil(t, slices[0].Payload)
	assert.Error(t, slices[1].Err, "the failed slice is yielded, not swallowed")
	assert.NoError(t, slices[2].Err)
	assert.Equal(t, to, slices[2].To)
}

func TestDisabledClientFailsFastWithFatalConfig(t *testing.T) {
	c := NewClient(config.Config{UpstreamBaseURL: "https://example.invalid"}, zerolog.Nop())

	_, err := c.TradesByDeliveryStart(context.Background(), "SE1", time.Now(), time.Now())
	require.Error(t, err)
	var fatal *errs.FatalConfig
	assert.True(t, errors.As(err, &fatal))
}

package tdx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsa-ts/orgsync/internal/config"
	"github.com/lsa-ts/orgsync/internal/resilience"
	"github.com/lsa-ts/orgsync/internal/source"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.TDXConfig{
		BaseURL:    srv.URL,
		AppID:      48,
		Token:      "test-token",
		MaxPerCall: 100,
		RatePerSec: 1000,
	})
}

func TestAccountsFetchByKeys(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"ID": 42, "Name": "LSA Chemistry", "ModifiedDate": "2026-08-01T12:00:00Z"},
		})
	})

	docs, err := c.Accounts().FetchByKeys(context.Background(), []string{"42"})
	require.NoError(t, err)
	require.Len(t, docs, 1)

	assert.Equal(t, "/48/accounts/search", gotPath)
	assert.Equal(t, []any{"42"}, gotBody["AccountIDs"])
	assert.Equal(t, "42", docs[0].ExternalID, "numeric id rendered as string")
	require.NotNil(t, docs[0].ModifiedAt)
	assert.Equal(t, time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC), docs[0].ModifiedAt.UTC())
	assert.Equal(t, "LSA Chemistry", docs[0].Payload["Name"])
}

func TestFetchChangedSincePassesCursor(t *testing.T) {
	var gotBody map[string]any
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotBody = nil // Decode merges into a non-nil map, which would keep keys from the previous request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode([]map[string]any{})
	})

	since := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	_, err := c.Users().FetchChangedSince(context.Background(), &since)
	require.NoError(t, err)
	assert.Equal(t, "2026-08-01T00:00:00Z", gotBody["ModifiedDateFrom"])

	_, err = c.Users().FetchAll(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, gotBody, "ModifiedDateFrom")
}

func TestListKeys(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"SerialNumber": "C02AAA", "Name": "one"},
			{"SerialNumber": "C02BBB", "Name": "two"},
			{"Name": "no serial, dropped"},
		})
	})

	lister, ok := c.Computers().(source.Lister)
	require.True(t, ok, "tdx views support key listing")

	keys, err := lister.ListKeys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"C02AAA", "C02BBB"}, keys)
}

func TestServerErrorIsTransient(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.Assets().FetchAll(context.Background())
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestClientErrorIsPermanent(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	_, err := c.Assets().FetchAll(context.Background())
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
	assert.True(t, resilience.IsPermanent(err))
}

func TestCircuitOpensAfterRepeatedFailures(t *testing.T) {
	var calls atomic.Int64
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	src := c.Assets()
	for i := 0; i < 10; i++ {
		_, _ = src.FetchAll(context.Background())
	}

	// The breaker opens at its threshold and rejects the rest locally.
	assert.Less(t, calls.Load(), int64(10))
}

package polymarket

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrderBooksRetriesWithSamePayload(t *testing.T) {
	const want = `[{"token_id":"tok-yes"},{"token_id":"tok-no"}]`

	var bodies []string
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/books", r.URL.Path)
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		bodies = append(bodies, string(raw))

		calls++
		if calls == 1 {
			http.Error(w, "upstream hiccup", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`[{"market":"mkt-1","asset_id":"tok-yes","bids":[],"asks":[]}]`))
	}))
	defer srv.Close()

	c := NewClobClient(srv.URL, srv.URL)
	c.SetRetry(3, time.Millisecond)

	snaps, err := c.GetOrderBooks(context.Background(), []string{"tok-yes", "tok-no"})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "tok-yes", snaps[0].TokenID)

	// The 500 must be retried, and the second attempt must resend the
	// original payload untouched.
	require.Len(t, bodies, 2)
	assert.JSONEq(t, want, bodies[0])
	assert.JSONEq(t, want, bodies[1])
}

func TestGetTradesSendsAuthHeadersWhenConfigured(t *testing.T) {
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClobClient(srv.URL, srv.URL)
	// Secret must be url-base64; "c2VjcmV0" decodes to "secret".
	c.SetCredentials("key-1", "c2VjcmV0", "pass-1")

	_, err := c.GetTrades(context.Background(), "mkt-1", "0xcond", time.Time{}, 10)
	require.NoError(t, err)

	assert.Equal(t, "key-1", gotHeaders.Get("POLY_API_KEY"))
	assert.Equal(t, "pass-1", gotHeaders.Get("POLY_PASSPHRASE"))
	assert.NotEmpty(t, gotHeaders.Get("POLY_SIGNATURE"))
	assert.NotEmpty(t, gotHeaders.Get("POLY_TIMESTAMP"))
}

func TestGetOrderBooksSkipsRequestForNoTokens(t *testing.T) {
	c := NewClobClient("http://unreachable.invalid", "")
	snaps, err := c.GetOrderBooks(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, snaps)
}

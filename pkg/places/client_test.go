package places

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "plumber near 90210", r.URL.Query().Get("query"))
		assert.Equal(t, "30", r.URL.Query().Get("limit"))
		assert.Equal(t, "us", r.URL.Query().Get("region"))
		assert.Equal(t, "test-key", r.Header.Get("X-RapidAPI-Key"))
		assert.Equal(t, "local-business-data.p.rapidapi.com", r.Header.Get("X-RapidAPI-Host"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": "OK",
			"data": [
				{"place_id": "p1", "name": "Ace Plumbing", "phone_number": "+15551112222",
				 "website": "https://ace.example", "full_address": "1 Main St, Beverly Hills, CA",
				 "rating": 4.8, "review_count": 120, "type": "Plumber"},
				{"place_id": "p2", "name": "Budget Pipes"}
			]
		}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", "local-business-data.p.rapidapi.com", WithBaseURL(srv.URL))
	results, err := c.Search(context.Background(), "plumber near 90210")
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "Ace Plumbing", results[0].Name)
	assert.Equal(t, "https://ace.example", results[0].Website)
	require.NotNil(t, results[0].Rating)
	assert.InDelta(t, 4.8, *results[0].Rating, 0.001)
	assert.Nil(t, results[1].Rating, "absent fields stay nil")
}

func TestSearch_Options(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "ca", r.URL.Query().Get("region"))
		_, _ = w.Write([]byte(`{"status": "OK", "data": []}`))
	}))
	defer srv.Close()

	c := NewClient("k", "h", WithBaseURL(srv.URL))
	results, err := c.Search(context.Background(), "roofing contractor near V6B 1A1",
		WithLimit(10), WithRegion("ca"))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_RetriesOn503(t *testing.T) {
	t.Parallel()

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status": "OK", "data": [{"place_id": "p1", "name": "Ace"}]}`))
	}))
	defer srv.Close()

	c := NewClient("k", "h", WithBaseURL(srv.URL))
	results, err := c.Search(context.Background(), "plumber near 90210")
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, 2, calls)
}

func TestSearch_UpstreamError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message": "invalid key"}`))
	}))
	defer srv.Close()

	c := NewClient("bad-key", "h", WithBaseURL(srv.URL))
	_, err := c.Search(context.Background(), "plumber near 90210")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

package mailer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSend(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		assert.Equal(t, "Bearer sg-key", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var payload map[string]any
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "Answer from your customer", payload["subject"])

		from := payload["from"].(map[string]any)
		assert.Equal(t, "outreach@dispatch.example", from["email"])

		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewClient("sg-key", "outreach@dispatch.example", "Dispatch", WithBaseURL(srv.URL))
	err := c.Send(context.Background(), Message{
		ToEmail: "info@aceplumbing.example",
		ToName:  "Ace Plumbing",
		Subject: "Answer from your customer",
		Body:    "Yes, the shutoff valve is in the basement.",
	})
	require.NoError(t, err)
}

func TestSend_UpstreamError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors": [{"message": "bad key"}]}`))
	}))
	defer srv.Close()

	c := NewClient("bad", "outreach@dispatch.example", "Dispatch", WithBaseURL(srv.URL))
	err := c.Send(context.Background(), Message{ToEmail: "x@example.com", Subject: "s", Body: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

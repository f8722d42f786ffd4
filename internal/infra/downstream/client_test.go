package downstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/writer/internal/core/domain"
)

func TestClient_Submit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/submit-cdr" {
			t.Errorf("expected path /submit-cdr, got %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}

		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}

		switch body["id"] {
		case "ok":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"message":"Cdr received"}`))
		case "bad":
			http.Error(w, "data is required", http.StatusUnprocessableEntity)
		default:
			http.Error(w, "try later", http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	client := NewClient(Config{URL: server.URL + "/", Timeout: time.Second})
	ctx := context.Background()

	outcome, err := client.Submit(ctx, domain.NewRecord("ok", "payload"))
	require.NoError(t, err)
	assert.True(t, outcome.Succeeded)
	assert.Equal(t, http.StatusOK, outcome.StatusCode)

	outcome, err = client.Submit(ctx, domain.NewRecord("bad", ""))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRejected, outcome.Classify())
	assert.Equal(t, "data is required", outcome.ErrorDetail)

	_, err = client.Submit(ctx, domain.NewRecord("busy", "payload"))
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Equal(t, 1, client.Health().ConsecutiveFailures)
}

func TestClient_TransportFailureMarksUnhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(Config{URL: url, Timeout: 200 * time.Millisecond})
	for i := 0; i < unhealthyAfter; i++ {
		_, err := client.Submit(context.Background(), domain.NewRecord("r", "d"))
		require.Error(t, err)
	}

	assert.False(t, client.Health().Available)
	assert.Error(t, client.Check(context.Background()))
}

package cli

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCallAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/batches" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"instance_id":"batch-1","state":"pending"}`))
	}))
	defer srv.Close()

	var started startedInstance
	if err := callAPI(context.Background(), http.MethodPost, srv.URL+"/batches", []byte(`{}`), http.StatusAccepted, &started); err != nil {
		t.Fatalf("callAPI failed: %v", err)
	}
	if started.InstanceID != "batch-1" {
		t.Errorf("expected batch-1, got %s", started.InstanceID)
	}

	if err := callAPI(context.Background(), http.MethodGet, srv.URL+"/missing", nil, http.StatusOK, &started); err == nil {
		t.Error("expected error for unexpected status")
	}
}

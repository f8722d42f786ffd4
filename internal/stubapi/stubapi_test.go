package stubapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/writer/internal/core/domain"
	"github.com/vietddude/writer/internal/infra/downstream"
)

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/submit-cdr", strings.NewReader(body))
	h.ServeHTTP(rec, req)
	return rec
}

func TestStub_Accepts(t *testing.T) {
	h := NewServer(Config{}, nil).Routes()

	rec := post(t, h, `{"id":"rec_1","data":"x"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Cdr received"}`, rec.Body.String())
}

func TestStub_RejectsEmptyData(t *testing.T) {
	h := NewServer(Config{}, nil).Routes()

	assert.Equal(t, http.StatusUnprocessableEntity, post(t, h, `{"id":"rec_1","data":"  "}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(t, h, `{`).Code)
}

func TestStub_SimulatesOutage(t *testing.T) {
	s := NewServer(Config{FailureRate: 0.3}, nil)
	rolls := []float64{0.1, 0.9}
	s.random = func() float64 {
		r := rolls[0]
		rolls = rolls[1:]
		return r
	}
	h := s.Routes()

	assert.Equal(t, http.StatusServiceUnavailable, post(t, h, `{"id":"a","data":"x"}`).Code)
	assert.Equal(t, http.StatusOK, post(t, h, `{"id":"a","data":"x"}`).Code)
}

func TestStub_WithDownstreamClient(t *testing.T) {
	srv := httptest.NewServer(NewServer(Config{}, nil).Routes())
	defer srv.Close()

	client := downstream.NewClient(downstream.Config{URL: srv.URL})

	outcome, err := client.Submit(context.Background(), domain.NewRecord("rec_1", "data"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, outcome.Classify())

	outcome, err = client.Submit(context.Background(), domain.NewRecord("rec_2", ""))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRejected, outcome.Classify())
}

package provider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/punchamoorthee/freightbank/internal/domain"
	"github.com/punchamoorthee/freightbank/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingSource hands out numbered tokens and records invalidations.
type countingSource struct {
	issued      atomic.Int32
	invalidated atomic.Int32
}

func (s *countingSource) Token(ctx context.Context) (string, error) {
	n := s.issued.Add(1)
	return "token-" + strconv.Itoa(int(n)), nil
}

func (s *countingSource) Invalidate() { s.invalidated.Add(1) }

func newTestClient(baseURL string, tokens TokenSource) *Client {
	return NewClient(ClientConfig{
		BaseURL:        baseURL,
		Timeout:        2 * time.Second,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}, tokens, logging.Discard())
}

func TestClient_SendsBearerAndIdempotencyKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payments", r.URL.Path)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		assert.Equal(t, "pay-123", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"amount":"12.50"}`, string(body))

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"tx_1"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, &countingSource{})
	resp, err := client.Do(context.Background(), "test", http.MethodPost, "/v1/payments",
		map[string]string{"amount": "12.50"}, RequestOptions{IdempotencyKey: "pay-123"})

	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.JSONEq(t, `{"id":"tx_1"}`, string(resp.Body))
}

func TestClient_ReauthenticatesOnceAfter401(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "Bearer token-2", r.Header.Get("Authorization"))
		w.Write([]byte(`{"id":"eu_1","status":"pending"}`))
	}))
	defer server.Close()

	tokens := &countingSource{}
	client := newTestClient(server.URL, tokens)
	_, err := client.Do(context.Background(), "test", http.MethodGet, "/v1/endusers/eu_1", nil, RequestOptions{})

	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, int32(1), tokens.invalidated.Load())
}

func TestClient_Persistent401IsAuthError(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(server.URL, &countingSource{})
	_, err := client.Do(context.Background(), "test", http.MethodGet, "/v1/endusers/eu_1", nil, RequestOptions{})

	assert.ErrorIs(t, err, domain.ErrAuth)
	assert.Equal(t, int32(2), hits.Load())
}

func TestClient_RetriesServerErrorsThenGivesUp(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(server.URL, &countingSource{})
	_, err := client.Do(context.Background(), "test", http.MethodPost, "/v1/endusers", map[string]string{}, RequestOptions{})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.Equal(t, int32(3), hits.Load())

	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusBadGateway, pe.StatusCode)
}

func TestClient_RecoversAfterTransientFailure(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, &countingSource{})
	_, err := client.Do(context.Background(), "test", http.MethodGet, "/v1/ledgers/l1/balance", nil, RequestOptions{})

	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
}

func TestClient_ClientErrorsAreNotRetried(t *testing.T) {
	cases := []struct {
		status int
		kind   error
	}{
		{http.StatusBadRequest, domain.ErrValidation},
		{http.StatusUnprocessableEntity, domain.ErrValidation},
		{http.StatusForbidden, domain.ErrAuth},
		{http.StatusNotFound, domain.ErrNotFound},
		{http.StatusConflict, domain.ErrDuplicate},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			var hits atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tc.status)
				w.Write([]byte(`{"code":"bad_request","message":"EIN is not valid"}`))
			}))
			defer server.Close()

			client := newTestClient(server.URL, &countingSource{})
			_, err := client.Do(context.Background(), "test", http.MethodPost, "/v1/endusers", map[string]string{}, RequestOptions{})

			assert.ErrorIs(t, err, tc.kind)
			assert.Equal(t, int32(1), hits.Load())
			assert.Equal(t, "EIN is not valid", domain.ProviderMessage(err))
		})
	}
}

func TestClient_UnreachableIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := newTestClient(url, &countingSource{})
	_, err := client.Do(context.Background(), "test", http.MethodGet, "/v1/endusers/eu_1", nil, RequestOptions{})

	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.False(t, strings.Contains(err.Error(), "token-"), "credentials must not leak into errors")
}

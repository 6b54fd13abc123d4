package registry

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

	"github.com/workflowlabs/patternbank/internal/pattern"
	"github.com/workflowlabs/patternbank/internal/usage"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New(Config{
		BaseURL:       srv.URL,
		ContributorID: "contrib-default",
		MaxRetries:    3,
		BaseBackoff:   time.Millisecond,
	}, nil)
}

func TestClient_Push(t *testing.T) {
	var gotPath, gotContributor string
	var gotBody struct {
		Patterns []PushPattern `json:"patterns"`
	}

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContributor = r.Header.Get("x-contributor-id")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(PushResponse{
			Pushed:  1,
			Skipped: 1,
			Errors:  []PushError{{ID: "bad-1", Message: "schema rejected"}},
			RateLimit: RateLimit{
				Remaining: 41,
				ResetAt:   time.Now().UTC().Add(time.Hour),
			},
		})
	}))

	batch := []PushPattern{
		{ID: "fix-1", Type: pattern.KindFix, Data: json.RawMessage(`{"id":"fix-1"}`), Hash: "abc"},
		{ID: "fix-2", Type: pattern.KindFix, Data: json.RawMessage(`{"id":"fix-2"}`), Hash: "def"},
		{ID: "bad-1", Type: pattern.KindFix, Data: json.RawMessage(`{"id":"bad-1"}`), Hash: "ghi"},
	}
	resp, err := c.Push(context.Background(), batch, "contrib-1")
	require.NoError(t, err)

	assert.Equal(t, "/api/patterns/push", gotPath)
	assert.Equal(t, "contrib-1", gotContributor, "explicit contributor id wins over the client default")
	require.Len(t, gotBody.Patterns, 3)
	assert.Equal(t, "fix-1", gotBody.Patterns[0].ID)
	assert.Equal(t, pattern.KindFix, gotBody.Patterns[0].Type)
	assert.Equal(t, "abc", gotBody.Patterns[0].Hash)

	assert.Equal(t, 1, resp.Pushed)
	assert.Equal(t, 1, resp.Skipped)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "bad-1", resp.Errors[0].ID)
	assert.Equal(t, 41, resp.RateLimit.Remaining)
}

func TestClient_PushEmptyBatch(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("empty push must not touch the network")
	}))

	resp, err := c.Push(context.Background(), nil, "contrib-1")
	require.NoError(t, err)
	assert.Zero(t, resp.Pushed)
}

func TestClient_Pull(t *testing.T) {
	var gotQuery map[string]string

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/patterns/pull", r.URL.Path)
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}

		json.NewEncoder(w).Encode(PullResponse{
			Patterns: []json.RawMessage{
				json.RawMessage(`{"id":"a"}`),
				json.RawMessage(`{"id":"b"}`),
			},
			Pagination: Pagination{Offset: 10, Limit: 2, Total: 40, HasMore: true},
		})
	}))

	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	resp, err := c.Pull(context.Background(), PullOptions{
		Type:   pattern.KindBlueprint,
		Limit:  2,
		Offset: 10,
		Since:  since,
	})
	require.NoError(t, err)

	assert.Equal(t, "blueprint", gotQuery["type"])
	assert.Equal(t, "2", gotQuery["limit"])
	assert.Equal(t, "10", gotQuery["offset"])
	assert.Equal(t, "2026-03-01T00:00:00Z", gotQuery["since"])

	assert.Len(t, resp.Patterns, 2)
	assert.True(t, resp.Pagination.HasMore)
	assert.Equal(t, 40, resp.Pagination.Total)
}

func TestClient_GetPattern(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/patterns/known-id":
			w.Write([]byte(`{"id":"known-id"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	t.Run("found", func(t *testing.T) {
		raw, err := c.GetPattern(context.Background(), "known-id")
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"known-id"}`, string(raw))
	})

	t.Run("missing is nil, not an error", func(t *testing.T) {
		raw, err := c.GetPattern(context.Background(), "missing-id")
		require.NoError(t, err)
		assert.Nil(t, raw)
	})
}

func TestClient_RateLimitNotRetried(t *testing.T) {
	var calls atomic.Int32
	resetAt := time.Now().UTC().Add(2 * time.Minute).Truncate(time.Second)

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"message":   "quota exhausted",
			"resetAt":   resetAt,
			"remaining": 0,
		})
	}))

	_, err := c.Push(context.Background(), []PushPattern{{ID: "x"}}, "contrib-1")
	require.Error(t, err)

	var rlErr *RateLimitError
	require.ErrorAs(t, err, &rlErr)
	assert.Equal(t, "quota exhausted", rlErr.Message)
	assert.True(t, rlErr.ResetAt.Equal(resetAt))
	assert.Contains(t, rlErr.Error(), "retry in")

	assert.Equal(t, int32(1), calls.Load(), "429 must never be retried")
}

func TestClient_RateLimitHeaderFallback(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := c.Push(context.Background(), []PushPattern{{ID: "x"}}, "contrib-1")

	var rlErr *RateLimitError
	require.ErrorAs(t, err, &rlErr)
	assert.WithinDuration(t, time.Now().UTC().Add(2*time.Minute), rlErr.ResetAt, 5*time.Second)
}

func TestClient_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"pattern schema invalid"}`))
	}))

	_, err := c.Push(context.Background(), []PushPattern{{ID: "x"}}, "contrib-1")
	require.Error(t, err)

	var regErr *RegistryError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, http.StatusUnprocessableEntity, regErr.StatusCode)
	assert.Equal(t, "pattern schema invalid", regErr.Message)

	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestClient_ServerErrorRetried(t *testing.T) {
	var calls atomic.Int32

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(PushResponse{Pushed: 1})
	}))

	resp, err := c.Push(context.Background(), []PushPattern{{ID: "x"}}, "contrib-1")
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Pushed)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	err := c.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")

	var regErr *RegistryError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, http.StatusServiceUnavailable, regErr.StatusCode)

	assert.Equal(t, int32(4), calls.Load(), "initial attempt plus three retries")
}

func TestClient_SendEvents(t *testing.T) {
	var gotPath string
	var gotBody struct {
		Events []usage.Event `json:"events"`
	}

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
	}))

	events := []usage.Event{
		{ID: "ev-1", Type: usage.EventApplied, PatternID: "pat-1", PatternType: pattern.KindFix},
	}
	require.NoError(t, c.SendEvents(context.Background(), events))

	assert.Equal(t, "/api/events", gotPath)
	require.Len(t, gotBody.Events, 1)
	assert.Equal(t, "ev-1", gotBody.Events[0].ID)
}

func TestClient_HealthCheck(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))

	assert.NoError(t, c.HealthCheck(context.Background()))
}

func TestClient_BaseURLResolution(t *testing.T) {
	t.Run("environment overrides the default", func(t *testing.T) {
		t.Setenv(EnvBaseURL, "https://staging.example/")
		c := New(Config{}, nil)
		assert.Equal(t, "https://staging.example", c.baseURL)
	})

	t.Run("explicit config wins over the environment", func(t *testing.T) {
		t.Setenv(EnvBaseURL, "https://staging.example/")
		c := New(Config{BaseURL: "https://explicit.example"}, nil)
		assert.Equal(t, "https://explicit.example", c.baseURL)
	})

	t.Run("default applies when nothing is set", func(t *testing.T) {
		t.Setenv(EnvBaseURL, "")
		c := New(Config{}, nil)
		assert.Equal(t, "https://registry-api.example", c.baseURL)
	})
}

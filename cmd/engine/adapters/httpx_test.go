package adapters

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenflow/orchestrator/common/config"
	"github.com/lumenflow/orchestrator/common/errs"
	"github.com/lumenflow/orchestrator/common/logger"
	"github.com/lumenflow/orchestrator/common/models"
)

func testConfig() config.AdapterConfig {
	return config.AdapterConfig{
		RetryMaxAttempts:       3,
		RetryBackoff:           []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second},
		ConnectTimeout:         5 * time.Second,
		ReadTimeout:            30 * time.Second,
		MaxResponseBytes:       10 * 1024 * 1024,
		PerUserConcurrency:     10,
		PerUserWaitQueueLength: 50,
	}
}

// newTestClient returns a client whose sleeps are recorded, not taken
func newTestClient(cfg config.AdapterConfig) (*httpxClient, *[]time.Duration) {
	log := logger.New("error", "json")
	client := newHTTPXClient(cfg, log, NewLimiter(cfg.PerUserConcurrency, cfg.PerUserWaitQueueLength))

	var slept []time.Duration
	client.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return client, &slept
}

type fakeHandle struct {
	cred       *models.DecryptedCredential
	refreshed  atomic.Int32
	refreshErr error
}

func (f *fakeHandle) Get(ctx context.Context) (*models.DecryptedCredential, error) {
	return f.cred, nil
}

func (f *fakeHandle) Refresh(ctx context.Context) (*models.DecryptedCredential, error) {
	f.refreshed.Add(1)
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	fresh := *f.cred
	fresh.AccessToken = "refreshed-token"
	f.cred = &fresh
	return f.cred, nil
}

func TestDo_RetryThenSucceed(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client, slept := newTestClient(testConfig())
	resp, err := client.Do(context.Background(), &httpxRequest{
		Method: http.MethodGet, URL: srv.URL, UserID: "u1", Provider: "http",
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *slept)
}

func TestDo_ExhaustedRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, slept := newTestClient(testConfig())
	_, err := client.Do(context.Background(), &httpxRequest{
		Method: http.MethodGet, URL: srv.URL, UserID: "u1", Provider: "http",
	})

	require.Error(t, err)
	assert.Equal(t, errs.KindUpstreamTransient, errs.KindOf(err))
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, *slept)
}

func TestDo_RetryAfterHintRespected(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "5")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client, slept := newTestClient(testConfig())
	_, err := client.Do(context.Background(), &httpxRequest{
		Method: http.MethodGet, URL: srv.URL, UserID: "u1", Provider: "http",
	})

	require.NoError(t, err)
	require.Len(t, *slept, 1)
	assert.Equal(t, 5*time.Second, (*slept)[0])
}

func TestDo_RetryAfterCapped(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "600")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client, slept := newTestClient(testConfig())
	_, err := client.Do(context.Background(), &httpxRequest{
		Method: http.MethodGet, URL: srv.URL, UserID: "u1", Provider: "http",
	})

	require.NoError(t, err)
	require.Len(t, *slept, 1)
	assert.Equal(t, 30*time.Second, (*slept)[0])
}

func TestDo_PermanentClientErrorNoRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client, slept := newTestClient(testConfig())
	_, err := client.Do(context.Background(), &httpxRequest{
		Method: http.MethodGet, URL: srv.URL, UserID: "u1", Provider: "http",
	})

	require.Error(t, err)
	assert.Equal(t, errs.KindUpstreamPermanent, errs.KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, *slept)
}

func TestDo_ResponseSizeCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.MaxResponseBytes = 1024
	client, slept := newTestClient(cfg)

	_, err := client.Do(context.Background(), &httpxRequest{
		Method: http.MethodGet, URL: srv.URL, UserID: "u1", Provider: "http",
	})

	require.Error(t, err)
	assert.Equal(t, errs.KindUpstreamPermanent, errs.KindOf(err))
	assert.Empty(t, *slept, "size violations must not retry")
}

func TestDo_RefreshOnceOn401(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer refreshed-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	handle := &fakeHandle{cred: &models.DecryptedCredential{
		UserID: "u1", Provider: "google_calendar", AccessToken: "stale-token",
	}}

	client, _ := newTestClient(testConfig())
	resp, err := client.Do(context.Background(), &httpxRequest{
		Method: http.MethodGet, URL: srv.URL, UserID: "u1", Provider: "google_calendar",
		Cred: handle, Authorize: bearerAuth,
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), handle.refreshed.Load())
	assert.Equal(t, int32(2), calls.Load())
}

func TestDo_SecondAuthFailureIsCredentialInvalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	handle := &fakeHandle{cred: &models.DecryptedCredential{
		UserID: "u1", Provider: "github", AccessToken: "bad",
	}}

	client, _ := newTestClient(testConfig())
	_, err := client.Do(context.Background(), &httpxRequest{
		Method: http.MethodGet, URL: srv.URL, UserID: "u1", Provider: "github",
		Cred: handle, Authorize: bearerAuth,
	})

	require.Error(t, err)
	assert.Equal(t, errs.KindCredentialInvalid, errs.KindOf(err))
	assert.Equal(t, int32(1), handle.refreshed.Load())
}

func TestDo_CancellationAborts(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	client, _ := newTestClient(testConfig())
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := client.Do(ctx, &httpxRequest{
			Method: http.MethodGet, URL: srv.URL, UserID: "u1", Provider: "http",
		})
		errCh <- err
	}()

	<-started
	cancel()

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.Equal(t, errs.KindCanceled, errs.KindOf(err))
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation did not abort in-flight request within grace period")
	}
}

func TestLimiter_QueueOverflowIsRateLimited(t *testing.T) {
	limiter := NewLimiter(1, 0)

	release, err := limiter.Acquire(context.Background(), "u1", "slack")
	require.NoError(t, err)
	defer release()

	_, err = limiter.Acquire(context.Background(), "u1", "slack")
	require.Error(t, err)
	assert.Equal(t, errs.KindRateLimited, errs.KindOf(err))
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	limiter := NewLimiter(1, 0)

	release1, err := limiter.Acquire(context.Background(), "u1", "slack")
	require.NoError(t, err)
	defer release1()

	release2, err := limiter.Acquire(context.Background(), "u2", "slack")
	require.NoError(t, err)
	defer release2()
}

package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/lumenflow/orchestrator/common/config"
	"github.com/lumenflow/orchestrator/common/errs"
	"github.com/lumenflow/orchestrator/common/logger"
	"github.com/lumenflow/orchestrator/common/models"
)

// retryAfterCap bounds how long a 429 Retry-After hint can delay a retry
const retryAfterCap = 30 * time.Second

// authorizeFunc attaches authentication to an outgoing request
type authorizeFunc func(req *http.Request, cred *models.DecryptedCredential)

// httpxRequest describes one upstream call made through the shared client
type httpxRequest struct {
	Method string
	URL    string
	Query  url.Values
	Header http.Header
	Body   any // JSON-marshaled when non-nil

	// Limiter key; also the only identity that appears in logs
	UserID   string
	Provider string

	// Cred + Authorize wire token auth. Cred may be nil for calls
	// authenticated from parameters (generic HTTP adapter).
	Cred      CredentialHandle
	Authorize authorizeFunc
}

// httpxResponse is the raw upstream response after size checks
type httpxResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// httpxClient implements the retry, backoff, token-refresh, and size-cap
// policy shared by every adapter. One instance is shared process-wide.
type httpxClient struct {
	http    *http.Client
	cfg     config.AdapterConfig
	log     *logger.Logger
	limiter *Limiter

	// sleep is injectable so tests can observe backoff without waiting
	sleep func(ctx context.Context, d time.Duration) error
}

func newHTTPXClient(cfg config.AdapterConfig, log *logger.Logger, limiter *Limiter) *httpxClient {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		MaxIdleConnsPerHost: 10,
	}

	return &httpxClient{
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.ReadTimeout,
		},
		cfg:     cfg,
		log:     log,
		limiter: limiter,
		sleep:   sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do performs the request with the full adapter policy: per-(user,provider)
// concurrency cap, lazy credential resolution, one refresh-and-retry on
// 401/403, bounded retries with exponential backoff for transient failures,
// Retry-After hints for 429, and a hard response size cap.
func (c *httpxClient) Do(ctx context.Context, r *httpxRequest) (*httpxResponse, error) {
	release, err := c.limiter.Acquire(ctx, r.UserID, r.Provider)
	if err != nil {
		return nil, err
	}
	defer release()

	var cred *models.DecryptedCredential
	refreshed := false

	maxRetries := c.cfg.RetryMaxAttempts
	attempt := 0
	for {
		// Resolve credential lazily on the first authenticated attempt
		if r.Authorize != nil && r.Cred != nil && cred == nil {
			cred, err = r.Cred.Get(ctx)
			if err != nil {
				return nil, err
			}
		}

		resp, err := c.attempt(ctx, r, cred)
		if err == nil && resp.StatusCode < 300 {
			return resp, nil
		}

		if err != nil {
			// Cancellation and timeouts of the caller are final
			if ctx.Err() != nil {
				if ctx.Err() == context.DeadlineExceeded {
					return nil, errs.Wrap(errs.KindTimeout, ctx.Err(), "%s %s timed out", r.Method, r.Provider)
				}
				return nil, errs.Wrap(errs.KindCanceled, ctx.Err(), "%s %s canceled", r.Method, r.Provider)
			}
			// Size-cap violations and other permanent errors do not retry
			if kind := errs.KindOf(err); !errs.Retriable(kind) && kind != errs.KindInternal {
				return nil, err
			}
			if attempt >= maxRetries {
				return nil, errs.Wrap(errs.KindUpstreamTransient, err, "request failed after %d attempts", attempt+1)
			}
			if serr := c.sleep(ctx, c.backoff(attempt)); serr != nil {
				return nil, errs.Wrap(errs.KindCanceled, serr, "canceled during retry backoff")
			}
			attempt++
			continue
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			if r.Cred == nil || refreshed {
				return nil, errs.New(errs.KindCredentialInvalid,
					"provider %s rejected credentials (status %d)", r.Provider, resp.StatusCode)
			}
			// One transparent refresh, then retry immediately
			refreshed = true
			cred, err = r.Cred.Refresh(ctx)
			if err != nil {
				return nil, err
			}
			c.log.Info("credential refreshed after auth failure",
				"provider", r.Provider, "user_id", r.UserID)
			continue

		case resp.StatusCode == http.StatusTooManyRequests:
			if attempt >= maxRetries {
				return nil, errs.New(errs.KindRateLimited, "provider %s rate limited", r.Provider)
			}
			delay := c.backoff(attempt)
			if hint, ok := retryAfterHint(resp.Header); ok {
				delay = hint
			}
			if serr := c.sleep(ctx, delay); serr != nil {
				return nil, errs.Wrap(errs.KindCanceled, serr, "canceled during rate-limit wait")
			}
			attempt++
			continue

		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout:
			if attempt >= maxRetries {
				return nil, errs.New(errs.KindUpstreamTransient,
					"provider %s returned status %d after %d attempts", r.Provider, resp.StatusCode, attempt+1)
			}
			if serr := c.sleep(ctx, c.backoff(attempt)); serr != nil {
				return nil, errs.Wrap(errs.KindCanceled, serr, "canceled during retry backoff")
			}
			attempt++
			continue

		default:
			return nil, errs.New(errs.KindUpstreamPermanent,
				"provider %s returned status %d", r.Provider, resp.StatusCode)
		}
	}
}

// attempt performs a single request. The response body is read eagerly under
// the size cap so connections are reused and truncation is detected here.
func (c *httpxClient) attempt(ctx context.Context, r *httpxRequest, cred *models.DecryptedCredential) (*httpxResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.ReadTimeout)
	defer cancel()

	fullURL := r.URL
	if len(r.Query) > 0 {
		sep := "?"
		if u, perr := url.Parse(r.URL); perr == nil && u.RawQuery != "" {
			sep = "&"
		}
		fullURL = r.URL + sep + r.Query.Encode()
	}

	var bodyReader io.Reader
	if r.Body != nil {
		payload, err := json.Marshal(r.Body)
		if err != nil {
			return nil, errs.Wrap(errs.KindInvalidInput, err, "marshal request body")
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(attemptCtx, r.Method, fullURL, bodyReader)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidInput, err, "build request")
	}

	for key, values := range r.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if r.Body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.Authorize != nil {
		r.Authorize(req, cred)
	}

	// Only operation-level facts are logged; never bodies or tokens
	c.log.Debug("adapter request", "provider", r.Provider, "method", r.Method, "url", r.URL)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindUpstreamTransient, err, "%s %s failed", r.Method, r.Provider)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, c.cfg.MaxResponseBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, errs.Wrap(errs.KindUpstreamTransient, err, "read response body")
	}
	if int64(len(body)) > c.cfg.MaxResponseBytes {
		return nil, errs.New(errs.KindUpstreamPermanent,
			"response exceeds %d byte limit", c.cfg.MaxResponseBytes)
	}

	return &httpxResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// backoff returns the delay before retry number attempt+1
func (c *httpxClient) backoff(attempt int) time.Duration {
	if len(c.cfg.RetryBackoff) == 0 {
		return 2 * time.Second
	}
	if attempt >= len(c.cfg.RetryBackoff) {
		return c.cfg.RetryBackoff[len(c.cfg.RetryBackoff)-1]
	}
	return c.cfg.RetryBackoff[attempt]
}

// retryAfterHint parses a Retry-After header, capped at retryAfterCap
func retryAfterHint(header http.Header) (time.Duration, bool) {
	raw := header.Get("Retry-After")
	if raw == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0, false
	}
	d := time.Duration(secs) * time.Second
	if d > retryAfterCap {
		d = retryAfterCap
	}
	return d, true
}

// decodeJSON parses a response body into adapter result data. Non-JSON
// bodies come back opaque under "raw"; top-level arrays nest under "items".
func decodeJSON(body []byte) map[string]any {
	if len(body) == 0 {
		return map[string]any{}
	}

	var asMap map[string]any
	if err := json.Unmarshal(body, &asMap); err == nil {
		return asMap
	}

	var asList []any
	if err := json.Unmarshal(body, &asList); err == nil {
		return map[string]any{"items": asList}
	}

	return map[string]any{"raw": body}
}

// bearerAuth is the common Authorization: Bearer header setter
func bearerAuth(req *http.Request, cred *models.DecryptedCredential) {
	if cred != nil {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", cred.AccessToken))
	}
}

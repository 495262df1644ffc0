package adapters

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lumenflow/orchestrator/cmd/engine/params"
	"github.com/lumenflow/orchestrator/common/errs"
	"github.com/lumenflow/orchestrator/common/logger"
	"github.com/lumenflow/orchestrator/common/models"
)

// HTTPAdapter is the generic HTTP tool. Authentication comes from call
// parameters (bearer, api-key in header or query, or basic), not from the
// OAuth2 credential store. URLs are not filtered; an allowlist hook is
// reserved via SetURLFilter.
type HTTPAdapter struct {
	client    *httpxClient
	log       *logger.Logger
	urlFilter func(string) error
}

// NewHTTPAdapter creates the generic HTTP adapter
func NewHTTPAdapter(client *httpxClient, log *logger.Logger) *HTTPAdapter {
	return &HTTPAdapter{client: client, log: log}
}

// SetURLFilter installs an optional URL filter. Reserved for deployments
// that need an allowlist; the default accepts every URL.
func (a *HTTPAdapter) SetURLFilter(filter func(string) error) {
	a.urlFilter = filter
}

func (a *HTTPAdapter) Provider() string { return "http" }

func (a *HTTPAdapter) Operations() []string { return []string{"request"} }

// Call performs a single HTTP request described by params
func (a *HTTPAdapter) Call(ctx context.Context, operation string, callParams map[string]any, cred CredentialHandle) (*Result, error) {
	started := time.Now()

	if operation != "request" {
		err := unknownOperation(a.Provider(), operation)
		return failure(err, started), err
	}

	rawURL, err := requireParam(callParams, "url")
	if err != nil {
		return failure(err, started), err
	}
	if a.urlFilter != nil {
		if ferr := a.urlFilter(rawURL); ferr != nil {
			err := errs.Wrap(errs.KindInvalidInput, ferr, "url rejected by filter")
			return failure(err, started), err
		}
	}

	method := strings.ToUpper(params.String(callParams, "method"))
	if method == "" {
		method = http.MethodGet
	}

	header := make(http.Header)
	for key, value := range params.Map(callParams, "headers") {
		if s, ok := value.(string); ok {
			header.Set(key, s)
		}
	}

	query := url.Values{}
	for key, value := range params.Map(callParams, "query") {
		if s, ok := value.(string); ok {
			query.Set(key, s)
		}
	}

	authorize, err := a.authorizer(params.Map(callParams, "auth"), header, query)
	if err != nil {
		return failure(err, started), err
	}

	resp, err := a.client.Do(ctx, &httpxRequest{
		Method:    method,
		URL:       rawURL,
		Query:     query,
		Header:    header,
		Body:      callParams["body"],
		UserID:    params.String(callParams, "user_id"),
		Provider:  a.Provider(),
		Authorize: authorize,
	})
	if err != nil {
		return failure(err, started), err
	}

	data := decodeJSON(resp.Body)
	data["status_code"] = resp.StatusCode

	return success(data, started, map[string]any{"operation": operation}), nil
}

// authorizer builds the parameter-driven auth mode
func (a *HTTPAdapter) authorizer(auth map[string]any, header http.Header, query url.Values) (authorizeFunc, error) {
	if len(auth) == 0 {
		return nil, nil
	}

	switch params.String(auth, "type") {
	case "bearer":
		token := params.String(auth, "token")
		return func(req *http.Request, _ *models.DecryptedCredential) {
			req.Header.Set("Authorization", "Bearer "+token)
		}, nil

	case "api_key":
		name := params.String(auth, "key_name")
		if name == "" {
			return nil, errs.New(errs.KindInvalidInput, "api_key auth requires key_name")
		}
		value := params.String(auth, "key_value")
		if params.String(auth, "in") == "query" {
			query.Set(name, value)
			return nil, nil
		}
		return func(req *http.Request, _ *models.DecryptedCredential) {
			req.Header.Set(name, value)
		}, nil

	case "basic":
		username := params.String(auth, "username")
		password := params.String(auth, "password")
		return func(req *http.Request, _ *models.DecryptedCredential) {
			req.SetBasicAuth(username, password)
		}, nil

	default:
		return nil, errs.New(errs.KindInvalidInput, "unsupported auth type %q", params.String(auth, "type"))
	}
}

package adapters

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/lumenflow/orchestrator/cmd/engine/params"
	"github.com/lumenflow/orchestrator/common/errs"
	"github.com/lumenflow/orchestrator/common/logger"
)

const slackBaseURL = "https://slack.com/api"

// slackAuthErrors are Slack `error` values that mean the token is bad.
// Slack reports them with HTTP 200, so the transport-level refresh never
// sees them; the adapter handles the refresh itself.
var slackAuthErrors = map[string]bool{
	"invalid_auth":     true,
	"token_expired":    true,
	"token_revoked":    true,
	"account_inactive": true,
}

// SlackAdapter talks to the Slack Web API
type SlackAdapter struct {
	client  *httpxClient
	log     *logger.Logger
	baseURL string
}

// NewSlackAdapter creates the Slack adapter
func NewSlackAdapter(client *httpxClient, log *logger.Logger) *SlackAdapter {
	return &SlackAdapter{client: client, log: log, baseURL: slackBaseURL}
}

func (a *SlackAdapter) Provider() string { return "slack" }

func (a *SlackAdapter) Operations() []string {
	return []string{"send_message", "list_channels", "get_user"}
}

// Call dispatches one Slack operation, refreshing the credential once when
// Slack signals an auth failure inside a 200 response.
func (a *SlackAdapter) Call(ctx context.Context, operation string, callParams map[string]any, cred CredentialHandle) (*Result, error) {
	started := time.Now()

	data, err := a.call(ctx, operation, callParams, cred)
	if err != nil {
		return failure(err, started), err
	}

	if ok, present := data["ok"].(bool); present && !ok {
		slackErr, _ := data["error"].(string)
		if slackAuthErrors[slackErr] && cred != nil {
			if _, rerr := cred.Refresh(ctx); rerr != nil {
				return failure(rerr, started), rerr
			}
			a.log.Info("credential refreshed after slack auth error", "error_code", slackErr)
			data, err = a.call(ctx, operation, callParams, cred)
			if err != nil {
				return failure(err, started), err
			}
			if ok, present := data["ok"].(bool); !present || ok {
				return success(data, started, map[string]any{"operation": operation}), nil
			}
			slackErr, _ = data["error"].(string)
		}
		cerr := errs.New(errs.KindUpstreamPermanent, "slack returned error %q", slackErr)
		if slackAuthErrors[slackErr] {
			cerr = errs.New(errs.KindCredentialInvalid, "slack rejected credentials (%s)", slackErr)
		}
		return failure(cerr, started), cerr
	}

	return success(data, started, map[string]any{"operation": operation}), nil
}

func (a *SlackAdapter) call(ctx context.Context, operation string, callParams map[string]any, cred CredentialHandle) (map[string]any, error) {
	userID := params.String(callParams, "user_id")

	switch operation {
	case "send_message":
		channel, err := requireParam(callParams, "channel")
		if err != nil {
			return nil, err
		}
		text, err := requireParam(callParams, "text")
		if err != nil {
			return nil, err
		}
		body := map[string]any{"channel": channel, "text": text}
		if threadTS := params.String(callParams, "thread_ts"); threadTS != "" {
			body["thread_ts"] = threadTS
		}
		resp, err := a.client.Do(ctx, &httpxRequest{
			Method:    http.MethodPost,
			URL:       a.baseURL + "/chat.postMessage",
			Body:      body,
			UserID:    userID,
			Provider:  a.Provider(),
			Cred:      cred,
			Authorize: bearerAuth,
		})
		if err != nil {
			return nil, err
		}
		return decodeJSON(resp.Body), nil

	case "list_channels":
		query := url.Values{}
		if types := params.String(callParams, "types"); types != "" {
			query.Set("types", types)
		}
		resp, err := a.client.Do(ctx, &httpxRequest{
			Method:    http.MethodGet,
			URL:       a.baseURL + "/conversations.list",
			Query:     query,
			UserID:    userID,
			Provider:  a.Provider(),
			Cred:      cred,
			Authorize: bearerAuth,
		})
		if err != nil {
			return nil, err
		}
		return decodeJSON(resp.Body), nil

	case "get_user":
		slackUser, err := requireParam(callParams, "user")
		if err != nil {
			return nil, err
		}
		query := url.Values{}
		query.Set("user", slackUser)
		resp, err := a.client.Do(ctx, &httpxRequest{
			Method:    http.MethodGet,
			URL:       a.baseURL + "/users.info",
			Query:     query,
			UserID:    userID,
			Provider:  a.Provider(),
			Cred:      cred,
			Authorize: bearerAuth,
		})
		if err != nil {
			return nil, err
		}
		return decodeJSON(resp.Body), nil

	default:
		return nil, unknownOperation(a.Provider(), operation)
	}
}

package adapters

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/lumenflow/orchestrator/cmd/engine/params"
	"github.com/lumenflow/orchestrator/common/logger"
	"github.com/lumenflow/orchestrator/common/models"
)

const githubBaseURL = "https://api.github.com"

// GitHubAdapter talks to the GitHub REST API v3
type GitHubAdapter struct {
	client  *httpxClient
	log     *logger.Logger
	baseURL string
}

// NewGitHubAdapter creates the GitHub adapter
func NewGitHubAdapter(client *httpxClient, log *logger.Logger) *GitHubAdapter {
	return &GitHubAdapter{client: client, log: log, baseURL: githubBaseURL}
}

func (a *GitHubAdapter) Provider() string { return "github" }

func (a *GitHubAdapter) Operations() []string {
	return []string{"create_issue", "list_issues", "create_comment", "get_repository"}
}

// githubAuth sets the token header plus the API version GitHub wants
func githubAuth(req *http.Request, cred *models.DecryptedCredential) {
	bearerAuth(req, cred)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
}

// Call dispatches one GitHub operation. All operations require owner/repo
// except where noted.
func (a *GitHubAdapter) Call(ctx context.Context, operation string, callParams map[string]any, cred CredentialHandle) (*Result, error) {
	started := time.Now()

	owner, err := requireParam(callParams, "owner")
	if err != nil {
		return failure(err, started), err
	}
	repo, err := requireParam(callParams, "repo")
	if err != nil {
		return failure(err, started), err
	}
	userID := params.String(callParams, "user_id")
	repoPath := fmt.Sprintf("%s/repos/%s/%s", a.baseURL, url.PathEscape(owner), url.PathEscape(repo))

	var resp *httpxResponse

	switch operation {
	case "create_issue":
		title, perr := requireParam(callParams, "title")
		if perr != nil {
			return failure(perr, started), perr
		}
		body := map[string]any{"title": title}
		if text := params.String(callParams, "body"); text != "" {
			body["body"] = text
		}
		if labels := params.Slice(callParams, "labels"); len(labels) > 0 {
			body["labels"] = labels
		}
		resp, err = a.client.Do(ctx, &httpxRequest{
			Method:    http.MethodPost,
			URL:       repoPath + "/issues",
			Body:      body,
			UserID:    userID,
			Provider:  a.Provider(),
			Cred:      cred,
			Authorize: githubAuth,
		})

	case "list_issues":
		query := url.Values{}
		if state := params.String(callParams, "state"); state != "" {
			query.Set("state", state)
		}
		resp, err = a.client.Do(ctx, &httpxRequest{
			Method:    http.MethodGet,
			URL:       repoPath + "/issues",
			Query:     query,
			UserID:    userID,
			Provider:  a.Provider(),
			Cred:      cred,
			Authorize: githubAuth,
		})

	case "create_comment":
		issueNumber := params.Int(callParams, "issue_number", 0)
		if issueNumber == 0 {
			perr := requireParamError("issue_number")
			return failure(perr, started), perr
		}
		text, perr := requireParam(callParams, "body")
		if perr != nil {
			return failure(perr, started), perr
		}
		resp, err = a.client.Do(ctx, &httpxRequest{
			Method:    http.MethodPost,
			URL:       fmt.Sprintf("%s/issues/%d/comments", repoPath, issueNumber),
			Body:      map[string]any{"body": text},
			UserID:    userID,
			Provider:  a.Provider(),
			Cred:      cred,
			Authorize: githubAuth,
		})

	case "get_repository":
		resp, err = a.client.Do(ctx, &httpxRequest{
			Method:    http.MethodGet,
			URL:       repoPath,
			UserID:    userID,
			Provider:  a.Provider(),
			Cred:      cred,
			Authorize: githubAuth,
		})

	default:
		operr := unknownOperation(a.Provider(), operation)
		return failure(operr, started), operr
	}

	if err != nil {
		return failure(err, started), err
	}

	return success(decodeJSON(resp.Body), started, map[string]any{
		"operation": operation,
		"repo":      fmt.Sprintf("%s/%s", owner, repo),
	}), nil
}

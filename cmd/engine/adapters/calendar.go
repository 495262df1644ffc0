package adapters

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/lumenflow/orchestrator/cmd/engine/params"
	"github.com/lumenflow/orchestrator/common/logger"
)

// googleCalendarBaseURL is overridable for tests
const googleCalendarBaseURL = "https://www.googleapis.com/calendar/v3"

// CalendarAdapter talks to the Google Calendar REST API
type CalendarAdapter struct {
	client  *httpxClient
	log     *logger.Logger
	baseURL string
}

// NewCalendarAdapter creates the Google Calendar adapter
func NewCalendarAdapter(client *httpxClient, log *logger.Logger) *CalendarAdapter {
	return &CalendarAdapter{client: client, log: log, baseURL: googleCalendarBaseURL}
}

func (a *CalendarAdapter) Provider() string { return "google_calendar" }

func (a *CalendarAdapter) Operations() []string {
	return []string{"create_event", "list_events", "update_event", "delete_event"}
}

// Call dispatches one calendar operation. The calendar id defaults to the
// user's primary calendar.
func (a *CalendarAdapter) Call(ctx context.Context, operation string, callParams map[string]any, cred CredentialHandle) (*Result, error) {
	started := time.Now()

	calendarID := params.String(callParams, "calendar_id")
	if calendarID == "" {
		calendarID = "primary"
	}
	userID := params.String(callParams, "user_id")

	var (
		resp *httpxResponse
		err  error
	)

	switch operation {
	case "create_event":
		event := a.eventBody(callParams)
		resp, err = a.client.Do(ctx, &httpxRequest{
			Method:    http.MethodPost,
			URL:       fmt.Sprintf("%s/calendars/%s/events", a.baseURL, url.PathEscape(calendarID)),
			Body:      event,
			UserID:    userID,
			Provider:  a.Provider(),
			Cred:      cred,
			Authorize: bearerAuth,
		})

	case "list_events":
		query := url.Values{}
		if from := params.String(callParams, "time_min"); from != "" {
			query.Set("timeMin", from)
		}
		if to := params.String(callParams, "time_max"); to != "" {
			query.Set("timeMax", to)
		}
		if max := params.Int(callParams, "max_results", 0); max > 0 {
			query.Set("maxResults", fmt.Sprintf("%d", max))
		}
		resp, err = a.client.Do(ctx, &httpxRequest{
			Method:    http.MethodGet,
			URL:       fmt.Sprintf("%s/calendars/%s/events", a.baseURL, url.PathEscape(calendarID)),
			Query:     query,
			UserID:    userID,
			Provider:  a.Provider(),
			Cred:      cred,
			Authorize: bearerAuth,
		})

	case "update_event":
		eventID, perr := requireParam(callParams, "event_id")
		if perr != nil {
			return failure(perr, started), perr
		}
		resp, err = a.client.Do(ctx, &httpxRequest{
			Method:    http.MethodPatch,
			URL:       fmt.Sprintf("%s/calendars/%s/events/%s", a.baseURL, url.PathEscape(calendarID), url.PathEscape(eventID)),
			Body:      a.eventBody(callParams),
			UserID:    userID,
			Provider:  a.Provider(),
			Cred:      cred,
			Authorize: bearerAuth,
		})

	case "delete_event":
		eventID, perr := requireParam(callParams, "event_id")
		if perr != nil {
			return failure(perr, started), perr
		}
		resp, err = a.client.Do(ctx, &httpxRequest{
			Method:    http.MethodDelete,
			URL:       fmt.Sprintf("%s/calendars/%s/events/%s", a.baseURL, url.PathEscape(calendarID), url.PathEscape(eventID)),
			UserID:    userID,
			Provider:  a.Provider(),
			Cred:      cred,
			Authorize: bearerAuth,
		})

	default:
		operr := unknownOperation(a.Provider(), operation)
		return failure(operr, started), operr
	}

	if err != nil {
		return failure(err, started), err
	}

	return success(decodeJSON(resp.Body), started, map[string]any{
		"operation":   operation,
		"calendar_id": calendarID,
	}), nil
}

// eventBody builds the event payload from params. Only recognized fields
// are forwarded; a raw "event" map wins when present.
func (a *CalendarAdapter) eventBody(callParams map[string]any) map[string]any {
	if raw := params.Map(callParams, "event"); len(raw) > 0 {
		return raw
	}

	event := make(map[string]any)
	if summary := params.String(callParams, "summary"); summary != "" {
		event["summary"] = summary
	}
	if description := params.String(callParams, "description"); description != "" {
		event["description"] = description
	}
	if start := params.String(callParams, "start"); start != "" {
		event["start"] = map[string]any{"dateTime": start}
	}
	if end := params.String(callParams, "end"); end != "" {
		event["end"] = map[string]any{"dateTime": end}
	}
	if attendees := params.Slice(callParams, "attendees"); len(attendees) > 0 {
		list := make([]any, 0, len(attendees))
		for _, email := range attendees {
			if s, ok := email.(string); ok {
				list = append(list, map[string]any{"email": s})
			}
		}
		event["attendees"] = list
	}
	return event
}

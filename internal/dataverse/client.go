package dataverse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Tiliavir/timeentry-reconciler/internal/model"
	"github.com/Tiliavir/timeentry-reconciler/internal/timecalc"
)

const apiPath = "/api/data/v9.2"

// Client talks to the Dataverse Web API of one environment.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a client for the environment at envURL. httpClient must
// attach credentials; see HTTPClient.
func NewClient(httpClient *http.Client, envURL string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(envURL, "/") + apiPath,
	}
}

// APIError is a non-success response from the Web API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("dataverse API error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("dataverse API error %d (%s): %s", e.Status, e.Code, e.Message)
}

// timeEntryRecord is the projection selected by Retrieve.
type timeEntryRecord struct {
	ID    string    `json:"msdyn_timeentryid"`
	Start time.Time `json:"msdyn_start"`
	End   time.Time `json:"msdyn_end"`
}

// collectionResponse is the Web API paged response for a query.
type collectionResponse struct {
	Value    []timeEntryRecord `json:"value"`
	NextLink string            `json:"@odata.nextLink"`
}

func formatInstant(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// filterInstant keeps milliseconds so the last instant of a day is exact.
func filterInstant(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// Retrieve returns the periods of all time entries of resource with a start
// at or after the first instant of from's day and an end at or before the
// last millisecond of to's day. All result pages are followed.
func (c *Client) Retrieve(ctx context.Context, resource uuid.UUID, from, to time.Time) ([]model.Period, error) {
	filter := fmt.Sprintf("%s eq %s and %s ge %s and %s le %s",
		bookableResourceValue, resource,
		Start, filterInstant(timecalc.StartOfDay(from)),
		End, filterInstant(timecalc.LastInstant(to)),
	)
	endpoint := fmt.Sprintf("%s/%s?$select=%s,%s&$filter=%s",
		c.baseURL, EntitySetName, Start, End, url.QueryEscape(filter))

	var all []model.Period
	for endpoint != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		setODataHeaders(req)
		req.Header.Set("Prefer", "odata.maxpagesize=500")

		body, err := c.do(req, http.StatusOK)
		if err != nil {
			return nil, err
		}

		var page collectionResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("decoding dataverse response: %w", err)
		}
		for _, r := range page.Value {
			all = append(all, model.Period{Start: r.Start, End: r.End})
		}
		endpoint = page.NextLink
	}
	return all, nil
}

// Create inserts entry as a new time entry and returns its ID.
func (c *Client) Create(ctx context.Context, entry model.TimeEntry) (string, error) {
	payload := make(map[string]any, len(entry.Attributes)+4)
	for k, v := range entry.Attributes {
		if k == TimeEntryID || k == BookableResource || k == bookableResourceBind {
			continue
		}
		payload[k] = v
	}
	payload[Start] = formatInstant(entry.Start)
	payload[End] = formatInstant(entry.End)
	payload[Duration] = entry.Duration
	payload[bookableResourceBind] = fmt.Sprintf("/bookableresources(%s)", entry.ResourceRef)

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshalling time entry: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/"+EntitySetName, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	setODataHeaders(req)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("dataverse request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", apiError(resp.StatusCode, body)
	}
	return entityID(resp.Header.Get("OData-EntityId"))
}

func (c *Client) do(req *http.Request, want int) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dataverse request failed: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode != want {
		return nil, apiError(resp.StatusCode, body)
	}
	return body, nil
}

func setODataHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("OData-MaxVersion", "4.0")
	req.Header.Set("OData-Version", "4.0")
}

func apiError(status int, body []byte) error {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return &APIError{Status: status, Code: envelope.Error.Code, Message: envelope.Error.Message}
	}
	return &APIError{Status: status, Message: strings.TrimSpace(string(body))}
}

// entityID extracts the record ID from an OData-EntityId header such as
// https://org.crm.dynamics.com/api/data/v9.2/msdyn_timeentries(<guid>).
func entityID(header string) (string, error) {
	open := strings.LastIndexByte(header, '(')
	end := strings.LastIndexByte(header, ')')
	if open < 0 || end <= open {
		return "", fmt.Errorf("missing entity id in OData-EntityId %q", header)
	}
	id, err := uuid.Parse(header[open+1 : end])
	if err != nil {
		return "", fmt.Errorf("invalid entity id in OData-EntityId %q: %w", header, err)
	}
	return id.String(), nil
}

package rt

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APIError is a non-2xx response from the RT API. The engine never retries;
// callers decide what a failure means.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("rt API error %d: %s", e.StatusCode, e.Body)
}

// IsAuthError reports whether err is an authentication or authorization
// failure from the RT API.
func IsAuthError(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden)
}

// Client is a typed wrapper over the RT REST 2.0 API. All calls are
// synchronous remote I/O; a failed call surfaces as an error to the caller.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client for the given RT instance. The token is the
// event-level API token or a per-user override, resolved by the caller.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateTicket creates a ticket and returns its remote id.
func (c *Client) CreateTicket(queue, subject string, requestors []string, status, owner string, customFields map[string]string) (int, error) {
	payload := map[string]interface{}{
		"Queue":     queue,
		"Subject":   subject,
		"Requestor": requestors,
		"Status":    status,
		"Owner":     owner,
	}
	if len(customFields) > 0 {
		payload["CustomFields"] = customFields
	}

	var created struct {
		ID flexibleID `json:"id"`
	}
	if err := c.do("POST", "/ticket", payload, &created); err != nil {
		return 0, fmt.Errorf("create ticket: %w", err)
	}
	if created.ID == 0 {
		return 0, fmt.Errorf("create ticket: RT returned no ticket id")
	}
	return int(created.ID), nil
}

// GetTicket fetches a ticket with its requestors and custom fields.
func (c *Client) GetTicket(id int) (*Ticket, error) {
	var ticket Ticket
	if err := c.do("GET", fmt.Sprintf("/ticket/%d", id), nil, &ticket); err != nil {
		return nil, fmt.Errorf("get ticket %d: %w", id, err)
	}
	ticket.ID = id
	return &ticket, nil
}

// EditTicket applies a partial update to a ticket.
func (c *Client) EditTicket(id int, edit TicketEdit) error {
	fields := edit.payload()
	if len(fields) == 0 {
		return nil
	}
	if err := c.do("PUT", fmt.Sprintf("/ticket/%d", id), fields, nil); err != nil {
		return fmt.Errorf("edit ticket %d: %w", id, err)
	}
	return nil
}

// Reply posts a customer-visible correspondence on a ticket. RT attributes
// the reply to the ticket's current Requestor.
func (c *Client) Reply(id int, content, contentType string, attachments []Attachment) error {
	payload := map[string]interface{}{
		"Content":     content,
		"ContentType": contentType,
	}
	if len(attachments) > 0 {
		encoded := make([]map[string]string, 0, len(attachments))
		for _, att := range attachments {
			encoded = append(encoded, map[string]string{
				"FileName":    att.FileName,
				"FileType":    att.ContentType,
				"FileContent": base64.StdEncoding.EncodeToString(att.FileContent),
			})
		}
		payload["Attachments"] = encoded
	}
	if err := c.do("POST", fmt.Sprintf("/ticket/%d/correspond", id), payload, nil); err != nil {
		return fmt.Errorf("reply to ticket %d: %w", id, err)
	}
	return nil
}

// Comment posts an internal comment on a ticket.
func (c *Client) Comment(id int, content, contentType string) error {
	payload := map[string]interface{}{
		"Content":     content,
		"ContentType": contentType,
	}
	if err := c.do("POST", fmt.Sprintf("/ticket/%d/comment", id), payload, nil); err != nil {
		return fmt.Errorf("comment on ticket %d: %w", id, err)
	}
	return nil
}

// SearchQueue returns all tickets in the named queue, consuming the paginated
// search to completion.
func (c *Client) SearchQueue(queue string) ([]TicketSummary, error) {
	query := fmt.Sprintf("Queue = '%s'", strings.ReplaceAll(queue, "'", "\\'"))
	fields := "Subject,Status,Queue,CustomFields"

	var summaries []TicketSummary
	for page := 1; ; page++ {
		path := fmt.Sprintf("/tickets?query=%s&fields=%s&page=%d",
			url.QueryEscape(query), url.QueryEscape(fields), page)

		var result searchPage
		if err := c.do("GET", path, nil, &result); err != nil {
			return nil, fmt.Errorf("search queue %q: %w", queue, err)
		}

		for _, raw := range result.Items {
			var summary TicketSummary
			if err := json.Unmarshal(raw, &summary); err != nil {
				return nil, fmt.Errorf("search queue %q: decode item: %w", queue, err)
			}
			summaries = append(summaries, summary)
		}

		if result.Pages == 0 || page >= result.Pages {
			break
		}
	}
	return summaries, nil
}

// ListQueues returns the names of all queues visible to the token.
func (c *Client) ListQueues() ([]string, error) {
	return c.listNames("/queues/all?fields=Name")
}

// ListCustomFields returns the names of the ticket custom fields applied to
// the given queue.
func (c *Client) ListCustomFields(queue string) ([]string, error) {
	query := fmt.Sprintf("LookupType = 'RT::Queue-RT::Ticket' AND AppliedTo = '%s'",
		strings.ReplaceAll(queue, "'", "\\'"))
	return c.listNames("/customfields?fields=Name&query=" + url.QueryEscape(query))
}

// listNames consumes a paginated collection of named items.
func (c *Client) listNames(path string) ([]string, error) {
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}

	var names []string
	for page := 1; ; page++ {
		var result searchPage
		if err := c.do("GET", fmt.Sprintf("%s%spage=%d", path, separator, page), nil, &result); err != nil {
			return nil, err
		}

		for _, raw := range result.Items {
			var item namedItem
			if err := json.Unmarshal(raw, &item); err != nil {
				return nil, fmt.Errorf("decode collection item: %w", err)
			}
			if item.Name != "" {
				names = append(names, item.Name)
			}
		}

		if result.Pages == 0 || page >= result.Pages {
			break
		}
	}
	return names, nil
}

// do issues a single HTTP request against the RT API. No retries.
func (c *Client) do(method, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		jsonPayload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonPayload)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "token "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("JSON parsing error: %w", err)
		}
	}
	return nil
}

package scim

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/scimrelay/scimrelay/pkg/relayhttp"
)

const mediaType = "application/scim+json"

// maxResponseBody caps how much of a downstream response is read; SCIM
// resources are small and anything larger is noise for error reporting.
const maxResponseBody = 1 << 20

// Result is the outcome of one SCIM HTTP request. Transport-level failures
// (DNS, TCP, TLS, timeout) are reported with Status 0 and an ErrorMessage
// instead of an error return, so that retry classification is a pure
// function of the value.
type Result struct {
	Status         int
	Body           []byte
	SCIMResourceID string
	ErrorMessage   string
}

// Client performs one-shot SCIM requests against destination base URLs.
type Client struct {
	http *http.Client
}

// NewClient returns a SCIM client with the given total request timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http: relayhttp.NewClient(relayhttp.WithTimeout(timeout)),
	}
}

// NewClientWithHTTP returns a SCIM client using the provided http.Client,
// for tests that need to control the transport.
func NewClientWithHTTP(cli *http.Client) *Client {
	return &Client{http: cli}
}

// Do performs one SCIM request. resourcePath is the collection path
// ("Users", "Groups"); resourceID, when non-empty, is appended as the final
// path segment. body, when non-nil, is marshaled as SCIM JSON.
func (c *Client) Do(ctx context.Context, baseURL, token, method, resourcePath, resourceID string, body interface{}) Result {
	url := joinURL(baseURL, resourcePath, resourceID)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return Result{ErrorMessage: "marshal request body: " + err.Error()}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return Result{ErrorMessage: "build request: " + err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", mediaType)
	if body != nil {
		req.Header.Set("Content-Type", mediaType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// DNS, connection, TLS and timeout failures all land here; status 0
		// marks them retryable.
		return Result{ErrorMessage: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Result{Status: resp.StatusCode, ErrorMessage: "read response body: " + err.Error()}
	}

	result := Result{
		Status: resp.StatusCode,
		Body:   respBody,
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		result.SCIMResourceID = extractResourceID(respBody)
	}
	return result
}

// extractResourceID reads the top-level "id" field from a SCIM response
// body. Bodies that are not valid JSON objects yield an empty id; callers
// treat that as "no id returned".
func extractResourceID(body []byte) string {
	var doc struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return ""
	}
	return doc.ID
}

// joinURL joins the base URL, collection path and optional resource id,
// insensitive to stray slashes on either side.
func joinURL(baseURL, resourcePath, resourceID string) string {
	url := strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(resourcePath, "/")
	if resourceID != "" {
		url += "/" + resourceID
	}
	return url
}

// Package apiclient is the HTTP sync client for the documents API. It
// translates responses into the typed results the save scheduler consumes:
// success, revision conflict (with the current server record), not-found, or
// transient failure.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quillworks/quill/pkg/editsync"
)

const defaultRequestTimeout = 10 * time.Second

var errMissingBaseURL = errors.New("apiclient: base url is required")

// Config describes how to reach the documents API.
type Config struct {
	BaseURL string
	// HTTPClient overrides the default client (10s request timeout).
	HTTPClient *http.Client
}

// Client issues document requests against the API. It implements
// editsync.Backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient validates the configuration and constructs a Client.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("apiclient: invalid base url: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}, nil
}

type documentPayload struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Content          string `json:"content"`
	Kind             string `json:"kind"`
	Revision         int64  `json:"revision"`
	CreatedAtSeconds int64  `json:"created_at_s"`
	UpdatedAtSeconds int64  `json:"updated_at_s"`
}

type listDocumentsPayload struct {
	Documents []documentPayload `json:"documents"`
}

type createDocumentPayload struct {
	Kind string `json:"kind"`
}

type updateDocumentPayload struct {
	Content      string  `json:"content"`
	Name         *string `json:"name,omitempty"`
	BaseRevision int64   `json:"base_revision"`
}

func toDocument(payload documentPayload) editsync.Document {
	return editsync.Document{
		ID:               payload.ID,
		Name:             payload.Name,
		Content:          payload.Content,
		Kind:             payload.Kind,
		Revision:         payload.Revision,
		CreatedAtSeconds: payload.CreatedAtSeconds,
		UpdatedAtSeconds: payload.UpdatedAtSeconds,
	}
}

// List fetches all documents, most recently updated first.
func (c *Client) List(ctx context.Context) ([]editsync.Document, error) {
	response, err := c.do(ctx, http.MethodGet, "/documents", nil)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, unexpectedStatus(response)
	}
	var payload listDocumentsPayload
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("apiclient: decode list response: %w", err)
	}
	records := make([]editsync.Document, 0, len(payload.Documents))
	for _, record := range payload.Documents {
		records = append(records, toDocument(record))
	}
	return records, nil
}

// Create makes a fresh document at revision 0.
func (c *Client) Create(ctx context.Context, kind string) (editsync.Document, error) {
	body, err := json.Marshal(createDocumentPayload{Kind: kind})
	if err != nil {
		return editsync.Document{}, err
	}
	response, err := c.do(ctx, http.MethodPost, "/documents", body)
	if err != nil {
		return editsync.Document{}, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusCreated {
		return editsync.Document{}, unexpectedStatus(response)
	}
	return decodeDocument(response.Body)
}

// Fetch returns the current authoritative record for the identifier.
func (c *Client) Fetch(ctx context.Context, documentID string) (editsync.Document, error) {
	response, err := c.do(ctx, http.MethodGet, "/documents/"+url.PathEscape(documentID), nil)
	if err != nil {
		return editsync.Document{}, err
	}
	defer response.Body.Close()

	switch response.StatusCode {
	case http.StatusOK:
		return decodeDocument(response.Body)
	case http.StatusNotFound:
		return editsync.Document{}, editsync.ErrNotFound
	default:
		return editsync.Document{}, unexpectedStatus(response)
	}
}

// Update submits a compare-and-swap write. A stale base revision yields a
// *editsync.ConflictError carrying the current server record.
func (c *Client) Update(ctx context.Context, documentID string, request editsync.UpdateRequest) (editsync.Document, error) {
	body, err := json.Marshal(updateDocumentPayload{
		Content:      request.Content,
		Name:         request.Name,
		BaseRevision: request.BaseRevision,
	})
	if err != nil {
		return editsync.Document{}, err
	}
	response, err := c.do(ctx, http.MethodPatch, "/documents/"+url.PathEscape(documentID), body)
	if err != nil {
		return editsync.Document{}, err
	}
	defer response.Body.Close()

	switch response.StatusCode {
	case http.StatusOK:
		return decodeDocument(response.Body)
	case http.StatusNotFound:
		return editsync.Document{}, editsync.ErrNotFound
	case http.StatusConflict:
		current, err := decodeDocument(response.Body)
		if err != nil {
			return editsync.Document{}, err
		}
		return editsync.Document{}, &editsync.ConflictError{Current: current}
	default:
		return editsync.Document{}, unexpectedStatus(response)
	}
}

// Delete removes the document.
func (c *Client) Delete(ctx context.Context, documentID string) error {
	response, err := c.do(ctx, http.MethodDelete, "/documents/"+url.PathEscape(documentID), nil)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	switch response.StatusCode {
	case http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return editsync.ErrNotFound
	default:
		return unexpectedStatus(response)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(request)
}

func decodeDocument(body io.Reader) (editsync.Document, error) {
	var payload documentPayload
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return editsync.Document{}, fmt.Errorf("apiclient: decode document: %w", err)
	}
	return toDocument(payload), nil
}

func unexpectedStatus(response *http.Response) error {
	return fmt.Errorf("apiclient: unexpected status %d", response.StatusCode)
}

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"schemakeeper/internal/regerr"
	"schemakeeper/internal/schema/types"
	"schemakeeper/internal/store"
)

// StoreFetcher adapts the local schema store to the Fetcher interface for
// in-process deployments.
type StoreFetcher struct {
	Store store.Store
}

func (f StoreFetcher) FetchSchema(ctx context.Context, id uint32) (*types.SchemaRecord, error) {
	return f.Store.GetByID(ctx, id)
}

// HTTPFetcher retrieves schema records from a remote registry over its REST
// API, with optional basic auth.
type HTTPFetcher struct {
	baseURL  string
	username string
	password string
	client   *http.Client
}

// NewHTTPFetcher creates a fetcher against the registry at baseURL. Leave
// username empty to skip basic auth.
func NewHTTPFetcher(baseURL, username, password string) *HTTPFetcher {
	return &HTTPFetcher{
		baseURL:  baseURL,
		username: username,
		password: password,
		client:   &http.Client{},
	}
}

func (f *HTTPFetcher) FetchSchema(ctx context.Context, id uint32) (*types.SchemaRecord, error) {
	url := f.baseURL + "/schemas/ids/" + strconv.FormatUint(uint64(id), 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if f.username != "" {
		req.SetBasicAuth(f.username, f.password)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("schema %d: %w", id, regerr.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("GET %s: status %d: %s", url, resp.StatusCode, body)
	}

	var record types.SchemaRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &record, nil
}

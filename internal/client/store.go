package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/northwind-digital/agency/internal/datastore"
	"github.com/northwind-digital/agency/internal/datastore/datastorehttp"
)

// TokenSource yields the bearer token for data requests.
type TokenSource interface {
	AccessToken() string
}

// StoreClient implements datastore.Store against /rest/v1.
type StoreClient struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
}

// NewStoreClient constructs a StoreClient. tokens may be nil for anonymous access.
func NewStoreClient(baseURL string, tokens TokenSource, hc *http.Client) *StoreClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &StoreClient{baseURL: strings.TrimRight(baseURL, "/"), http: hc, tokens: tokens}
}

// Select lists rows of table matching q.
func (s *StoreClient) Select(ctx context.Context, table string, q datastore.Query) ([]datastore.Row, error) {
	path := "/rest/v1/" + url.PathEscape(table)
	if values := datastorehttp.EncodeQuery(q); len(values) > 0 {
		path += "?" + values.Encode()
	}
	var rows []datastore.Row
	if err := s.call(ctx, http.MethodGet, path, nil, http.StatusOK, &rows); err != nil {
		return nil, fmt.Errorf("client: select %s: %w", table, err)
	}
	return rows, nil
}

// Insert creates a row and returns it as stored.
func (s *StoreClient) Insert(ctx context.Context, table string, row datastore.Row) (datastore.Row, error) {
	var out datastore.Row
	if err := s.call(ctx, http.MethodPost, "/rest/v1/"+url.PathEscape(table), row, http.StatusCreated, &out); err != nil {
		return nil, fmt.Errorf("client: insert %s: %w", table, err)
	}
	return out, nil
}

// Update patches the row with id.
func (s *StoreClient) Update(ctx context.Context, table string, id string, row datastore.Row) (datastore.Row, error) {
	var out datastore.Row
	path := "/rest/v1/" + url.PathEscape(table) + "/" + url.PathEscape(id)
	if err := s.call(ctx, http.MethodPatch, path, row, http.StatusOK, &out); err != nil {
		return nil, fmt.Errorf("client: update %s: %w", table, err)
	}
	return out, nil
}

// Delete removes the row with id.
func (s *StoreClient) Delete(ctx context.Context, table string, id string) error {
	path := "/rest/v1/" + url.PathEscape(table) + "/" + url.PathEscape(id)
	if err := s.call(ctx, http.MethodDelete, path, nil, http.StatusNoContent, nil); err != nil {
		return fmt.Errorf("client: delete %s: %w", table, err)
	}
	return nil
}

func (s *StoreClient) call(ctx context.Context, method, path string, body any, want int, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.tokens != nil {
		if token := s.tokens.AccessToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	res, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != want {
		return storeError(res)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func storeError(res *http.Response) error {
	se := statusError(res)
	switch se.Status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %w", datastore.ErrForbidden, se)
	case http.StatusNotFound:
		if strings.Contains(se.Detail, "unknown table") {
			return fmt.Errorf("%w: %w", datastore.ErrUnknownTable, se)
		}
		return fmt.Errorf("%w: %w", datastore.ErrNotFound, se)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %w", datastore.ErrInvalidColumn, se)
	}
	return se
}

var _ datastore.Store = (*StoreClient)(nil)

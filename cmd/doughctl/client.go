package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dough/services/doughd/api"
)

// client talks to doughd's REST API.
type client struct {
	endpoint string
	token    string
	http     *http.Client
}

func newClient(endpoint, token string) *client {
	return &client{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError is a non-2xx response from doughd.
type apiError struct {
	Status int
	Kind   string
	Msg    string
}

func (e *apiError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("doughd: %d %s: %s", e.Status, e.Kind, e.Msg)
	}
	return fmt.Sprintf("doughd: %d: %s", e.Status, e.Msg)
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	raw, _, err := c.raw(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *client) raw(ctx context.Context, method, path string, body any) ([]byte, http.Header, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, nil, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return nil, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request %s %s: %w", method, c.endpoint+path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode, Msg: strings.TrimSpace(string(data))}
		var decoded api.Error
		if json.Unmarshal(data, &decoded) == nil && decoded.Error != "" {
			apiErr.Kind, apiErr.Msg = decoded.Kind, decoded.Error
		}
		return nil, nil, apiErr
	}
	return data, resp.Header, nil
}

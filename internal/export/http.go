package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// HTTPSubmitter posts experiment documents to a results API.
type HTTPSubmitter struct {
	client   *http.Client
	endpoint string
}

// NewHTTPSubmitter wires an HTTP client to the results endpoint.
func NewHTTPSubmitter(endpoint string, client *http.Client) (*HTTPSubmitter, error) {
	if endpoint == "" {
		return nil, errors.New("endpoint must not be empty")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSubmitter{endpoint: endpoint, client: client}, nil
}

// Name identifies the sink in logs.
func (s *HTTPSubmitter) Name() string { return "http" }

// Submit posts the document as JSON.
func (s *HTTPSubmitter) Submit(ctx context.Context, doc ExperimentData) error {
	if s == nil {
		return errors.New("submitter is nil")
	}
	body, err := Encode(doc)
	if err != nil {
		return err
	}
	//1.- Build the request with the caller's context so shutdown cancels in-flight posts.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send experiment data: %w", err)
	}
	defer resp.Body.Close()
	//2.- Drain the body so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("results endpoint responded with status %s", resp.Status)
	}
	return nil
}

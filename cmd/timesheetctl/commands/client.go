// Package commands implements the timesheetctl subcommands.
package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// DefaultAPIURL is used when neither --api-url nor TIMESHEET_API_URL is set.
const DefaultAPIURL = "http://localhost:8080"

// Options holds the flags shared by every subcommand.
type Options struct {
	APIURL  string
	Timeout time.Duration
}

// Bind registers the shared flags on the root command.
func (o *Options) Bind(cmd *cobra.Command) {
	apiURL := os.Getenv("TIMESHEET_API_URL")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	cmd.PersistentFlags().StringVar(&o.APIURL, "api-url", apiURL, "Base URL of the worker control API")
	cmd.PersistentFlags().DurationVar(&o.Timeout, "timeout", 16*time.Minute, "Request timeout; runs are synchronous")
}

func (o *Options) client() *apiClient {
	return newAPIClient(o.APIURL, o.Timeout)
}

// APIError is a non-2xx answer of the control API.
type APIError struct {
	Status  int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("control API returned %d", e.Status)
	}
	return fmt.Sprintf("control API returned %d (%s): %s", e.Status, e.Type, e.Message)
}

type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// do sends body as JSON and decodes the data field of the answer into dest.
func (c *apiClient) do(ctx context.Context, method, path string, body, dest any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach control API: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close response body: %v\n", err)
		}
	}()

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&envelope); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{Status: resp.StatusCode}
		}
		return fmt.Errorf("failed to decode control API response: %w", err)
	}
	if resp.StatusCode >= 300 || !envelope.Success {
		return &APIError{Status: resp.StatusCode, Type: envelope.Error, Message: envelope.Message}
	}
	if dest == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, dest); err != nil {
		return fmt.Errorf("failed to decode control API data: %w", err)
	}
	return nil
}

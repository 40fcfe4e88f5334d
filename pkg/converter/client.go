package converter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"cyborg-chat-be/pkg/apperror"
)

// Client calls the document conversion service, which turns an uploaded
// file into markdown. PDFs come back with <!-- Page N --> markers.
type Client struct {
	baseURL string
	client  *http.Client
}

type processFileRequest struct {
	FilePath string `json:"file_path"`
}

type ProcessFileResponse struct {
	Success         bool    `json:"success"`
	FilePath        string  `json:"file_path"`
	ProcessingTime  float64 `json:"processing_time"`
	ContentLength   int     `json:"content_length"`
	MarkdownContent string  `json:"markdown_content"`
	ErrorMessage    string  `json:"error_message"`
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// ToMarkdown converts the file at path. The converter must be able to read
// path from its own filesystem.
func (c *Client) ToMarkdown(ctx context.Context, path string) (string, error) {
	payload, err := json.Marshal(processFileRequest{FilePath: path})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process-file", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", apperror.Processing("converter unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", apperror.Processing(
			fmt.Sprintf("converter error (status %d)", resp.StatusCode),
			fmt.Errorf("%s", string(body)))
	}

	var out ProcessFileResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if !out.Success {
		msg := out.ErrorMessage
		if msg == "" {
			msg = "unknown conversion error"
		}
		return "", apperror.Processing("file conversion failed: "+msg, nil)
	}
	return out.MarkdownContent, nil
}

// Ping checks the converter's /health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("converter health status %d", resp.StatusCode)
	}
	return nil
}

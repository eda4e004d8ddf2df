package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient submits generation jobs to the generator service. The service
// owns the heavy lifting and writes payload.json into the project directory;
// callers pair this client with a payload waiter.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient builds a client for the service at baseURL.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
			// Generation is long-running; the per-stage context bounds it.
		},
	}
}

type generateResponse struct {
	ResumeID string `json:"resumeId"`
	Error    string `json:"error"`
}

// Generate implements Client.
func (c *HTTPClient) Generate(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("encode generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("build generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("generate: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Response{}, fmt.Errorf("read generate response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("generate: status %d: %s", resp.StatusCode, firstLine(data))
	}

	var out generateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return Response{}, fmt.Errorf("decode generate response: %w", err)
	}
	if out.Error != "" {
		return Response{}, fmt.Errorf("generate: %s", out.Error)
	}
	return Response{ResumeID: out.ResumeID}, nil
}

func firstLine(data []byte) string {
	for i, b := range data {
		if b == '\n' {
			return string(data[:i])
		}
	}
	return string(data)
}

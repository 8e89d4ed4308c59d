// Package gemini implements inference.Client against the Gemini API.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"resty.dev/v3"
)

type Client struct {
	httpClient *resty.Client
	model      string
}

// NewClient creates a Gemini client. Every request runs under the given
// timeout; a timed-out call surfaces as an error so the caller can skip
// that record without stalling the whole batch.
func NewClient(apiKey, model string, timeout time.Duration) *Client {
	client := resty.New()
	client.SetBaseURL("https://generativelanguage.googleapis.com/v1beta")
	client.SetHeader("x-goog-api-key", apiKey)
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(timeout)

	return &Client{
		httpClient: client,
		model:      model,
	}
}

func (client *Client) Close() error {
	return client.httpClient.Close()
}

// GetModel returns the model name configured for this client.
func (client *Client) GetModel() string {
	return client.model
}

type generateContentRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateContentResponse struct {
	Candidates []candidate `json:"candidates"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

// GenerateText implements the inference.Client interface.
func (client *Client) GenerateText(ctx context.Context, prompt string) (string, error) {
	requestBody := generateContentRequest{
		Contents: []content{
			{Parts: []part{{Text: prompt}}},
		},
	}

	response, err := client.httpClient.R().
		SetContext(ctx).
		SetBody(requestBody).
		SetResult(&generateContentResponse{}).
		Post(fmt.Sprintf("/models/%s:generateContent", client.model))
	if err != nil {
		return "", fmt.Errorf("httpClient.Post > %w", err)
	}
	if response.IsError() {
		return "", fmt.Errorf("response error %d: %s", response.StatusCode(), response.String())
	}

	responseBody := response.Result().(*generateContentResponse)
	if responseBody == nil || len(responseBody.Candidates) == 0 {
		return "", fmt.Errorf("empty response body or candidates: %s", response.String())
	}

	var builder strings.Builder
	for _, candidatePart := range responseBody.Candidates[0].Content.Parts {
		builder.WriteString(candidatePart.Text)
	}
	text := strings.TrimSpace(builder.String())
	if text == "" {
		return "", fmt.Errorf("empty response content: %s", response.String())
	}
	slog.Default().Debug("gemini response content",
		"model", client.model,
		"finishReason", responseBody.Candidates[0].FinishReason,
	)
	return text, nil
}

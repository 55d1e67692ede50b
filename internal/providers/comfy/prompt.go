package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"photobooth/internal/domain"
)

type promptRequest struct {
	Prompt   any    `json:"prompt"`
	ClientID string `json:"client_id"`
}

type promptResponse struct {
	PromptID string `json:"prompt_id"`
	Number   int    `json:"number"`
}

type promptErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Details string `json:"details"`
	} `json:"error"`
}

// QueuePrompt submits a filled workflow and returns the backend's job id.
func (c *Client) QueuePrompt(ctx context.Context, workflow any, clientID string) (string, error) {
	body, err := json.Marshal(promptRequest{Prompt: workflow, ClientID: clientID})
	if err != nil {
		return "", &domain.SubmissionError{Err: fmt.Errorf("encode prompt: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", &domain.SubmissionError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &domain.SubmissionError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &domain.SubmissionError{Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &domain.SubmissionError{Status: resp.StatusCode, Message: submissionMessage(raw)}
	}

	var decoded promptResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", &domain.SubmissionError{Err: fmt.Errorf("decode response: %w", err)}
	}
	jobID := strings.TrimSpace(decoded.PromptID)
	if jobID == "" {
		return "", &domain.SubmissionError{Message: "backend returned no prompt_id"}
	}
	c.logger.Debug().Str("job_id", jobID).Str("client_id", clientID).Int("queue_number", decoded.Number).Msg("comfy: prompt queued")
	return jobID, nil
}

// submissionMessage prefers the backend's structured error text and falls back
// to the raw body.
func submissionMessage(raw []byte) string {
	var detail promptErrorResponse
	if err := json.Unmarshal(raw, &detail); err == nil && detail.Error.Message != "" {
		msg := detail.Error.Message
		if d := strings.TrimSpace(detail.Error.Details); d != "" {
			msg += ": " + d
		}
		return msg
	}
	text := strings.TrimSpace(string(raw))
	if len(text) > 1024 {
		text = text[:1024]
	}
	return text
}

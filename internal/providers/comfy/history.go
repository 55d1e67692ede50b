package comfy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"photobooth/internal/domain"
)

// Output identifies one generated file on the backend.
type Output struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

type historyEntry struct {
	Outputs map[string]struct {
		Images []Output `json:"images"`
	} `json:"outputs"`
	Status *struct {
		StatusStr string              `json:"status_str"`
		Completed bool                `json:"completed"`
		Messages  [][]json.RawMessage `json:"messages"`
	} `json:"status"`
}

type pollState int

const (
	statePolling pollState = iota
	stateDone
	stateFailed
	stateTimedOut
)

// AwaitOutput polls the prompt history until the output node produces an
// image, the backend reports the job as failed, too many consecutive polls
// fail, or the wait budget (or ctx) runs out.
func (c *Client) AwaitOutput(ctx context.Context, jobID string) (Output, error) {
	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, c.poll.MaxWait)
	defer cancel()

	ticker := time.NewTicker(c.poll.Interval)
	defer ticker.Stop()

	var (
		state     = statePolling
		out       Output
		failure   error
		errStreak int
		polls     int
	)
	for state == statePolling {
		polls++
		got, ready, err := c.checkHistory(waitCtx, jobID)
		switch {
		case waitCtx.Err() != nil:
			state = stateTimedOut
		case err != nil:
			var jobErr *jobFailedError
			errStreak++
			if errors.As(err, &jobErr) || errStreak >= c.poll.MaxErrors {
				failure = err
				state = stateFailed
				break
			}
			c.logger.Warn().Err(err).Str("job_id", jobID).Int("streak", errStreak).Msg("comfy: poll failed, will retry")
		case ready:
			out = got
			state = stateDone
		default:
			errStreak = 0
		}
		if state != statePolling {
			break
		}
		select {
		case <-waitCtx.Done():
			state = stateTimedOut
		case <-ticker.C:
		}
	}

	switch state {
	case stateDone:
		c.logger.Debug().Str("job_id", jobID).Int("polls", polls).Dur("waited", time.Since(start)).Msg("comfy: output ready")
		return out, nil
	case stateFailed:
		return Output{}, &domain.PollError{JobID: jobID, Err: failure}
	default:
		return Output{}, &domain.PollTimeoutError{JobID: jobID, Waited: time.Since(start), Err: waitCtx.Err()}
	}
}

type jobFailedError struct {
	message string
}

func (e *jobFailedError) Error() string {
	if e.message == "" {
		return "comfy: job reported an execution error"
	}
	return "comfy: job failed: " + e.message
}

// checkHistory performs one poll. ready is true once the output node has an image.
func (c *Client) checkHistory(ctx context.Context, jobID string) (Output, bool, error) {
	endpoint := c.baseURL + "/history/" + url.PathEscape(jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Output{}, false, fmt.Errorf("comfy: build history request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Output{}, false, fmt.Errorf("comfy: history request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Output{}, false, fmt.Errorf("comfy: history status %d: %s", resp.StatusCode, readSnippet(resp.Body))
	}

	var history map[string]historyEntry
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return Output{}, false, fmt.Errorf("comfy: decode history: %w", err)
	}
	entry, ok := history[jobID]
	if !ok {
		return Output{}, false, nil
	}
	if node, ok := entry.Outputs[c.outputNode]; ok && len(node.Images) > 0 {
		return node.Images[0], true, nil
	}
	if entry.Status != nil {
		if strings.EqualFold(entry.Status.StatusStr, "error") {
			return Output{}, false, &jobFailedError{message: executionMessage(entry.Status.Messages)}
		}
		if entry.Status.Completed {
			return Output{}, false, &jobFailedError{message: fmt.Sprintf("completed without output on node %s", c.outputNode)}
		}
	}
	return Output{}, false, nil
}

func executionMessage(messages [][]json.RawMessage) string {
	for _, msg := range messages {
		if len(msg) != 2 {
			continue
		}
		var kind string
		if err := json.Unmarshal(msg[0], &kind); err != nil || kind != "execution_error" {
			continue
		}
		var detail struct {
			NodeID           string `json:"node_id"`
			ExceptionMessage string `json:"exception_message"`
		}
		if err := json.Unmarshal(msg[1], &detail); err != nil {
			continue
		}
		text := strings.TrimSpace(detail.ExceptionMessage)
		if detail.NodeID != "" {
			return fmt.Sprintf("node %s: %s", detail.NodeID, text)
		}
		return text
	}
	return ""
}

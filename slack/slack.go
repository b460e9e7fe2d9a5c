package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"cncplanner/planning"
)

type doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Client struct {
	webhookURL string
	httpClient doer
}

func NewClient(webhookURL string, httpClient doer) *Client {
	return &Client{
		webhookURL: webhookURL,
		httpClient: httpClient,
	}
}

func (c *Client) PostMessage(ctx context.Context, channel string, message string) error {
	payload, err := json.Marshal(map[string]any{
		"channel": channel,
		"text":    message,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to post message: %s", resp.Status)
	}

	return nil
}

// FormatPlan renders a validated plan envelope as a short channel message:
// one line per step plus a count of validator corrections. Falls back to the
// raw document when it does not parse as an envelope.
func FormatPlan(material string, raw string) string {
	var env planning.Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil || len(env.Plan) == 0 {
		return raw
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Machining plan (%s, %d steps):\n", material, len(env.Plan))

	flagged := 0
	for _, step := range env.Plan {
		fmt.Fprintf(&b, "%d. %s", step.Number, step.Operation)
		if step.ToolDescription != "" && step.ToolDescription != "None" {
			fmt.Fprintf(&b, " (%s)", step.ToolDescription)
		}
		if rpm, ok := step.SpindleSpeedRPM.(float64); ok && rpm > 0 {
			fmt.Fprintf(&b, " @ %.0f rpm", rpm)
		}
		b.WriteString("\n")
		if len(step.ValidationFlags) > 0 {
			flagged++
		}
	}

	if flagged > 0 {
		fmt.Fprintf(&b, "Validator corrected %d step(s); see validation_flags in the run log.", flagged)
	}

	return strings.TrimRight(b.String(), "\n")
}

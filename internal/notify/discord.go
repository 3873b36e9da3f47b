package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/polypulse/polypulse/internal/domain"
)

// DiscordSender delivers alert notifications via a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// severityColor maps severity onto Discord embed colors.
func severityColor(s domain.Severity) int {
	switch s {
	case domain.SeverityCritical:
		return 0x992D22 // dark red
	case domain.SeverityHigh:
		return 0xE74C3C // red
	case domain.SeverityMedium:
		return 0xE67E22 // orange
	case domain.SeverityLow:
		return 0xF1C40F // yellow
	default:
		return 0x3498DB // blue
	}
}

// Send posts the alert as a colored embed.
func (d *DiscordSender) Send(ctx context.Context, severity domain.Severity, title, message string) error {
	payload := map[string]any{
		"embeds": []map[string]any{{
			"title":       title,
			"description": message,
			"color":       severityColor(severity),
			"footer": map[string]string{
				"text": "severity: " + string(severity),
			},
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	// Discord returns 204 No Content on success.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}

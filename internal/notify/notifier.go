// Package notify delivers recorded alerts to outbound channels (Telegram,
// Discord). Delivery is filtered by a minimum severity so operators are not
// paged for informational alerts.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/polypulse/polypulse/internal/domain"
)

// Sender is one delivery channel.
type Sender interface {
	// Send delivers one alert notification.
	Send(ctx context.Context, severity domain.Severity, title, message string) error
	// Name identifies the channel in logs (e.g. "telegram").
	Name() string
}

// severityRank orders severities for threshold comparison.
var severityRank = map[domain.Severity]int{
	domain.SeverityInfo:     0,
	domain.SeverityLow:      1,
	domain.SeverityMedium:   2,
	domain.SeverityHigh:     3,
	domain.SeverityCritical: 4,
}

// Notifier fans one notification out to every configured sender. Alerts
// below the minimum severity are dropped before dispatch.
type Notifier struct {
	senders     []Sender
	minSeverity int
	logger      *slog.Logger
}

// NewNotifier creates a Notifier. An unknown minSeverity string defaults to
// high.
func NewNotifier(senders []Sender, minSeverity string, logger *slog.Logger) *Notifier {
	rank, ok := severityRank[domain.Severity(strings.ToLower(minSeverity))]
	if !ok {
		rank = severityRank[domain.SeverityHigh]
	}
	return &Notifier{
		senders:     senders,
		minSeverity: rank,
		logger:      logger.With(slog.String("component", "notifier")),
	}
}

// Notify dispatches to all senders when severity meets the threshold. A
// failing sender does not block the others; failures are combined into the
// returned error.
func (n *Notifier) Notify(ctx context.Context, severity domain.Severity, title, message string) error {
	if severityRank[severity] < n.minSeverity {
		n.logger.DebugContext(ctx, "alert below notification threshold",
			slog.String("severity", string(severity)),
		)
		return nil
	}
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, severity, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

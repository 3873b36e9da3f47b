package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/polypulse/polypulse/internal/domain"
)

// TradeRetentionStore is the slice of the trade store retention needs.
type TradeRetentionStore interface {
	ListBefore(ctx context.Context, cutoff time.Time) ([]domain.Trade, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// BookRetentionStore is the slice of the orderbook store retention needs.
type BookRetentionStore interface {
	ListBefore(ctx context.Context, cutoff time.Time) ([]domain.OrderBookSnapshot, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AlertRetentionStore prunes dismissed alerts.
type AlertRetentionStore interface {
	ListBefore(ctx context.Context, cutoff time.Time) ([]domain.Alert, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ColdStore uploads aged-out rows before they are deleted. Returned paths
// are object keys for the log.
type ColdStore interface {
	ArchiveTrades(ctx context.Context, trades []domain.Trade, before time.Time) (string, error)
	ArchiveOrderbooks(ctx context.Context, snaps []domain.OrderBookSnapshot, before time.Time) (string, error)
	ArchiveAlerts(ctx context.Context, alerts []domain.Alert, before time.Time) (string, error)
}

// Retention ages data out of the primary store. With a cold store
// configured, rows are uploaded first and deleted only after a successful
// upload; without one, rows past the retention window are simply dropped.
// Active alerts are never touched.
type Retention struct {
	trades        TradeRetentionStore
	books         BookRetentionStore
	alerts        AlertRetentionStore
	cold          ColdStore
	retentionDays int
	logger        *slog.Logger
}

// NewRetention creates a retention job. cold may be nil.
func NewRetention(
	trades TradeRetentionStore,
	books BookRetentionStore,
	alerts AlertRetentionStore,
	cold ColdStore,
	retentionDays int,
	logger *slog.Logger,
) *Retention {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &Retention{
		trades:        trades,
		books:         books,
		alerts:        alerts,
		cold:          cold,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "retention")),
	}
}

// Run executes a single retention pass.
func (r *Retention) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-time.Duration(r.retentionDays) * 24 * time.Hour)
	r.logger.Info("retention run starting",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", r.retentionDays),
	)

	if err := r.retireTrades(ctx, cutoff); err != nil {
		return fmt.Errorf("retention: trades: %w", err)
	}
	if err := r.retireBooks(ctx, cutoff); err != nil {
		return fmt.Errorf("retention: orderbooks: %w", err)
	}

	if err := r.retireAlerts(ctx, cutoff); err != nil {
		return fmt.Errorf("retention: alerts: %w", err)
	}

	r.logger.Info("retention run complete")
	return nil
}

func (r *Retention) retireAlerts(ctx context.Context, cutoff time.Time) error {
	if r.cold != nil {
		rows, err := r.alerts.ListBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("list: %w", err)
		}
		if len(rows) > 0 {
			path, err := r.cold.ArchiveAlerts(ctx, rows, cutoff)
			if err != nil {
				return fmt.Errorf("archive: %w", err)
			}
			r.logger.Info("alerts archived",
				slog.Int("count", len(rows)),
				slog.String("path", path),
			)
		}
	}

	pruned, err := r.alerts.DeleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	r.logger.Info("alerts pruned", slog.Int64("count", pruned))
	return nil
}

func (r *Retention) retireTrades(ctx context.Context, cutoff time.Time) error {
	if r.cold != nil {
		rows, err := r.trades.ListBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("list: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		path, err := r.cold.ArchiveTrades(ctx, rows, cutoff)
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		r.logger.Info("trades archived",
			slog.Int("count", len(rows)),
			slog.String("path", path),
		)
	}

	deleted, err := r.trades.DeleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	r.logger.Info("trades deleted", slog.Int64("count", deleted))
	return nil
}

func (r *Retention) retireBooks(ctx context.Context, cutoff time.Time) error {
	if r.cold != nil {
		rows, err := r.books.ListBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("list: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		path, err := r.cold.ArchiveOrderbooks(ctx, rows, cutoff)
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		r.logger.Info("orderbooks archived",
			slog.Int("count", len(rows)),
			slog.String("path", path),
		)
	}

	deleted, err := r.books.DeleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	r.logger.Info("orderbooks deleted", slog.Int64("count", deleted))
	return nil
}

// RunCron runs retention passes on a standard 5-field cron schedule
// ("minute hour day-of-month month day-of-week") until ctx is cancelled.
func (r *Retention) RunCron(ctx context.Context, cronExpr string) error {
	r.logger.Info("retention cron started", slog.String("cron", cronExpr))

	for {
		next, err := nextCronTime(cronExpr, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("retention: parse cron %q: %w", cronExpr, err)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info("retention cron stopped")
			return ctx.Err()
		case <-timer.C:
			if err := r.Run(ctx); err != nil {
				r.logger.Error("retention run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// --------------------------------------------------------------------------
// Minimal 5-field cron evaluation
// --------------------------------------------------------------------------

type cronField struct {
	wildcard bool
	values   []int
}

func (f cronField) matches(val int) bool {
	if f.wildcard {
		return true
	}
	for _, v := range f.values {
		if v == val {
			return true
		}
	}
	return false
}

// parseCronField parses a single field: "*", a value, or a comma list.
func parseCronField(field string) (cronField, error) {
	if field == "*" {
		return cronField{wildcard: true}, nil
	}

	parts := strings.Split(field, ",")
	values := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return cronField{}, fmt.Errorf("invalid cron field value %q: %w", p, err)
		}
		values = append(values, v)
	}
	return cronField{values: values}, nil
}

type parsedCron struct {
	minute, hour, dayOfMonth, month, dayOfWeek cronField
}

func (c parsedCron) matchesTime(t time.Time) bool {
	return c.minute.matches(t.Minute()) &&
		c.hour.matches(t.Hour()) &&
		c.dayOfMonth.matches(t.Day()) &&
		c.month.matches(int(t.Month())) &&
		c.dayOfWeek.matches(int(t.Weekday()))
}

func parseCron(expr string) (parsedCron, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return parsedCron{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}

	var (
		parsed parsedCron
		err    error
	)
	targets := []*cronField{
		&parsed.minute, &parsed.hour, &parsed.dayOfMonth, &parsed.month, &parsed.dayOfWeek,
	}
	names := []string{"minute", "hour", "day-of-month", "month", "day-of-week"}
	for i, f := range fields {
		if *targets[i], err = parseCronField(f); err != nil {
			return parsedCron{}, fmt.Errorf("parsing %s field: %w", names[i], err)
		}
	}
	return parsed, nil
}

// nextCronTime finds the first matching minute after the given time,
// searching at most a year ahead.
func nextCronTime(cronExpr string, after time.Time) (time.Time, error) {
	cron, err := parseCron(cronExpr)
	if err != nil {
		return time.Time{}, err
	}

	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)

	for candidate.Before(limit) {
		if cron.matchesTime(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("no matching cron time within one year for %q", cronExpr)
}

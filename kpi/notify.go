package kpi

import (
	"context"
	"log/slog"
)

type EventType string

const (
	EventStatusChanged    EventType = "status_changed"
	EventResultCalculated EventType = "result_calculated"
)

// Notification is handed to the Notifier port. Delivery is not the core's
// concern.
type Notification struct {
	Type       EventType
	RecordID   string
	EmployeeID string
	Status     Status
	ActorID    string
	Result     *Result
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(ctx context.Context, n Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		"type", n.Type,
		"record_id", n.RecordID,
		"employee_id", n.EmployeeID,
		"status", n.Status,
	}
	if n.ActorID != "" {
		attrs = append(attrs, "actor_id", n.ActorID)
	}
	if n.Result != nil {
		attrs = append(attrs, "net_amount", n.Result.NetAmount.String(), "grade", n.Result.Grade)
	}
	logger.InfoContext(ctx, "kpi notification", attrs...)
	return nil
}

package events

import (
	"context"

	"go.uber.org/zap"
)

// Log writes events to the service log. Used when no broker is configured.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log { return &Log{log: log.Named("events")} }

func (l *Log) Publish(_ context.Context, ev ChangeEvent) error {
	l.log.Info("record changed",
		zap.String("entity", ev.Entity),
		zap.String("id", ev.ID),
		zap.String("action", ev.Action),
		zap.Int64("version", ev.Version),
		zap.String("actor", ev.Actor),
	)
	return nil
}

func (l *Log) Close() error { return nil }

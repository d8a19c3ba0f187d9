// Package notify delivers operator notifications (Telegram, log).
package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wonny/aegis-trader/pkg/logger"
)

// Level is the urgency of a notification
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
	LevelSuccess  Level = "success"
)

// Event is one notification
type Event struct {
	Level   Level
	Title   string
	Message string
	Fields  map[string]string
	At      time.Time
}

// Text renders the event as plain text with sorted fields
func (e Event) Text() string {
	var b strings.Builder
	b.WriteString(e.Title)
	if e.Message != "" {
		b.WriteString("\n\n")
		b.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n%s: %s", k, e.Fields[k])
		}
	}
	return b.String()
}

// Notifier sends notifications
type Notifier interface {
	Send(ctx context.Context, event Event) error
}

// LogNotifier writes notifications to the structured log
type LogNotifier struct {
	logger *logger.Logger
}

// NewLogNotifier creates a log-backed notifier
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{logger: log.WithComponent("notify")}
}

// Send logs the event at a level matching its urgency
func (n *LogNotifier) Send(_ context.Context, event Event) error {
	fields := map[string]interface{}{"title": event.Title}
	for k, v := range event.Fields {
		fields[k] = v
	}
	log := n.logger.WithFields(fields)

	switch event.Level {
	case LevelCritical:
		log.Error(event.Message)
	case LevelWarning:
		log.Warn(event.Message)
	default:
		log.Info(event.Message)
	}
	return nil
}

// Multi fans an event out to every notifier; all are attempted
type Multi []Notifier

// Send delivers to all notifiers and joins their errors
func (m Multi) Send(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

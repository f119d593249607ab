package notify

import (
	"context"

	"github.com/dmitrijs2005/pmdash/internal/logging"
)

// LogSender only logs that a notification would have been sent.
// Reset links are not logged.
type LogSender struct {
	logger logging.Logger
}

func NewLogSender(logger logging.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, to string, kind Kind, data Data) error {
	if _, ok := templates[kind]; !ok {
		return ErrUnknownKind
	}
	s.logger.Info(ctx, "notification", "kind", string(kind), "to", to, "username", data.Username)
	return nil
}

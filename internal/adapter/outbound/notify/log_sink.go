package notify

import (
	"context"
	"log/slog"

	"github.com/Sentinel-Gate/seatswap/internal/domain/notify"
)

// LogSink writes notifications to a logger. It is the sink used when no
// webhook is configured.
type LogSink struct {
	logger *slog.Logger
}

var _ notify.Sink = (*LogSink)(nil)

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Deliver implements notify.Sink.
func (s *LogSink) Deliver(ctx context.Context, msgs []notify.Message) error {
	for _, m := range msgs {
		level := slog.LevelInfo
		switch m.Channel {
		case notify.ChannelCriticalError, notify.ChannelLoginError:
			level = slog.LevelError
		case notify.ChannelRegisterFail, notify.ChannelParseError, notify.ChannelSpecRejected:
			level = slog.LevelWarn
		}
		s.logger.Log(ctx, level, "notification", "channel", m.Channel, "text", m.Text, "at", m.Time)
	}
	return nil
}

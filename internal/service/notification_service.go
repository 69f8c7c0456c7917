package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sentinel-Gate/seatswap/internal/domain/notify"
)

// Notifier accepts notifications without blocking the caller for long.
type Notifier interface {
	Notify(channel, text string)
}

// NotificationService delivers notifications asynchronously through a
// buffered channel and a background worker, so a slow webhook never stalls
// a swap or the reconciliation loop.
type NotificationService struct {
	sink          notify.Sink
	msgChan       chan notify.Message
	wg            sync.WaitGroup
	logger        *slog.Logger
	metrics       *Metrics
	batchSize     int
	flushInterval time.Duration

	channelSize int
	sendTimeout time.Duration // 0 = drop immediately, >0 = block up to this duration
	dropCount   atomic.Int64

	// closeMu guards msgChan against sends after Stop.
	closeMu sync.RWMutex
	closed  bool
}

// NotifyOption configures NotificationService.
type NotifyOption func(*NotificationService)

// WithNotifyChannelSize sets the size of the pending-message buffer.
func WithNotifyChannelSize(size int) NotifyOption {
	return func(s *NotificationService) {
		s.msgChan = make(chan notify.Message, size)
		s.channelSize = size
	}
}

// WithNotifySendTimeout sets the backpressure timeout.
// 0 = drop immediately, >0 = block up to this duration before dropping.
func WithNotifySendTimeout(timeout time.Duration) NotifyOption {
	return func(s *NotificationService) { s.sendTimeout = timeout }
}

// WithNotifyBatch sets how many messages are delivered together and how
// often a partial batch is flushed.
func WithNotifyBatch(size int, interval time.Duration) NotifyOption {
	return func(s *NotificationService) {
		s.batchSize = size
		s.flushInterval = interval
	}
}

// WithNotifyMetrics records dropped messages.
func WithNotifyMetrics(m *Metrics) NotifyOption {
	return func(s *NotificationService) { s.metrics = m }
}

// NewNotificationService creates a NotificationService delivering to sink.
func NewNotificationService(sink notify.Sink, logger *slog.Logger, opts ...NotifyOption) *NotificationService {
	const defaultChannelSize = 100
	s := &NotificationService{
		sink:          sink,
		msgChan:       make(chan notify.Message, defaultChannelSize),
		logger:        logger,
		batchSize:     10,
		flushInterval: 500 * time.Millisecond,
		channelSize:   defaultChannelSize,
		sendTimeout:   100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the background delivery worker.
func (s *NotificationService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// Notify queues a message. It tries a non-blocking send first, then blocks
// up to sendTimeout; after that the message is dropped and counted.
// Messages sent after Stop are dropped.
func (s *NotificationService) Notify(channel, text string) {
	msg := notify.Message{Channel: channel, Text: text, Time: time.Now()}

	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		s.recordDrop(msg)
		return
	}

	select {
	case s.msgChan <- msg:
		return
	default:
	}

	if s.sendTimeout <= 0 {
		s.recordDrop(msg)
		return
	}

	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()
	select {
	case s.msgChan <- msg:
	case <-timer.C:
		s.recordDrop(msg)
	}
}

func (s *NotificationService) recordDrop(msg notify.Message) {
	drops := s.dropCount.Add(1)
	s.metrics.notifyDropped()
	s.logger.Warn("notification dropped",
		"channel", msg.Channel,
		"total_drops", drops,
	)
}

// DroppedMessages returns the number of dropped messages.
func (s *NotificationService) DroppedMessages() int64 {
	return s.dropCount.Load()
}

// ChannelDepth returns the number of queued messages.
func (s *NotificationService) ChannelDepth() int {
	return len(s.msgChan)
}

// ChannelCapacity returns the buffer size.
func (s *NotificationService) ChannelCapacity() int {
	return s.channelSize
}

// Stop closes the queue and waits for pending messages to be delivered.
// Safe to call multiple times.
func (s *NotificationService) Stop() {
	s.closeMu.Lock()
	if !s.closed {
		s.closed = true
		close(s.msgChan)
	}
	s.closeMu.Unlock()
	s.wg.Wait()
}

func (s *NotificationService) worker(ctx context.Context) {
	defer s.wg.Done()

	batch := make([]notify.Message, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-s.msgChan:
			if !ok {
				s.finalFlush(batch)
				return
			}
			batch = append(batch, msg)
			if len(batch) >= s.batchSize {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			// Deliver what is already queued; Stop closes the channel later.
		drain:
			for {
				select {
				case msg, ok := <-s.msgChan:
					if !ok {
						break drain
					}
					batch = append(batch, msg)
				default:
					break drain
				}
			}
			s.finalFlush(batch)
			return
		}
	}
}

// finalFlush delivers the remaining batch with a bounded deadline.
func (s *NotificationService) finalFlush(batch []notify.Message) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.flush(ctx, batch)
}

// flush hands a batch to the sink. Errors are logged, never propagated.
func (s *NotificationService) flush(ctx context.Context, batch []notify.Message) {
	if err := s.sink.Deliver(ctx, batch); err != nil {
		s.logger.Error("failed to deliver notifications",
			"error", err,
			"count", len(batch),
		)
	}
}

var _ Notifier = (*NotificationService)(nil)

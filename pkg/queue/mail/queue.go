package mail

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"talehopper/pkg/feedback"
	"talehopper/pkg/queue"
	"talehopper/pkg/schema"
	"talehopper/pkg/utils"
)

var _ queue.Queue = (*Queue)(nil)

type Queue struct {
	sender   feedback.Sender
	fallback feedback.Sender
	logger   *log.Logger
	timeout  time.Duration

	// mu orders Add against Stop so nothing is queued after the drain.
	mu       sync.RWMutex
	stopped  bool
	items    chan *Item
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type Item struct {
	Feedback schema.Feedback
	Error    chan error
}

// New creates a queue holding at most size pending items. Each delivery is
// given timeout to complete; feedback that cannot be delivered is logged.
func New(sender feedback.Sender, size int, timeout time.Duration, logger *log.Logger) *Queue {
	if size <= 0 {
		size = 100
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Queue{
		sender:   sender,
		fallback: feedback.LogSender{Logger: logger},
		logger:   logger.WithPrefix("feedback"),
		timeout:  timeout,
		items:    make(chan *Item, size),
		stop:     make(chan struct{}),
	}
}

func (q *Queue) Start() {
	q.wg.Add(1)
	go q.processLoop()
}

// Stop ends the worker after the item it is processing. Items still queued
// are failed with queue.ErrStopped.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.stopped = true
		close(q.stop)
		q.mu.Unlock()

		q.wg.Wait()
		for {
			select {
			case item := <-q.items:
				item.Error <- queue.ErrStopped
			default:
				return
			}
		}
	})
}

func (q *Queue) Add(fb schema.Feedback) (<-chan error, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		return nil, queue.ErrStopped
	}

	errCh := make(chan error, 1)
	select {
	case q.items <- &Item{Feedback: fb, Error: errCh}:
		return errCh, nil
	default:
		return nil, queue.ErrFull
	}
}

func (q *Queue) processLoop() {
	defer q.wg.Done()
	q.logger.Info("queue started")
	for {
		select {
		case <-q.stop:
			q.logger.Info("queue stopped")
			return
		case item := <-q.items:
			q.processItem(item)
		}
	}
}

func (q *Queue) processItem(item *Item) {
	q.logger.Debug("delivering feedback", "message", utils.LimitStr(item.Feedback.Message, 50))

	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	err := q.sender.Send(ctx, item.Feedback)
	if err != nil {
		q.logger.Error("feedback delivery failed", "error", err)
		_ = q.fallback.Send(ctx, item.Feedback)
	}
	item.Error <- err
}

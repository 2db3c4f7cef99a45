package mail

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talehopper/pkg/queue"
	"talehopper/pkg/schema"
)

type recordingSender struct {
	mu  sync.Mutex
	got []schema.Feedback
	err error
}

func (s *recordingSender) Send(ctx context.Context, fb schema.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, fb)
	return s.err
}

func quietLogger() *log.Logger {
	return log.New(&bytes.Buffer{})
}

func TestQueueDelivers(t *testing.T) {
	sender := &recordingSender{}
	q := New(sender, 2, time.Second, quietLogger())
	q.Start()
	defer q.Stop()

	errCh, err := q.Add(schema.Feedback{Message: "hello"})
	require.NoError(t, err)
	assert.NoError(t, <-errCh)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, []schema.Feedback{{Message: "hello"}}, sender.got)
}

func TestQueueReportsSendErrors(t *testing.T) {
	boom := errors.New("smtp down")
	q := New(&recordingSender{err: boom}, 2, time.Second, quietLogger())
	q.Start()
	defer q.Stop()

	errCh, err := q.Add(schema.Feedback{Message: "hello"})
	require.NoError(t, err)
	assert.ErrorIs(t, <-errCh, boom)
}

func TestQueueFull(t *testing.T) {
	q := New(&recordingSender{}, 1, time.Second, quietLogger())

	_, err := q.Add(schema.Feedback{Message: "one"})
	require.NoError(t, err)
	_, err = q.Add(schema.Feedback{Message: "two"})
	assert.ErrorIs(t, err, queue.ErrFull)
}

func TestQueueStopFailsPending(t *testing.T) {
	q := New(&recordingSender{}, 2, time.Second, quietLogger())

	errCh, err := q.Add(schema.Feedback{Message: "never sent"})
	require.NoError(t, err)

	q.Stop()
	assert.ErrorIs(t, <-errCh, queue.ErrStopped)

	_, err = q.Add(schema.Feedback{Message: "late"})
	assert.ErrorIs(t, err, queue.ErrStopped)
	q.Stop()
}

func TestQueueAddRacingStopIsAnswered(t *testing.T) {
	q := New(&recordingSender{}, 64, time.Second, quietLogger())
	q.Start()

	var wg sync.WaitGroup
	results := make(chan (<-chan error), 64)
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if errCh, err := q.Add(schema.Feedback{Message: "hi"}); err == nil {
				results <- errCh
			} else {
				assert.ErrorIs(t, err, queue.ErrStopped)
			}
		}()
	}
	q.Stop()
	wg.Wait()
	close(results)

	for errCh := range results {
		select {
		case err := <-errCh:
			if err != nil {
				assert.ErrorIs(t, err, queue.ErrStopped)
			}
		case <-time.After(time.Second):
			t.Fatal("queued feedback was never answered")
		}
	}
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talehopper/pkg/queue"
	"talehopper/pkg/schema"
	"talehopper/pkg/session"
	"talehopper/pkg/story"
)

// fakeGenerator appends "paragraph N" and offers two choices until the story
// length is reached.
type fakeGenerator struct {
	mu    sync.Mutex
	calls []schema.StoryRequest
	err   error
	hook  func()
}

func (g *fakeGenerator) Generate(ctx context.Context, req schema.StoryRequest) (schema.StoryResponse, error) {
	if g.hook != nil {
		g.hook()
	}
	g.mu.Lock()
	g.calls = append(g.calls, req)
	err := g.err
	g.mu.Unlock()
	if err != nil {
		return schema.StoryResponse{}, err
	}
	if err := story.CheckRequest(req); err != nil {
		return schema.StoryResponse{}, err
	}
	if _, err := schema.ValidatePrompt(req.Prompt); err != nil {
		return schema.StoryResponse{}, err
	}

	history := append(append([]string{}, req.History...), fmt.Sprintf("paragraph %d", len(req.History)+1))
	choices := []string{"left", "right"}
	if schema.Ended(req.Prompt, history) {
		choices = []string{}
	}
	return schema.StoryResponse{History: history, Choices: choices, StagePlan: map[string]int{"Climax": 1}}, nil
}

func (g *fakeGenerator) setErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

type fakeQueue struct {
	mu  sync.Mutex
	got []schema.Feedback
	err error
}

func (q *fakeQueue) Start() {}
func (q *fakeQueue) Stop()  {}
func (q *fakeQueue) Add(fb schema.Feedback) (<-chan error, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	q.got = append(q.got, fb)
	ch := make(chan error, 1)
	ch <- nil
	return ch, nil
}

func newTestServer(gen session.Generator, fq queue.Queue) *Server {
	return NewServer(gen, fq, Options{Logger: log.New(&bytes.Buffer{})})
}

func do(t *testing.T, s *Server, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec.Code, out
}

func validPrompt() schema.Prompt {
	return schema.Prompt{Age: 6, Language: schema.English, Length: 3}
}

func TestRoot(t *testing.T) {
	code, body := do(t, newTestServer(&fakeGenerator{}, &fakeQueue{}), http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Welcome to Tale Hopper!", body["message"])
}

func TestGenerateStartAndContinue(t *testing.T) {
	s := newTestServer(&fakeGenerator{}, &fakeQueue{})

	code, body := do(t, s, http.MethodPost, "/story/generate", map[string]any{"prompt": validPrompt()})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"paragraph 1"}, body["history"])
	assert.Equal(t, []any{"left", "right"}, body["choices"])

	code, body = do(t, s, http.MethodPost, "/story/generate", schema.NewStoryRequest(validPrompt(), []string{"paragraph 1"}, "left", nil))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"paragraph 1", "paragraph 2"}, body["history"])
}

func TestGenerateErrors(t *testing.T) {
	gen := &fakeGenerator{}
	s := newTestServer(gen, &fakeQueue{})

	code, body := do(t, s, http.MethodPost, "/story/generate", schema.NewStoryRequest(validPrompt(), []string{"p"}, "", nil))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Story choice missing.", body["detail"])

	code, body = do(t, s, http.MethodPost, "/story/generate", schema.NewStoryRequest(validPrompt(), nil, "left", nil))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Story history missing.", body["detail"])

	bad := validPrompt()
	bad.Age = 99
	code, body = do(t, s, http.MethodPost, "/story/generate", schema.NewStoryRequest(bad, nil, "", nil))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid age: range", body["detail"])

	gen.setErr(fmt.Errorf("%w: error calling LLM: timeout", story.ErrGeneration))
	code, body = do(t, s, http.MethodPost, "/story/generate", schema.NewStoryRequest(validPrompt(), nil, "", nil))
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Contains(t, body["detail"], "error calling LLM")

	req := httptest.NewRequest(http.MethodPost, "/story/generate", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateCoalescesIdenticalRequests(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	gen := &fakeGenerator{hook: func() {
		calls.Add(1)
		<-release
	}}
	s := newTestServer(gen, &fakeQueue{})

	var wg sync.WaitGroup
	codes := make([]int, 3)
	for i := range codes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes[i], _ = do(t, s, http.MethodPost, "/story/generate", map[string]any{"prompt": validPrompt()})
		}()
	}
	key, err := json.Marshal(schema.StoryRequest{Prompt: validPrompt(), History: []string{}})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return s.inflight.Waiters(string(key)) == 2
	}, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []int{200, 200, 200}, codes)
}

// blockingGenerator holds every call until release is closed, or fails with
// the context error if the call's context ends first.
type blockingGenerator struct {
	fakeGenerator
	entered chan struct{}
	release chan struct{}
	active  atomic.Int32
	peak    atomic.Int32
}

func newBlockingGenerator() *blockingGenerator {
	return &blockingGenerator{entered: make(chan struct{}, 8), release: make(chan struct{})}
}

func (g *blockingGenerator) Generate(ctx context.Context, req schema.StoryRequest) (schema.StoryResponse, error) {
	n := g.active.Add(1)
	defer g.active.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	g.entered <- struct{}{}
	select {
	case <-g.release:
	case <-ctx.Done():
		return schema.StoryResponse{}, ctx.Err()
	}
	return g.fakeGenerator.Generate(ctx, req)
}

func TestGenerateSurvivesLeaderCancel(t *testing.T) {
	gen := newBlockingGenerator()
	s := newTestServer(gen, &fakeQueue{})

	body, err := json.Marshal(map[string]any{"prompt": validPrompt()})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	leader := httptest.NewRequest(http.MethodPost, "/story/generate", bytes.NewReader(body)).WithContext(ctx)
	leader.Header.Set("Content-Type", "application/json")

	leaderDone := make(chan struct{})
	go func() {
		defer close(leaderDone)
		s.Echo.ServeHTTP(httptest.NewRecorder(), leader)
	}()
	<-gen.entered

	followerCode := make(chan int, 1)
	go func() {
		code, _ := do(t, s, http.MethodPost, "/story/generate", map[string]any{"prompt": validPrompt()})
		followerCode <- code
	}()
	key, err := json.Marshal(schema.StoryRequest{Prompt: validPrompt(), History: []string{}})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return s.inflight.Waiters(string(key)) == 1
	}, time.Second, time.Millisecond)

	cancel()
	time.Sleep(20 * time.Millisecond)
	close(gen.release)

	assert.Equal(t, http.StatusOK, <-followerCode)
	<-leaderDone
	assert.Len(t, gen.calls, 1)
}

func TestSessionRejectsConcurrentRequests(t *testing.T) {
	gen := newBlockingGenerator()
	s := newTestServer(gen, &fakeQueue{})
	close(gen.release)

	code, body := do(t, s, http.MethodPost, "/api/sessions", map[string]any{"prompt": validPrompt()})
	require.Equal(t, http.StatusCreated, code)
	<-gen.entered
	base := "/api/sessions/" + body["id"].(string)

	gen.release = make(chan struct{})
	first := make(chan int, 1)
	go func() {
		code, _ := do(t, s, http.MethodPost, base+"/choices", map[string]any{"choice": "left"})
		first <- code
	}()
	<-gen.entered

	code, body = do(t, s, http.MethodPost, base+"/choices", map[string]any{"choice": "right"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "A request for this session is already in progress.", body["detail"])
	code, _ = do(t, s, http.MethodPost, base+"/regenerate", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, body = do(t, s, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["loading"])

	close(gen.release)
	assert.Equal(t, http.StatusOK, <-first)
	assert.Equal(t, int32(1), gen.peak.Load())

	code, body = do(t, s, http.MethodPost, base+"/choices", map[string]any{"choice": "right"})
	require.Equal(t, http.StatusOK, code)
	<-gen.entered
	assert.Equal(t, true, body["ended"])
}

func TestFeedback(t *testing.T) {
	fq := &fakeQueue{}
	s := newTestServer(&fakeGenerator{}, fq)

	code, body := do(t, s, http.MethodPost, "/feedback", schema.Feedback{Message: "  more dragons  "})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, []schema.Feedback{{Message: "more dragons"}}, fq.got)

	// same client again within the minute
	code, body = do(t, s, http.MethodPost, "/feedback", schema.Feedback{Message: "again"})
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "Rate limit exceeded. Please slow down.", body["detail"])
}

func TestFeedbackValidation(t *testing.T) {
	s := NewServer(&fakeGenerator{}, &fakeQueue{}, Options{Logger: log.New(&bytes.Buffer{}), FeedbackRate: 1000, FeedbackBurst: 100})

	code, body := do(t, s, http.MethodPost, "/feedback", schema.Feedback{Message: "   "})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Feedback message cannot be empty", body["detail"])

	code, body = do(t, s, http.MethodPost, "/feedback", schema.Feedback{Message: strings.Repeat("a", schema.MaxFeedbackRunes+1)})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Feedback message too long (max 5000 characters)", body["detail"])
}

func TestFeedbackQueueFull(t *testing.T) {
	s := newTestServer(&fakeGenerator{}, &fakeQueue{err: queue.ErrFull})
	code, _ := do(t, s, http.MethodPost, "/feedback", schema.Feedback{Message: "hi"})
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(&fakeGenerator{}, &fakeQueue{})

	code, body := do(t, s, http.MethodPost, "/api/sessions", map[string]any{"prompt": validPrompt()})
	require.Equal(t, http.StatusCreated, code)
	id := body["id"].(string)
	assert.Equal(t, true, body["started"])
	assert.Equal(t, []any{"paragraph 1"}, body["history"])

	base := "/api/sessions/" + id
	code, body = do(t, s, http.MethodPost, base+"/choices", map[string]any{"choice": "left"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "left", body["last_choice"])
	assert.Len(t, body["history"], 2)

	code, body = do(t, s, http.MethodPost, base+"/regenerate", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["history"], 2)

	code, body = do(t, s, http.MethodPost, base+"/choices", map[string]any{"choice": "right"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ended"])
	assert.Empty(t, body["choices"])

	code, body = do(t, s, http.MethodGet, base+"/template", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 3, body["length"])

	code, body = do(t, s, http.MethodPost, base+"/restart", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["started"])
	assert.Empty(t, body["history"])

	code, _ = do(t, s, http.MethodPost, base+"/choices", map[string]any{"choice": "left"})
	assert.Equal(t, http.StatusConflict, code)

	code, body = do(t, s, http.MethodPost, base+"/start", map[string]any{"prompt": validPrompt()})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["started"])

	code, _ = do(t, s, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, body = do(t, s, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Session not found.", body["detail"])
}

func TestSessionFailureIsReportedInSnapshot(t *testing.T) {
	gen := &fakeGenerator{}
	s := newTestServer(gen, &fakeQueue{})

	_, body := do(t, s, http.MethodPost, "/api/sessions", map[string]any{"prompt": validPrompt()})
	base := "/api/sessions/" + body["id"].(string)

	code, _ := do(t, s, http.MethodPost, base+"/retry", nil)
	assert.Equal(t, http.StatusConflict, code)

	gen.setErr(errors.New("connection refused"))
	code, body = do(t, s, http.MethodPost, base+"/choices", map[string]any{"choice": "left"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Failed to continue story. Please try again.", body["error"])
	assert.Equal(t, "left", body["pending_choice"])
	assert.Len(t, body["history"], 1)

	gen.setErr(nil)
	code, body = do(t, s, http.MethodPost, base+"/retry", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Nil(t, body["error"])
	assert.Equal(t, "left", body["last_choice"])
	assert.Len(t, body["history"], 2)
}

func TestSessionValidation(t *testing.T) {
	s := newTestServer(&fakeGenerator{}, &fakeQueue{})

	bad := validPrompt()
	bad.Language = "german"
	code, body := do(t, s, http.MethodPost, "/api/sessions", map[string]any{"prompt": bad})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid language: unsupported", body["detail"])
	assert.Equal(t, 0, s.Sessions.Len())

	_, body = do(t, s, http.MethodPost, "/api/sessions", map[string]any{"prompt": validPrompt()})
	code, body = do(t, s, http.MethodPost, "/api/sessions/"+body["id"].(string)+"/choices", map[string]any{"choice": ""})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid choice: required", body["detail"])
}

func TestSessionsExpire(t *testing.T) {
	sessions := NewSessions(&fakeGenerator{}, 2, 50*time.Millisecond, log.New(&bytes.Buffer{}))
	c := sessions.New()

	got, ok := sessions.Get(c.ID)
	require.True(t, ok)
	assert.Same(t, c, got)
	assert.Equal(t, 1, sessions.Len())

	assert.Eventually(t, func() bool {
		return sessions.Len() == 0
	}, time.Second, 10*time.Millisecond)
	_, ok = sessions.Get(c.ID)
	assert.False(t, ok)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(&fakeGenerator{}, &fakeQueue{})
	do(t, s, http.MethodGet, "/", nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "talehopper_http_requests_total")
}

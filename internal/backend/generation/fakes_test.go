package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jo-hoe/banano/internal/backend/database"
	"github.com/jo-hoe/banano/internal/backend/provider"
)

// scriptedProvider answers call n with outcome(n). Calls are numbered in
// dispatch order, which is deterministic when MaxParallel is 1.
type scriptedProvider struct {
	calls    atomic.Int32
	outcome  func(call int) error
	mu       sync.Mutex
	requests []provider.Request
	ctxErrs  []error
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Generate(ctx context.Context, request provider.Request) (*provider.Image, error) {
	call := int(p.calls.Add(1)) - 1
	p.mu.Lock()
	p.requests = append(p.requests, request)
	p.ctxErrs = append(p.ctxErrs, ctx.Err())
	p.mu.Unlock()
	if p.outcome != nil {
		if err := p.outcome(call); err != nil {
			return nil, err
		}
	}
	return &provider.Image{Data: []byte(fmt.Sprintf("image-%d", call)), MimeType: "image/png"}, nil
}

func failCalls(calls ...int) func(int) error {
	failing := make(map[int]bool, len(calls))
	for _, call := range calls {
		failing[call] = true
	}
	return func(call int) error {
		if failing[call] {
			return &provider.GenerationFailure{Provider: "scripted", Reason: provider.ReasonNoImageReturned}
		}
		return nil
	}
}

// barrierProvider blocks until every expected call has started.
type barrierProvider struct {
	expected int32
	started  atomic.Int32
	release  chan struct{}
	once     sync.Once
}

func newBarrierProvider(expected int) *barrierProvider {
	return &barrierProvider{expected: int32(expected), release: make(chan struct{})}
}

func (p *barrierProvider) Name() string { return "barrier" }

func (p *barrierProvider) Generate(ctx context.Context, request provider.Request) (*provider.Image, error) {
	if p.started.Add(1) == p.expected {
		p.once.Do(func() { close(p.release) })
	}
	select {
	case <-p.release:
		return &provider.Image{Data: []byte("x"), MimeType: "image/png"}, nil
	case <-time.After(5 * time.Second):
		return nil, errors.New("calls were not dispatched concurrently")
	}
}

type staticSource struct {
	providers map[string]provider.Provider
}

func sourceOf(p provider.Provider) staticSource {
	return staticSource{providers: map[string]provider.Provider{"": p, "default": p}}
}

func (s staticSource) Get(model string) (provider.Provider, error) {
	p, ok := s.providers[model]
	if !ok {
		return nil, fmt.Errorf("%w: %q", provider.ErrUnknownModel, model)
	}
	return p, nil
}

type memoryStore struct {
	mu       sync.Mutex
	next     int
	images   map[string]*database.Image
	content  map[string]*provider.Image
	saved    []string
	rejected []string
	failSave bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		images:  make(map[string]*database.Image),
		content: make(map[string]*provider.Image),
	}
}

func (s *memoryStore) seed(id string, content *provider.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[id] = &database.Image{ID: id, Filename: id + ".png"}
	s.content[id] = content
}

func (s *memoryStore) LoadContent(ctx context.Context, id string) (*provider.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.content[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", database.ErrNotFound, id)
	}
	return content, nil
}

func (s *memoryStore) SaveGenerated(ctx context.Context, parentID *string, prompt string, image *provider.Image) (*database.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave {
		return nil, fmt.Errorf("%w: disk full", database.ErrStorage)
	}
	s.next++
	id := fmt.Sprintf("img-%d", s.next)
	record := &database.Image{ID: id, Filename: id + ".png", ParentID: parentID, Prompt: &prompt}
	s.images[id] = record
	s.content[id] = image
	s.saved = append(s.saved, id)
	return record, nil
}

func (s *memoryStore) MarkRejected(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.images[id]
	if !ok {
		return fmt.Errorf("%w: %s", database.ErrNotFound, id)
	}
	record.IsRejected = true
	s.rejected = append(s.rejected, id)
	return nil
}

func (s *memoryStore) rejectedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.rejected...)
}

type countingSelector struct {
	mu     sync.Mutex
	pick   int
	calls  int
	sizes  []int
	prompt string
}

func (s *countingSelector) SelectBest(ctx context.Context, prompt string, reference *provider.Image, candidates []*provider.Image) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.sizes = append(s.sizes, len(candidates))
	s.prompt = prompt
	return s.pick
}

type recorder struct {
	mu     sync.Mutex
	events []Event
	failAt int
}

func (r *recorder) Emit(ctx context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	if r.failAt > 0 && len(r.events) >= r.failAt {
		return errors.New("client went away")
	}
	return nil
}

// gatedEmitter holds its first event until open is closed.
type gatedEmitter struct {
	recorder
	open     chan struct{}
	timedOut atomic.Bool
}

func (e *gatedEmitter) Emit(ctx context.Context, event Event) error {
	e.recorder.mu.Lock()
	first := len(e.recorder.events) == 0
	e.recorder.mu.Unlock()
	if first {
		select {
		case <-e.open:
		case <-time.After(5 * time.Second):
			e.timedOut.Store(true)
		}
	}
	return e.recorder.Emit(ctx, event)
}

package generation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-playground/validator"
	"golang.org/x/sync/errgroup"

	"github.com/jo-hoe/banano/internal/backend/database"
	"github.com/jo-hoe/banano/internal/backend/provider"
)

// Request is an incoming generation request.
type Request struct {
	Prompt      string   `json:"prompt" validate:"required"`
	ParentID    *string  `json:"parent_id,omitempty"`
	Count       *int     `json:"count,omitempty"`
	Temperature *float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	AspectRatio string   `json:"aspect_ratio,omitempty" validate:"omitempty,oneof=1:1 3:4 9:16 4:3 16:9 auto"`
	Model       string   `json:"model,omitempty"`
}

// Store is the persistence a run needs.
type Store interface {
	LoadContent(ctx context.Context, id string) (*provider.Image, error)
	SaveGenerated(ctx context.Context, parentID *string, prompt string, image *provider.Image) (*database.Image, error)
	MarkRejected(ctx context.Context, id string) error
}

// ProviderSource resolves the model named in a request.
type ProviderSource interface {
	Get(model string) (provider.Provider, error)
}

// Selector picks the best of several candidates, returning a 0-based index.
type Selector interface {
	SelectBest(ctx context.Context, prompt string, reference *provider.Image, candidates []*provider.Image) int
}

type Orchestrator struct {
	config    Config
	store     Store
	providers ProviderSource
	selector  Selector
	validate  *validator.Validate
}

func NewOrchestrator(config Config, store Store, providers ProviderSource, selector Selector) (*Orchestrator, error) {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if store == nil || providers == nil {
		return nil, fmt.Errorf("orchestrator needs a store and a provider source")
	}
	return &Orchestrator{
		config:    config,
		store:     store,
		providers: providers,
		selector:  selector,
		validate:  validator.New(),
	}, nil
}

func (o *Orchestrator) Config() Config {
	return o.config
}

// Prepare validates a request and resolves everything a run needs. It does no
// provider work, so callers can report its errors before opening a stream.
func (o *Orchestrator) Prepare(ctx context.Context, request Request) (*Run, error) {
	request.Prompt = strings.TrimSpace(request.Prompt)
	if request.Prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrValidation)
	}
	if err := o.validate.Struct(request); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	count, err := o.config.clampCount(request.Count)
	if err != nil {
		return nil, err
	}
	p, err := o.providers.Get(request.Model)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	var parentID *string
	var reference *provider.Image
	if request.ParentID != nil && *request.ParentID != "" {
		id := *request.ParentID
		parentID = &id
		reference, err = o.store.LoadContent(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve parent image %s: %w", id, err)
		}
	}

	return &Run{
		orchestrator: o,
		provider:     p,
		prompt:       request.Prompt,
		parentID:     parentID,
		reference:    reference,
		options: provider.Options{
			Temperature: request.Temperature,
			AspectRatio: request.AspectRatio,
		},
		slots:      count,
		candidates: o.config.CandidatesPerSlot,
	}, nil
}

// Generate prepares and executes a run in one call.
func (o *Orchestrator) Generate(ctx context.Context, request Request, emitter Emitter) ([]Result, error) {
	run, err := o.Prepare(ctx, request)
	if err != nil {
		return nil, err
	}
	return run.Execute(ctx, emitter), nil
}

type State int32

const (
	StateIdle State = iota
	StateDispatching
	StateAwaitingCandidates
	StateEvaluating
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatching:
		return "dispatching"
	case StateAwaitingCandidates:
		return "awaiting_candidates"
	case StateEvaluating:
		return "evaluating"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Run is one prepared request. Only the first Execute call does any work.
type Run struct {
	orchestrator *Orchestrator
	provider     provider.Provider
	prompt       string
	parentID     *string
	reference    *provider.Image
	options      provider.Options
	slots        int
	candidates   int
	state        atomic.Int32
}

func (r *Run) Slots() int { return r.slots }

func (r *Run) CandidatesPerSlot() int { return r.candidates }

func (r *Run) State() State {
	return State(r.state.Load())
}

func (r *Run) setState(state State) {
	r.state.Store(int32(state))
	slog.Debug("generation: state changed", "state", state.String())
}

type candidate struct {
	record  *database.Image
	content *provider.Image
}

// Execute dispatches every candidate, evaluates each slot and emits progress.
// Provider calls outlive ctx cancellation; only the emitter sees the client.
func (r *Run) Execute(ctx context.Context, emitter Emitter) []Result {
	if !r.state.CompareAndSwap(int32(StateIdle), int32(StateDispatching)) {
		slog.Error("generation: run executed more than once, ignoring", "state", r.State().String())
		return nil
	}
	slog.Debug("generation: state changed", "state", StateDispatching.String())
	work := context.WithoutCancel(ctx)
	stream := &orderedStream{emitter: emitter}
	total := r.slots * r.candidates

	slog.Info("generation: run started",
		"provider", r.provider.Name(),
		"slots", r.slots,
		"candidates_per_slot", r.candidates,
		"has_reference", r.reference != nil)

	pool := make([][]*candidate, r.slots)
	for slot := range pool {
		pool[slot] = make([]*candidate, r.candidates)
	}

	// Settle events are queued under mu so their order matches completed,
	// and written by one goroutine so a slow client never holds mu.
	progress := make(chan Event, total)
	written := make(chan struct{})
	go func() {
		defer close(written)
		for event := range progress {
			stream.emit(ctx, event)
		}
	}()

	var mu sync.Mutex
	completed := 0
	group := new(errgroup.Group)
	if limit := r.orchestrator.config.MaxParallel; limit > 0 {
		group.SetLimit(limit)
	}
	for slot := 0; slot < r.slots; slot++ {
		for index := 0; index < r.candidates; index++ {
			group.Go(func() error {
				result := r.generateCandidate(work, slot, index)

				mu.Lock()
				defer mu.Unlock()
				pool[slot][index] = result
				completed++
				progress <- progressEvent(PhaseGenerating, completed, total)
				return nil
			})
		}
	}
	r.setState(StateAwaitingCandidates)
	_ = group.Wait()
	close(progress)
	<-written

	r.setState(StateEvaluating)
	results := make([]Result, 0, r.slots)
	for slot, entries := range pool {
		survivors := make([]*candidate, 0, len(entries))
		for _, entry := range entries {
			if entry != nil {
				survivors = append(survivors, entry)
			}
		}
		if len(survivors) == 0 {
			slog.Warn("generation: slot produced no candidates", "slot", slot)
			continue
		}

		winner := survivors[0]
		if r.orchestrator.config.BestOf() {
			stream.emit(ctx, progressEvent(PhaseEvaluating, slot, r.slots))
			winner = r.evaluateSlot(work, slot, survivors)
		}
		results = append(results, Result{ID: winner.record.ID, Filename: winner.record.Filename})
	}
	if r.orchestrator.config.BestOf() {
		stream.emit(ctx, progressEvent(PhaseEvaluating, r.slots, r.slots))
	}

	stream.emit(ctx, terminalEvent(results))
	r.setState(StateCompleted)
	slog.Info("generation: run completed", "provider", r.provider.Name(), "winners", len(results), "slots", r.slots)
	return results
}

func (r *Run) generateCandidate(ctx context.Context, slot, index int) *candidate {
	image, err := provider.SafeGenerate(ctx, r.provider, provider.Request{
		Prompt:    r.prompt,
		Reference: r.reference,
		Options:   r.options,
	})
	if err != nil {
		failure := provider.AsFailure(r.provider.Name(), err)
		slog.Warn("generation: candidate failed",
			"slot", slot, "candidate", index, "reason", failure.Reason, "error", failure.Err)
		return nil
	}

	record, err := r.orchestrator.store.SaveGenerated(ctx, r.parentID, r.prompt, image)
	if err != nil {
		slog.Error("generation: failed to persist candidate", "slot", slot, "candidate", index, "error", err)
		return nil
	}
	return &candidate{record: record, content: image}
}

// evaluateSlot keeps one survivor and rejects the rest.
func (r *Run) evaluateSlot(ctx context.Context, slot int, survivors []*candidate) *candidate {
	best := 0
	if len(survivors) > 1 && r.orchestrator.selector != nil {
		contents := make([]*provider.Image, len(survivors))
		for i, survivor := range survivors {
			contents[i] = survivor.content
		}
		best = r.orchestrator.selector.SelectBest(ctx, r.prompt, r.reference, contents)
		if best < 0 || best >= len(survivors) {
			best = 0
		}
	}

	for i, survivor := range survivors {
		if i == best {
			continue
		}
		if err := r.orchestrator.store.MarkRejected(ctx, survivor.record.ID); err != nil {
			slog.Error("generation: failed to reject candidate", "slot", slot, "image_id", survivor.record.ID, "error", err)
		}
	}
	slog.Debug("generation: slot evaluated", "slot", slot, "survivors", len(survivors), "winner", survivors[best].record.ID)
	return survivors[best]
}

// orderedStream forwards events until the first delivery error, after which
// the run continues without a client.
type orderedStream struct {
	emitter  Emitter
	detached bool
}

func (s *orderedStream) emit(ctx context.Context, event Event) {
	if s.emitter == nil || s.detached {
		return
	}
	if err := s.emitter.Emit(ctx, event); err != nil {
		s.detached = true
		slog.Warn("generation: progress stream lost, continuing without client", "error", err)
	}
}

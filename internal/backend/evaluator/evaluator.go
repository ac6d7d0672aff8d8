package evaluator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jo-hoe/banano/internal/backend/provider"
)

// Judge picks the candidate that best matches the prompt. It answers with a
// 1-based position in candidates.
type Judge interface {
	Choose(ctx context.Context, prompt string, reference *provider.Image, candidates []*provider.Image) (int, error)
}

// Evaluator turns a judge answer into a candidate index and never fails.
type Evaluator struct {
	judge Judge
}

func New(judge Judge) *Evaluator {
	return &Evaluator{judge: judge}
}

// SelectBest returns a 0-based index into candidates. A single candidate is
// returned without consulting the judge; every judging problem yields 0.
func (e *Evaluator) SelectBest(ctx context.Context, prompt string, reference *provider.Image, candidates []*provider.Image) int {
	if len(candidates) <= 1 || e == nil || e.judge == nil {
		return 0
	}

	choice, err := e.choose(ctx, prompt, reference, candidates)
	if err != nil {
		slog.Warn("evaluator: judging failed, keeping first candidate", "candidates", len(candidates), "error", err)
		return 0
	}
	if choice < 1 || choice > len(candidates) {
		slog.Warn("evaluator: judge answer out of range, keeping first candidate", "choice", choice, "candidates", len(candidates))
		return 0
	}
	slog.Debug("evaluator: judge selected candidate", "choice", choice, "candidates", len(candidates))
	return choice - 1
}

func (e *Evaluator) choose(ctx context.Context, prompt string, reference *provider.Image, candidates []*provider.Image) (choice int, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("judge panic: %v", recovered)
		}
	}()
	return e.judge.Choose(ctx, prompt, reference, candidates)
}

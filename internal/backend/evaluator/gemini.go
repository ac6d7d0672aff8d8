package evaluator

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jo-hoe/banano/internal/backend/provider"
)

const DefaultJudgeModel = "gemini-2.5-flash"

var choicePattern = regexp.MustCompile(`\d+`)

// GeminiJudge asks a Gemini vision model to compare the candidates.
type GeminiJudge struct {
	client *provider.GeminiClient
	model  string
}

func NewGeminiJudge(client *provider.GeminiClient, model string) *GeminiJudge {
	if model == "" {
		model = DefaultJudgeModel
	}
	return &GeminiJudge{client: client, model: model}
}

func (j *GeminiJudge) Choose(ctx context.Context, prompt string, reference *provider.Image, candidates []*provider.Image) (int, error) {
	parts := make([]provider.GeminiPart, 0, 2*len(candidates)+3)
	if reference != nil {
		parts = append(parts,
			provider.TextPart("Reference image the instruction was applied to:"),
			provider.ImagePart(reference))
	}
	for i, candidate := range candidates {
		parts = append(parts,
			provider.TextPart(fmt.Sprintf("Candidate %d:", i+1)),
			provider.ImagePart(candidate))
	}
	parts = append(parts, provider.TextPart(judgeInstruction(prompt, len(candidates))))

	temperature := 0.0
	resp, err := j.client.GenerateContent(ctx, j.model, provider.GeminiRequest{
		Contents:         []provider.GeminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: &provider.GeminiGenerationConfig{Temperature: &temperature},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to ask judge model %s: %w", j.model, err)
	}
	return ParseChoice(resp.Text(), len(candidates))
}

func judgeInstruction(prompt string, count int) string {
	return fmt.Sprintf("The candidates above were generated for this instruction: %q\n"+
		"Pick the candidate that follows the instruction best and has the highest visual quality. "+
		"Answer with only the candidate number between 1 and %d.", prompt, count)
}

// ParseChoice reads the first number in a judge answer and checks it lies in [1, count].
func ParseChoice(answer string, count int) (int, error) {
	match := choicePattern.FindString(strings.TrimSpace(answer))
	if match == "" {
		return 0, fmt.Errorf("judge answer %q contains no number", answer)
	}
	choice, err := strconv.Atoi(match)
	if err != nil {
		return 0, fmt.Errorf("failed to parse judge answer %q: %w", answer, err)
	}
	if choice < 1 || choice > count {
		return 0, fmt.Errorf("judge answer %d is outside [1, %d]", choice, count)
	}
	return choice, nil
}

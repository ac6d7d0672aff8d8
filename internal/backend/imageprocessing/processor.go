package imageprocessing

import (
	"fmt"
	"log/slog"
	"time"
)

// ImageProcessor transforms encoded image bytes.
type ImageProcessor interface {
	Type() string
	ProcessImage(imageData []byte) ([]byte, error)
}

// Pipeline runs processors in order, feeding each the previous output.
type Pipeline struct {
	processors []ImageProcessor
}

func NewPipeline(processors ...ImageProcessor) *Pipeline {
	return &Pipeline{processors: processors}
}

func (p *Pipeline) ProcessImage(imageData []byte) ([]byte, error) {
	current := imageData
	for i, processor := range p.processors {
		start := time.Now()
		slog.Debug("Pipeline: running processor", "index", i, "type", processor.Type(), "input_size_bytes", len(current))
		output, err := processor.ProcessImage(current)
		if err != nil {
			return nil, fmt.Errorf("processor %s failed: %w", processor.Type(), err)
		}
		slog.Debug("Pipeline: processor finished", "type", processor.Type(), "output_size_bytes", len(output), "duration", time.Since(start))
		current = output
	}
	return current, nil
}

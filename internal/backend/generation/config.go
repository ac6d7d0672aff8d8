package generation

import (
	"fmt"
)

const (
	DefaultMinCount          = 1
	DefaultMaxCount          = 3
	DefaultCandidatesPerSlot = 3
)

// Config bounds a run. CandidatesPerSlot of 1 selects one-shot mode, larger
// values generate that many candidates per slot and keep the best one.
// MaxParallel caps concurrent provider calls, 0 means no cap.
type Config struct {
	MinCount          int `yaml:"minCount"`
	MaxCount          int `yaml:"maxCount"`
	CandidatesPerSlot int `yaml:"candidatesPerSlot"`
	MaxParallel       int `yaml:"maxParallel"`
}

func DefaultConfig() Config {
	return Config{
		MinCount:          DefaultMinCount,
		MaxCount:          DefaultMaxCount,
		CandidatesPerSlot: DefaultCandidatesPerSlot,
	}
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.MinCount <= 0 {
		c.MinCount = DefaultMinCount
	}
	if c.MaxCount <= 0 {
		c.MaxCount = DefaultMaxCount
	}
	if c.CandidatesPerSlot <= 0 {
		c.CandidatesPerSlot = DefaultCandidatesPerSlot
	}
	return c
}

func (c Config) Validate() error {
	if c.MinCount > c.MaxCount {
		return fmt.Errorf("generation minCount %d exceeds maxCount %d", c.MinCount, c.MaxCount)
	}
	if c.MaxParallel < 0 {
		return fmt.Errorf("generation maxParallel must not be negative, got %d", c.MaxParallel)
	}
	return nil
}

// BestOf reports whether runs evaluate several candidates per slot.
func (c Config) BestOf() bool {
	return c.CandidatesPerSlot > 1
}

// clampCount resolves the requested slot count. A missing or zero count means
// one image; negative counts are rejected.
func (c Config) clampCount(requested *int) (int, error) {
	count := 1
	if requested != nil && *requested != 0 {
		count = *requested
	}
	if count < 0 {
		return 0, fmt.Errorf("%w: count must not be negative, got %d", ErrValidation, count)
	}
	if count < c.MinCount {
		count = c.MinCount
	}
	if count > c.MaxCount {
		count = c.MaxCount
	}
	return count, nil
}

package cache

import (
	"context"
	"fmt"
	"time"
)

// DescendantCounter is the uncached source of descendant counts.
type DescendantCounter interface {
	DescendantCount(ctx context.Context, id string) (int, error)
}

// CountCache answers descendant counts and forgets them whenever the lineage changes.
type CountCache interface {
	DescendantCounter
	Invalidate(ctx context.Context) error
	Close() error
}

type Config struct {
	Type      string        `yaml:"type"`
	Address   string        `yaml:"address"`
	Password  string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"keyPrefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// New returns a pass-through cache unless Redis is configured.
func New(cfg Config, source DescendantCounter) (CountCache, error) {
	switch cfg.Type {
	case "", "none":
		return Passthrough{source: source}, nil
	case "redis":
		return NewRedisCountCache(cfg, source)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// Passthrough forwards every lookup to the source.
type Passthrough struct {
	source DescendantCounter
}

func NewPassthrough(source DescendantCounter) Passthrough {
	return Passthrough{source: source}
}

func (p Passthrough) DescendantCount(ctx context.Context, id string) (int, error) {
	return p.source.DescendantCount(ctx, id)
}

func (p Passthrough) Invalidate(ctx context.Context) error { return nil }

func (p Passthrough) Close() error { return nil }

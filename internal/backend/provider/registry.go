package provider

import (
	"errors"
	"fmt"
	"sync"
)

var ErrUnknownModel = errors.New("unknown model")

// Model is a selectable entry of the model catalogue.
type Model struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Registry maps the model names clients send to providers. Registration
// order is kept so the first entry acts as the default model.
type Registry struct {
	mu        sync.RWMutex
	order     []Model
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider under name
func (r *Registry) Register(name, label string, p Provider) error {
	if name == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	if p == nil {
		return fmt.Errorf("provider for model %s cannot be nil", name)
	}
	if label == "" {
		label = name
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("model %s is already registered", name)
	}
	r.providers[name] = p
	r.order = append(r.order, Model{Value: name, Label: label})
	return nil
}

// Get resolves a model name; an empty name selects the default model.
func (r *Registry) Get(name string) (Provider, error) {
	if name == "" {
		name = r.Default()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	return p, nil
}

func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.providers[name]
	return exists
}

// Models returns the catalogue in registration order.
func (r *Registry) Models() []Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	models := make([]Model, len(r.order))
	copy(models, r.order)
	return models
}

func (r *Registry) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return ""
	}
	return r.order[0].Value
}

package exports

import (
	"fmt"
	"sync"
)

// Registry manages the producers of each export kind
type Registry struct {
	mu        sync.RWMutex
	producers map[string]Producer
	order     []string // Maintains registration order
}

// NewRegistry creates an empty producer registry
func NewRegistry() *Registry {
	return &Registry{
		producers: make(map[string]Producer),
		order:     make([]string, 0),
	}
}

// Register adds a producer to the registry
func (r *Registry) Register(producer Producer) error {
	if producer == nil {
		return fmt.Errorf("cannot register nil producer")
	}

	kind := producer.Info().Kind
	if kind == "" {
		return fmt.Errorf("producer kind cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.producers[kind]; exists {
		return fmt.Errorf("producer for kind %s already registered", kind)
	}

	r.producers[kind] = producer
	r.order = append(r.order, kind)
	return nil
}

// Get retrieves the producer of a kind
func (r *Registry) Get(kind string) (Producer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	producer, exists := r.producers[kind]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return producer, nil
}

// Has checks if a kind is registered
func (r *Registry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.producers[kind]
	return exists
}

// Kinds returns the registered kinds in registration order
func (r *Registry) Kinds() []KindInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]KindInfo, 0, len(r.order))
	for _, kind := range r.order {
		kinds = append(kinds, r.producers[kind].Info())
	}
	return kinds
}

// Count returns the number of registered producers
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.producers)
}

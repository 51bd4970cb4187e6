package codec

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry manages the available codecs
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]Codec // keyed by normalized name and UID
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[string]Codec)}
}

var defaultRegistry = NewRegistry()

// Register adds a codec to the default registry
func Register(c Codec) error {
	return defaultRegistry.Register(c)
}

// Get retrieves a codec from the default registry by name or UID
func Get(nameOrUID string) (Codec, error) {
	return defaultRegistry.Get(nameOrUID)
}

// List returns the codecs of the default registry sorted by name
func List() []Codec {
	return defaultRegistry.List()
}

func key(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Register registers a codec under both its name and UID. Registering the
// same codec twice is a no-op; a different codec under a taken key fails.
func (r *Registry) Register(c Codec) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := []string{key(c.Name()), key(c.UID())}
	for _, k := range keys {
		if k == "" {
			return fmt.Errorf("%w: empty name or UID", ErrInvalidParameter)
		}
		if old, ok := r.codecs[k]; ok && old != c {
			return fmt.Errorf("%w: %q", ErrDuplicateCodec, k)
		}
	}
	for _, k := range keys {
		r.codecs[k] = c
	}
	return nil
}

// Get retrieves a codec by name or UID
func (r *Registry) Get(nameOrUID string) (Codec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.codecs[key(nameOrUID)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrCodecNotFound, nameOrUID)
	}
	return c, nil
}

// List returns all registered codecs, deduplicated and sorted by name
func (r *Registry) List() []Codec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[Codec]bool)
	codecs := make([]Codec, 0, len(r.codecs)/2)
	for _, c := range r.codecs {
		if !seen[c] {
			seen[c] = true
			codecs = append(codecs, c)
		}
	}
	sort.Slice(codecs, func(i, j int) bool { return codecs[i].Name() < codecs[j].Name() })
	return codecs
}

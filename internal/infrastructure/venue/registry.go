package venue

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"brokerhub/internal/application/port"
	"brokerhub/internal/domain"
)

// Factory builds a live adapter from a venue config.
type Factory func(cfg Config) (port.Broker, error)

// Registry maps venue types to adapter factories. The zero value is not
// usable; construct with NewRegistry and register factories during assembly
// (or test setup) before any lookups, so no locking here. Registries are
// plain values handed to whoever dispatches on venue type; there is no
// process-wide instance.
type Registry struct {
	factories map[domain.VenueType]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[domain.VenueType]Factory)}
}

// Register installs a factory for a venue type. Re-registering replaces the
// previous factory with a warning.
func (r *Registry) Register(vt domain.VenueType, f Factory) {
	if _, exists := r.factories[vt]; exists {
		log.Warn().Str("venue_type", string(vt)).Msg("venue factory already registered, overwriting")
	}
	r.factories[vt] = f
}

// Get returns the factory for a venue type.
func (r *Registry) Get(vt domain.VenueType) (Factory, bool) {
	f, ok := r.factories[vt]
	return f, ok
}

// Build looks up the factory for vt and runs it.
func (r *Registry) Build(vt domain.VenueType, cfg Config) (port.Broker, error) {
	f, ok := r.factories[vt]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for venue type %q", vt)
	}
	return f(cfg)
}

// Types lists the registered venue types in stable order.
func (r *Registry) Types() []domain.VenueType {
	out := make([]domain.VenueType, 0, len(r.factories))
	for vt := range r.factories {
		out = append(out, vt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

package normalizer

import (
	"context"

	"github.com/telhawk-systems/telhawk-devicebridge/internal/model"
)

// Normalizer converts a raw event payload into a canonical envelope.
// Implementations must be safe for concurrent use and keep no per-call state.
type Normalizer interface {
	Normalize(ctx context.Context, event *model.RawEvent) (model.Envelope, error)
	Supports(kind model.SourceKind) bool
}

// Registry holds ordered normalizers and finds a match for a given event.
type Registry struct {
	items []Normalizer
}

// NewRegistry constructs a registry with provided normalizers.
func NewRegistry(items ...Normalizer) *Registry {
	return &Registry{items: items}
}

// Default returns the registry used by the outbound pipeline.
func Default(envelopeKey string) *Registry {
	return NewRegistry(
		NewArtifactNormalizer(envelopeKey),
		NewDocumentNormalizer(envelopeKey),
	)
}

// Find returns the first normalizer that supports the event's source kind.
func (r *Registry) Find(event *model.RawEvent) Normalizer {
	if r == nil || event == nil {
		return nil
	}
	for _, n := range r.items {
		if n.Supports(event.Kind) {
			return n
		}
	}
	return nil
}

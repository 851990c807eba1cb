package ports

import (
	"context"

	"github.com/aretw0/formtree/pkg/domain"
)

// TemplateSource is a read-only catalogue of form templates.
type TemplateSource interface {
	// ListTemplates returns the names of the available templates.
	ListTemplates(ctx context.Context) ([]string, error)

	// LoadTemplate builds a fresh form from the named template.
	// Returns domain.ErrFormNotFound for an unknown name.
	LoadTemplate(ctx context.Context, name string) (*domain.FormState, error)
}

// Watchable defines an interface for sources that can notify about backend changes.
type Watchable interface {
	// Watch returns a channel that is signaled when the underlying templates change.
	Watch(ctx context.Context) (<-chan struct{}, error)
}

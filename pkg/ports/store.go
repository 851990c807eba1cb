package ports

import (
	"context"

	"github.com/aretw0/formtree/pkg/domain"
)

// FormStore defines the interface for persisting forms.
// Implementations store the whole aggregate; partial updates are not supported.
type FormStore interface {
	// Save persists the state under state.ID, replacing any previous version.
	Save(ctx context.Context, state *domain.FormState) error

	// Load retrieves the form with the given id.
	// Returns domain.ErrFormNotFound if the form does not exist.
	Load(ctx context.Context, formID string) (*domain.FormState, error)

	// Delete removes the form. Deleting a missing form is not an error.
	Delete(ctx context.Context, formID string) error

	// List returns the ids of every stored form.
	List(ctx context.Context) ([]string, error)
}

package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/aretw0/formtree/pkg/domain"
	"github.com/aretw0/formtree/pkg/migrate"
)

// Templates implements ports.TemplateSource over in-memory forms.
type Templates struct {
	forms map[string]*domain.FormState
}

// NewTemplates creates a template source from raw JSON documents keyed by
// template name. Documents may use the legacy or the current shape.
func NewTemplates(data map[string]string) (*Templates, error) {
	forms := make(map[string]*domain.FormState, len(data))
	for name, doc := range data {
		st, _, err := migrate.FromJSON([]byte(doc))
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", name, err)
		}
		forms[name] = st
	}
	return &Templates{forms: forms}, nil
}

// NewFromForms creates a template source from domain objects, keyed by form id.
// This handles serialization automatically, improving DX for tests.
func NewFromForms(forms ...*domain.FormState) (*Templates, error) {
	data := make(map[string]string, len(forms))
	for _, f := range forms {
		if f.ID == "" {
			return nil, fmt.Errorf("form missing ID")
		}
		bytes, err := json.Marshal(f)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal form %s: %w", f.ID, err)
		}
		data[f.ID] = string(bytes)
	}
	return NewTemplates(data)
}

// LoadTemplate returns a copy of the named template.
func (t *Templates) LoadTemplate(ctx context.Context, name string) (*domain.FormState, error) {
	form, ok := t.forms[name]
	if !ok {
		return nil, fmt.Errorf("template %s: %w", name, domain.ErrFormNotFound)
	}
	return form.Clone(), nil
}

// ListTemplates returns all template names.
func (t *Templates) ListTemplates(ctx context.Context) ([]string, error) {
	keys := make([]string, 0, len(t.forms))
	for k := range t.forms {
		keys = append(keys, k)
	}
	sort.Strings(keys) // Deterministic order
	return keys, nil
}

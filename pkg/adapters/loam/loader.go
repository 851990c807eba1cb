// Package loam serves form templates from a Loam document repository.
//
// Each template is one document. Its frontmatter (or the whole object, for
// JSON files) is a form in the legacy or the current shape. A Markdown body
// holds notes for template authors and is not part of the form.
package loam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/formtree/pkg/domain"
	"github.com/aretw0/formtree/pkg/migrate"
	"github.com/aretw0/loam"
	"github.com/aretw0/loam/pkg/core"
)

// Open initializes a read-only Loam repository at dir with strict numeric decoding.
func Open(dir string) (core.Repository, error) {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	repo, err := loam.Init(absPath,
		loam.WithStrict(true),
		loam.WithReadOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize loam: %w", err)
	}
	return repo, nil
}

// Loader adapts a Loam repository to ports.TemplateSource.
type Loader struct {
	repo  core.Repository
	typed *loam.TypedRepository[TemplateMetadata]
}

// New creates a new Loam adapter.
func New(repo core.Repository) *Loader {
	return &Loader{
		repo:  repo,
		typed: loam.NewTypedRepository[TemplateMetadata](repo),
	}
}

// ListTemplates lists the normalized names of all templates.
func (l *Loader) ListTemplates(ctx context.Context) ([]string, error) {
	docs, err := l.typed.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loam list failed: %w", err)
	}

	seen := make(map[string]string)
	names := make([]string, 0, len(docs))
	for _, doc := range docs {
		name := trimExtension(doc.ID)
		if existingPath, ok := seen[name]; ok {
			return nil, fmt.Errorf("collision detected: template '%s' is defined in both '%s' and '%s'", name, existingPath, doc.ID)
		}
		seen[name] = doc.ID
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// LoadTemplate reads the named document and migrates it into a form.
// A missing form id defaults to the template name.
func (l *Loader) LoadTemplate(ctx context.Context, name string) (*domain.FormState, error) {
	doc, err := l.repo.Get(ctx, trimExtension(name))
	if err != nil {
		return nil, fmt.Errorf("template %s: %w: %v", name, domain.ErrFormNotFound, err)
	}

	raw := make(map[string]any, len(doc.Metadata)+1)
	for k, v := range doc.Metadata {
		raw[k] = v
	}
	if id, _ := raw["id"].(string); id == "" {
		raw["id"] = trimExtension(name)
	}

	// Round-trip through JSON so strict-mode numbers reach the form as float64,
	// like every other adapter produces.
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", name, err)
	}
	form, _, err := migrate.FromJSON(data)
	if err != nil {
		if errors.Is(err, migrate.ErrUnrecognized) {
			return nil, fmt.Errorf("template %s is not a form: %w", name, err)
		}
		return nil, fmt.Errorf("template %s: %w", name, err)
	}
	return form, nil
}

func trimExtension(id string) string {
	ext := filepath.Ext(id)
	if ext != "" {
		return filepath.ToSlash(strings.TrimSuffix(id, ext))
	}
	return filepath.ToSlash(id)
}

// Watch implements ports.Watchable.
func (l *Loader) Watch(ctx context.Context) (<-chan struct{}, error) {
	events, err := l.typed.Watch(ctx, "**/*.{md,json,yaml,yml}")
	if err != nil {
		return nil, fmt.Errorf("failed to start loam watcher: %w", err)
	}

	ch := make(chan struct{}, 1)

	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-events:
				if !ok {
					return
				}
				// Coalesce bursts: one pending signal is enough.
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
	}()

	return ch, nil
}

package middleware

import (
	"context"
	"regexp"

	"github.com/aretw0/formtree/pkg/domain"
	"github.com/aretw0/formtree/pkg/ports"
)

// Mask replaces redacted values.
const Mask = "***"

// DefaultSecretPatterns match keys that commonly hold credentials.
var DefaultSecretPatterns = []string{`(?i)password`, `(?i)secret`, `(?i)token`, `(?i)api[_-]?key`}

type piiMiddleware struct {
	next     ports.FormStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks service attributes and
// question config values whose keys match any pattern. Nested maps are walked.
func NewPIIMiddleware(patternStrings []string) Middleware {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		patterns[i] = regexp.MustCompile(p)
	}
	return func(next ports.FormStore) ports.FormStore {
		return &piiMiddleware{next: next, patterns: patterns}
	}
}

func (m *piiMiddleware) Save(ctx context.Context, state *domain.FormState) error {
	// The caller's state is the live editor state; mask a copy.
	cloned := state.Clone()
	for _, n := range cloned.Nodes {
		if svc, ok := n.(*domain.ServiceNode); ok {
			maskMap(svc.Attributes, m.patterns)
		}
	}
	for _, q := range cloned.Questions {
		maskMap(q.Config, m.patterns)
	}
	return m.next.Save(ctx, cloned)
}

func (m *piiMiddleware) Load(ctx context.Context, formID string) (*domain.FormState, error) {
	return m.next.Load(ctx, formID)
}

func (m *piiMiddleware) Delete(ctx context.Context, formID string) error {
	return m.next.Delete(ctx, formID)
}

func (m *piiMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func maskMap(m map[string]any, patterns []*regexp.Regexp) {
	for k, v := range m {
		masked := false
		for _, p := range patterns {
			if p.MatchString(k) {
				m[k] = Mask
				masked = true
				break
			}
		}
		if masked {
			continue
		}
		switch sub := v.(type) {
		case map[string]any:
			maskMap(sub, patterns)
		case []any:
			for _, item := range sub {
				if itemMap, ok := item.(map[string]any); ok {
					maskMap(itemMap, patterns)
				}
			}
		}
	}
}

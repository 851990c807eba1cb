package tests

import (
	"context"
	"testing"

	"github.com/aretw0/formtree/pkg/domain"
	"github.com/aretw0/formtree/pkg/ports"
)

// TemplateSourceContractTest is a reusable test suite that verifies if an adapter complies with ports.TemplateSource.
// expected maps each template name to the form name it should produce.
func TemplateSourceContractTest(t *testing.T, source ports.TemplateSource, expected map[string]string) {
	t.Helper()
	ctx := context.Background()

	t.Run("LoadTemplate_Success", func(t *testing.T) {
		for name, formName := range expected {
			form, err := source.LoadTemplate(ctx, name)
			if err != nil {
				t.Fatalf("unexpected error loading template %s: %v", name, err)
			}
			if form.Name != formName {
				t.Errorf("form name mismatch for %s. got %q, want %q", name, form.Name, formName)
			}
			if err := domain.CheckInvariants(form); err != nil {
				t.Errorf("template %s produced an inconsistent form: %v", name, err)
			}
		}
	})

	t.Run("LoadTemplate_NotFound", func(t *testing.T) {
		_, err := source.LoadTemplate(ctx, "non-existent-template")
		if err == nil {
			t.Error("expected error for non-existent template, got nil")
		}
	})

	t.Run("ListTemplates", func(t *testing.T) {
		names, err := source.ListTemplates(ctx)
		if err != nil {
			t.Fatalf("unexpected error listing templates: %v", err)
		}
		if len(names) != len(expected) {
			t.Errorf("expected %d templates, got %d", len(expected), len(names))
		}
		lookup := make(map[string]bool)
		for _, name := range names {
			lookup[name] = true
		}
		for name := range expected {
			if !lookup[name] {
				t.Errorf("template %s missing from list", name)
			}
		}
	})
}

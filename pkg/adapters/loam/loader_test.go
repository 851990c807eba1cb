package loam

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aretw0/formtree/internal/testutils"
	"github.com/aretw0/formtree/pkg/domain"
	"github.com/aretw0/formtree/pkg/ports/tests"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const salonTemplate = `---
name: Salon
slug: salon
services:
  - id: consult
    name: Consultation
    price: 0
    questions:
      - id: q-name
        label: Your name?
categories:
  - name: Hair
    services:
      - id: cut
        name: Cut
        price: 30
        duration: 45
---
Starter template for hair salons.`

func currentShape(t *testing.T) string {
	t.Helper()
	st := domain.NewFormState("clinic", "Clinic", "clinic")
	data, err := json.Marshal(st)
	require.NoError(t, err)
	return string(data)
}

func TestLoader_Contract(t *testing.T) {
	_, repo := testutils.SetupTemplateRepo(t, map[string]string{
		"salon.md":    salonTemplate,
		"clinic.json": currentShape(t),
	})

	tests.TemplateSourceContractTest(t, New(repo), map[string]string{
		"salon":  "Salon",
		"clinic": "Clinic",
	})
}

func TestLoader_LoadTemplate_Migrates(t *testing.T) {
	_, repo := testutils.SetupTemplateRepo(t, map[string]string{"salon.md": salonTemplate})

	form, err := New(repo).LoadTemplate(context.Background(), "salon")
	require.NoError(t, err)

	assert.Equal(t, "salon", form.ID, "id defaults to the template name")
	require.Len(t, form.Root().ChildIDs, 2)
	cut, ok := form.Nodes["cut"].(*domain.ServiceNode)
	require.True(t, ok)
	assert.Equal(t, float64(30), cut.Attributes["price"])
	assert.Equal(t, "Your name?", form.Questions["q-name"].Label())
}

func TestLoader_ListTemplates_NormalizesIDs(t *testing.T) {
	_, repo := testutils.SetupTemplateRepo(t, map[string]string{
		"salon.md":    salonTemplate,
		"clinic.json": currentShape(t),
	})

	names, err := New(repo).ListTemplates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"clinic", "salon"}, names)
}

func TestLoader_ListTemplates_Collision(t *testing.T) {
	_, repo := testutils.SetupTemplateRepo(t, map[string]string{
		"salon.md":   salonTemplate,
		"salon.json": currentShape(t),
	})

	_, err := New(repo).ListTemplates(context.Background())
	assert.ErrorContains(t, err, "collision detected")
}

func TestLoader_LoadTemplate_RejectsNonForms(t *testing.T) {
	_, repo := testutils.SetupTemplateRepo(t, map[string]string{"notes.json": `{"foo": 1}`})

	_, err := New(repo).LoadTemplate(context.Background(), "notes")
	assert.ErrorContains(t, err, "not a form")

	_, err = New(repo).LoadTemplate(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrFormNotFound)
}

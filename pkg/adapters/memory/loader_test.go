package memory_test

import (
	"testing"

	"github.com/aretw0/formtree/pkg/adapters/memory"
	"github.com/aretw0/formtree/pkg/domain"
	contract "github.com/aretw0/formtree/pkg/ports/tests"
	"github.com/stretchr/testify/require"
)

func TestInMemoryTemplates_Contract(t *testing.T) {
	data := map[string]string{
		"salon":  `{"id": "salon", "name": "Salon", "services": [{"name": "Cut", "price": 30}]}`,
		"clinic": `{"id": "clinic", "name": "Clinic", "categories": [{"name": "Dental", "services": [{"name": "Cleaning"}]}]}`,
	}

	templates, err := memory.NewTemplates(data)
	require.NoError(t, err)

	contract.TemplateSourceContractTest(t, templates, map[string]string{
		"salon":  "Salon",
		"clinic": "Clinic",
	})
}

func TestInMemoryTemplates_FromForms(t *testing.T) {
	templates, err := memory.NewFromForms(domain.NewFormState("spa", "Spa", "spa"))
	require.NoError(t, err)

	contract.TemplateSourceContractTest(t, templates, map[string]string{"spa": "Spa"})

	_, err = memory.NewFromForms(&domain.FormState{})
	require.Error(t, err)
}

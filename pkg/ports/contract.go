package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/formtree/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleForm builds a small but complete form: a group holding one service with two questions.
func sampleForm(id string) *domain.FormState {
	st := domain.NewFormState(id, "Contract Salon", "contract-salon")
	st.Theme = "light"
	root := st.Root()
	root.ChildIDs = []string{"g1"}
	st.Nodes["g1"] = &domain.GroupNode{
		NodeBase: domain.NodeBase{ID: "g1", ParentID: root.ID},
		Label:    "Hair",
		ChildIDs: []string{"s1"},
	}
	st.Nodes["s1"] = &domain.ServiceNode{
		NodeBase:    domain.NodeBase{ID: "s1", ParentID: "g1"},
		Label:       "Cut",
		Attributes:  map[string]any{"price": 30, "duration": 45},
		QuestionIDs: []string{"q1", "q2"},
	}
	st.Questions["q1"] = &domain.Question{ID: "q1", ServiceID: "s1", Config: map[string]any{"label": "Name?"}, Order: 0}
	st.Questions["q2"] = &domain.Question{ID: "q2", ServiceID: "s1", Config: map[string]any{"label": "Phone?", "required": true}, Order: 1}
	return st
}

// RunFormStoreContract runs a suite of tests to verify that a FormStore implementation
// adheres to the defined interface contract.
func RunFormStoreContract(t *testing.T, store FormStore) {
	ctx := context.Background()
	formID := "contract-test-form-" + time.Now().Format("20060102150405")

	t.Run("Save and Load", func(t *testing.T) {
		state := sampleForm(formID)

		err := store.Save(ctx, state)
		require.NoError(t, err, "Save should not return error")

		loaded, err := store.Load(ctx, formID)
		require.NoError(t, err, "Load should not return error")
		require.NoError(t, domain.CheckInvariants(loaded))
		// Numbers may come back as float64 after a JSON round trip; structural
		// equality compares encodings and tolerates that.
		assert.True(t, domain.StructurallyEqual(state, loaded), "loaded form should match saved form")
		assert.Equal(t, "light", loaded.Theme)
		assert.IsType(t, &domain.ServiceNode{}, loaded.Nodes["s1"])
	})

	t.Run("Save Overwrites", func(t *testing.T) {
		state := sampleForm(formID)
		state.Name = "Renamed"
		require.NoError(t, store.Save(ctx, state))

		loaded, err := store.Load(ctx, formID)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", loaded.Name)
	})

	t.Run("Saved Copy Is Isolated", func(t *testing.T) {
		state := sampleForm(formID)
		require.NoError(t, store.Save(ctx, state))
		state.Nodes["s1"].(*domain.ServiceNode).Label = "mutated after save"

		loaded, err := store.Load(ctx, formID)
		require.NoError(t, err)
		assert.Equal(t, "Cut", loaded.Nodes["s1"].(*domain.ServiceNode).Label)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+formID)
		assert.ErrorIs(t, err, domain.ErrFormNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, sampleForm(formID)))

		err := store.Delete(ctx, formID)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, formID)
		assert.ErrorIs(t, err, domain.ErrFormNotFound, "Load after Delete should return ErrFormNotFound")

		assert.NoError(t, store.Delete(ctx, formID), "deleting twice is not an error")
	})

	t.Run("List", func(t *testing.T) {
		id1 := formID + "-1"
		id2 := formID + "-2"
		require.NoError(t, store.Save(ctx, sampleForm(id1)))
		require.NoError(t, store.Save(ctx, sampleForm(id2)))

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		forms, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, forms, id1)
		assert.Contains(t, forms, id2)
	})
}

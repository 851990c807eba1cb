package migrate_test

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/aretw0/formtree/pkg/domain"
	"github.com/aretw0/formtree/pkg/migrate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequentialIDs() migrate.Option {
	n := 0
	return migrate.WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("gen-%d", n)
	})
}

const legacyDoc = `{
  "id": "salon",
  "name": "Salon",
  "slug": "salon",
  "theme": "dark",
  "services": [
    {"id": "consult", "name": "Consultation", "price": 0, "duration": 15,
     "questions": [{"id": "q1", "label": "Name?"}, {"label": "Phone?"}]}
  ],
  "categories": [
    {"name": "Hair", "services": [
      {"id": "cut", "name": "Cut", "price": "30", "duration": 45, "buffer": 5},
      {"id": "consult", "name": "Duplicate"}
    ]}
  ]
}`

func TestMigrate_Legacy(t *testing.T) {
	st, migrated, err := migrate.FromJSON([]byte(legacyDoc), sequentialIDs())
	require.NoError(t, err)
	assert.True(t, migrated)
	require.NoError(t, domain.CheckInvariants(st))

	assert.Equal(t, "salon", st.ID)
	assert.Equal(t, "dark", st.Theme)
	assert.Equal(t, "Salon", st.Root().Title)
	require.Len(t, st.Root().ChildIDs, 2)
	assert.Equal(t, "consult", st.Root().ChildIDs[0])

	group, ok := st.Nodes[st.Root().ChildIDs[1]].(*domain.GroupNode)
	require.True(t, ok)
	assert.Equal(t, "Hair", group.Label)
	assert.Equal(t, []string{"cut"}, group.ChildIDs, "duplicate service ids are dropped")

	cut := st.Nodes["cut"].(*domain.ServiceNode)
	assert.Equal(t, map[string]any{"price": "30", "duration": float64(45), "buffer": float64(5)}, cut.Attributes)

	consult := st.Nodes["consult"].(*domain.ServiceNode)
	require.Equal(t, []string{"q1", "gen-1"}, consult.QuestionIDs)
	assert.Equal(t, 1, st.Questions["gen-1"].Order)
	assert.Equal(t, "Phone?", st.Questions["gen-1"].Label())
	assert.NotContains(t, st.Questions["q1"].Config, "id")
}

func TestMigrate_Idempotent(t *testing.T) {
	first, _, err := migrate.FromJSON([]byte(legacyDoc), sequentialIDs())
	require.NoError(t, err)

	data, err := json.Marshal(first)
	require.NoError(t, err)
	second, migrated, err := migrate.FromJSON(data)
	require.NoError(t, err)
	assert.False(t, migrated)
	assert.True(t, domain.StructurallyEqual(first, second))
}

func TestMigrate_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{`},
		{"unknown shape", `{"foo": 1}`},
		{"bad services", `{"name": "x", "services": "nope"}`},
		{"null question", `{"id": "f", "rootId": "root", "nodes": {"root": {"id": "root", "type": "root", "childIds": []}}, "questions": {"q1": null}}`},
		{"question under wrong key", `{"id": "f", "rootId": "root", "nodes": {
			"root": {"id": "root", "type": "root", "childIds": ["s"]},
			"s": {"id": "s", "type": "service", "parentId": "root", "label": "Cut", "questionIds": ["q1"]}},
			"questions": {"q1": {"id": "q2", "serviceId": "s", "config": {}}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := migrate.FromJSON([]byte(tt.doc))
			assert.Error(t, err)
		})
	}

	_, _, err := migrate.FromJSON([]byte(`{"foo": 1}`))
	assert.ErrorIs(t, err, migrate.ErrUnrecognized)
}

func TestMigrate_CurrentShapeMustBeConsistent(t *testing.T) {
	_, _, err := migrate.Migrate(map[string]any{
		"id":     "f",
		"rootId": "root",
		"nodes":  map[string]any{},
	})
	assert.Error(t, err)
}

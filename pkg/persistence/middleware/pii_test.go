package middleware_test

import (
	"context"
	"testing"

	"github.com/aretw0/formtree/pkg/adapters/memory"
	"github.com/aretw0/formtree/pkg/domain"
	"github.com/aretw0/formtree/pkg/persistence/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIIMiddleware_Masking(t *testing.T) {
	underlyingStore := memory.NewStore()
	secureStore := middleware.NewPIIMiddleware([]string{"password", "ssn"})(underlyingStore)
	ctx := context.Background()

	state := domain.NewFormState("pii-form", "Salon", "salon")
	state.Root().ChildIDs = []string{"s1"}
	state.Nodes["s1"] = &domain.ServiceNode{
		NodeBase: domain.NodeBase{ID: "s1", ParentID: state.RootID},
		Label:    "Cut",
		Attributes: map[string]any{
			"price":            30,
			"webhook_password": "secret123",
			"integration":      map[string]any{"url": "https://example.test", "ssn_field": "999-99-9999"},
		},
		QuestionIDs: []string{"q1"},
	}
	state.Questions["q1"] = &domain.Question{ID: "q1", ServiceID: "s1", Order: 0, Config: map[string]any{
		"label":   "SSN?",
		"options": []any{map[string]any{"ssn": "123"}},
	}}

	require.NoError(t, secureStore.Save(ctx, state))

	svc := state.Nodes["s1"].(*domain.ServiceNode)
	assert.Equal(t, "secret123", svc.Attributes["webhook_password"], "in-memory state must not change")

	stored, err := underlyingStore.Load(ctx, "pii-form")
	require.NoError(t, err)
	storedSvc := stored.Nodes["s1"].(*domain.ServiceNode)
	assert.Equal(t, 30, storedSvc.Attributes["price"])
	assert.Equal(t, middleware.Mask, storedSvc.Attributes["webhook_password"])
	assert.Equal(t, middleware.Mask, storedSvc.Attributes["integration"].(map[string]any)["ssn_field"])
	assert.Equal(t, "https://example.test", storedSvc.Attributes["integration"].(map[string]any)["url"])

	cfg := stored.Questions["q1"].Config
	assert.Equal(t, "SSN?", cfg["label"])
	assert.Equal(t, middleware.Mask, cfg["options"].([]any)[0].(map[string]any)["ssn"])
}

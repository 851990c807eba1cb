// Package migrate converts legacy flat booking forms into the normalized tree.
//
// Legacy documents list services at the top level and optionally group them
// into categories:
//
//	{"id": "...", "name": "...", "slug": "...",
//	 "services":   [{"id": "...", "name": "Cut", "price": 30, "questions": [...]}],
//	 "categories": [{"name": "Hair", "services": [...]}]}
//
// Documents that already carry "rootId" and "nodes" are returned unchanged,
// so the step is safe to run on every load.
package migrate

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aretw0/formtree/pkg/domain"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
)

// ErrUnrecognized is returned for input that is neither shape.
var ErrUnrecognized = errors.New("unrecognized form document")

type legacyForm struct {
	ID           string           `mapstructure:"id"`
	Name         string           `mapstructure:"name"`
	Slug         string           `mapstructure:"slug"`
	Theme        string           `mapstructure:"theme"`
	PrimaryColor string           `mapstructure:"primaryColor"`
	Services     []legacyService  `mapstructure:"services"`
	Categories   []legacyCategory `mapstructure:"categories"`
}

type legacyCategory struct {
	ID          string          `mapstructure:"id"`
	Name        string          `mapstructure:"name"`
	Description string          `mapstructure:"description"`
	Services    []legacyService `mapstructure:"services"`
}

type legacyService struct {
	ID        string           `mapstructure:"id"`
	Name      string           `mapstructure:"name"`
	Questions []map[string]any `mapstructure:"questions"`
	// Everything else (price, duration, buffer, ...) becomes node attributes.
	Attributes map[string]any `mapstructure:",remain"`
}

// Option configures a migration.
type Option func(*migrator)

// WithIDGenerator overrides the id allocator for entities without an id.
func WithIDGenerator(fn func() string) Option {
	return func(m *migrator) { m.newID = fn }
}

type migrator struct {
	newID func() string
	state *domain.FormState
}

// IsCurrent reports whether raw already has the normalized shape.
func IsCurrent(raw map[string]any) bool {
	_, hasRoot := raw["rootId"]
	_, hasNodes := raw["nodes"]
	return hasRoot && hasNodes
}

// Migrate returns the normalized state for raw and whether a conversion took place.
// The result always satisfies the state invariants.
func Migrate(raw map[string]any, opts ...Option) (*domain.FormState, bool, error) {
	if raw == nil {
		return nil, false, ErrUnrecognized
	}
	if IsCurrent(raw) {
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, false, fmt.Errorf("encode form: %w", err)
		}
		st, err := domain.ParseFormState(data)
		if err != nil {
			return nil, false, err
		}
		if err := domain.CheckInvariants(st); err != nil {
			return nil, false, err
		}
		return st, false, nil
	}
	_, hasServices := raw["services"]
	_, hasCategories := raw["categories"]
	_, hasName := raw["name"]
	if !hasServices && !hasCategories && !hasName {
		return nil, false, ErrUnrecognized
	}

	var legacy legacyForm
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &legacy,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, false, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, false, fmt.Errorf("decode legacy form: %w", err)
	}

	m := &migrator{newID: uuid.NewString}
	for _, opt := range opts {
		opt(m)
	}
	st := m.convert(legacy)
	if err := domain.CheckInvariants(st); err != nil {
		return nil, true, fmt.Errorf("migrated form is inconsistent: %w", err)
	}
	return st, true, nil
}

// FromJSON decodes data and migrates it.
func FromJSON(data []byte, opts ...Option) (*domain.FormState, bool, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrUnrecognized, err)
	}
	return Migrate(raw, opts...)
}

func (m *migrator) convert(legacy legacyForm) *domain.FormState {
	id := legacy.ID
	if id == "" {
		id = m.newID()
	}
	m.state = domain.NewFormState(id, legacy.Name, legacy.Slug)
	m.state.Theme = legacy.Theme
	m.state.PrimaryColor = legacy.PrimaryColor
	m.state.IsDirty = true

	root := m.state.Root()
	for _, svc := range legacy.Services {
		if sid := m.service(root.ID, svc); sid != "" {
			root.ChildIDs = append(root.ChildIDs, sid)
		}
	}
	for _, cat := range legacy.Categories {
		gid := m.unique(cat.ID)
		group := &domain.GroupNode{
			NodeBase:    domain.NodeBase{ID: gid, ParentID: root.ID},
			Label:       cat.Name,
			Description: cat.Description,
			ChildIDs:    []string{},
		}
		m.state.Nodes[gid] = group
		root.ChildIDs = append(root.ChildIDs, gid)
		for _, svc := range cat.Services {
			if sid := m.service(gid, svc); sid != "" {
				group.ChildIDs = append(group.ChildIDs, sid)
			}
		}
	}
	return m.state
}

// service adds a service node and its questions, returning the node id.
// A service id seen earlier is skipped so that a service listed both at the
// top level and in a category appears once.
func (m *migrator) service(parentID string, svc legacyService) string {
	if svc.ID != "" {
		if _, dup := m.state.Nodes[svc.ID]; dup {
			return ""
		}
	}
	sid := m.unique(svc.ID)
	node := &domain.ServiceNode{
		NodeBase:    domain.NodeBase{ID: sid, ParentID: parentID},
		Label:       svc.Name,
		Attributes:  domain.CloneMap(svc.Attributes),
		QuestionIDs: []string{},
	}
	if node.Attributes == nil {
		node.Attributes = map[string]any{}
	}
	m.state.Nodes[sid] = node

	for i, cfg := range svc.Questions {
		qid, _ := cfg["id"].(string)
		qid = m.uniqueQuestion(qid)
		config := domain.CloneMap(cfg)
		delete(config, "id")
		m.state.Questions[qid] = &domain.Question{ID: qid, ServiceID: sid, Config: config, Order: i}
		node.QuestionIDs = append(node.QuestionIDs, qid)
	}
	return sid
}

func (m *migrator) unique(id string) string {
	if id == "" || id == m.state.RootID {
		return m.newID()
	}
	if _, taken := m.state.Nodes[id]; taken {
		return m.newID()
	}
	return id
}

func (m *migrator) uniqueQuestion(id string) string {
	if id == "" {
		return m.newID()
	}
	if _, taken := m.state.Questions[id]; taken {
		return m.newID()
	}
	return id
}

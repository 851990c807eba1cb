package domain

import (
	"bytes"
	"encoding/json"
	"sort"
)

// FormDiff represents the structural changes between two states.
// It is designed to be serialized to JSON for partial updates on the client.
type FormDiff struct {
	FormID string `json:"formId"`

	// Metadata is true when name, slug, theme, color or root changed.
	Metadata bool `json:"metadata,omitempty"`

	AddedNodes       []string `json:"addedNodes,omitempty"`
	RemovedNodes     []string `json:"removedNodes,omitempty"`
	ChangedNodes     []string `json:"changedNodes,omitempty"`
	AddedQuestions   []string `json:"addedQuestions,omitempty"`
	RemovedQuestions []string `json:"removedQuestions,omitempty"`
	ChangedQuestions []string `json:"changedQuestions,omitempty"`
}

// Diff calculates the difference between oldState and newState.
// If oldState is nil, every entity of newState is reported as added.
// Dirty flag and save timestamp are not part of the structure and are ignored.
func Diff(oldState, newState *FormState) *FormDiff {
	if newState == nil {
		return nil
	}
	d := &FormDiff{FormID: newState.ID}
	if oldState == nil {
		oldState = &FormState{}
		d.Metadata = true
	} else {
		d.Metadata = oldState.Name != newState.Name ||
			oldState.Slug != newState.Slug ||
			oldState.Theme != newState.Theme ||
			oldState.PrimaryColor != newState.PrimaryColor ||
			oldState.RootID != newState.RootID
	}

	d.AddedNodes, d.RemovedNodes, d.ChangedNodes = diffTable(oldState.Nodes, newState.Nodes)
	d.AddedQuestions, d.RemovedQuestions, d.ChangedQuestions = diffTable(oldState.Questions, newState.Questions)
	return d
}

// IsEmpty checks if the diff contains any actionable changes.
func (d *FormDiff) IsEmpty() bool {
	return !d.Metadata &&
		len(d.AddedNodes) == 0 && len(d.RemovedNodes) == 0 && len(d.ChangedNodes) == 0 &&
		len(d.AddedQuestions) == 0 && len(d.RemovedQuestions) == 0 && len(d.ChangedQuestions) == 0
}

// StructurallyEqual reports whether two states hold the same tree and metadata.
// Entities are compared through their JSON encoding so that numbers decoded
// from the wire compare equal to numbers set in code.
func StructurallyEqual(a, b *FormState) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID && Diff(a, b).IsEmpty()
}

func diffTable[T any](old, cur map[string]T) (added, removed, changed []string) {
	for id, v := range cur {
		prev, ok := old[id]
		if !ok {
			added = append(added, id)
			continue
		}
		if !sameJSON(prev, v) {
			changed = append(changed, id)
		}
	}
	for id := range old {
		if _, ok := cur[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(changed)
	return added, removed, changed
}

func sameJSON(a, b any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

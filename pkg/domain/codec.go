package domain

import (
	"encoding/json"
	"fmt"
)

// MarshalJSON adds the "type" discriminator.
func (n *RootNode) MarshalJSON() ([]byte, error) {
	type alias RootNode
	return json.Marshal(struct {
		Type NodeType `json:"type"`
		*alias
	}{NodeTypeRoot, (*alias)(n)})
}

// MarshalJSON adds the "type" discriminator.
func (n *GroupNode) MarshalJSON() ([]byte, error) {
	type alias GroupNode
	return json.Marshal(struct {
		Type NodeType `json:"type"`
		*alias
	}{NodeTypeGroup, (*alias)(n)})
}

// MarshalJSON adds the "type" discriminator.
func (n *ServiceNode) MarshalJSON() ([]byte, error) {
	type alias ServiceNode
	return json.Marshal(struct {
		Type NodeType `json:"type"`
		*alias
	}{NodeTypeService, (*alias)(n)})
}

// UnmarshalNode decodes a single node using its "type" discriminator.
func UnmarshalNode(data []byte) (Node, error) {
	var probe struct {
		Type NodeType `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to read node type: %w", err)
	}

	var n Node
	switch probe.Type {
	case NodeTypeRoot:
		n = &RootNode{}
	case NodeTypeGroup:
		n = &GroupNode{}
	case NodeTypeService:
		n = &ServiceNode{}
	default:
		return nil, fmt.Errorf("unknown node type %q", probe.Type)
	}
	if err := json.Unmarshal(data, n); err != nil {
		return nil, fmt.Errorf("failed to decode %s node: %w", probe.Type, err)
	}
	return n, nil
}

// NodeMap is the id-indexed node table. It exists to decode the sum type.
type NodeMap map[string]Node

// UnmarshalJSON decodes each entry through UnmarshalNode.
func (m *NodeMap) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(NodeMap, len(raw))
	for id, msg := range raw {
		n, err := UnmarshalNode(msg)
		if err != nil {
			return fmt.Errorf("node %q: %w", id, err)
		}
		out[id] = n
	}
	*m = out
	return nil
}

// ParseFormState decodes a current-shape JSON document.
func ParseFormState(data []byte) (*FormState, error) {
	var s FormState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal form state: %w", err)
	}
	if s.Nodes == nil {
		s.Nodes = make(NodeMap)
	}
	if s.Questions == nil {
		s.Questions = make(map[string]*Question)
	}
	for id, q := range s.Questions {
		if q == nil {
			return nil, fmt.Errorf("question %q: null", id)
		}
	}
	return &s, nil
}

package validation

import (
	"fmt"
	"regexp"

	"github.com/aretw0/formtree/pkg/domain"
	"github.com/mitchellh/mapstructure"
)

// FieldRule checks a top-level form field.
// Check returns a message when the rule is triggered, "" otherwise.
type FieldRule struct {
	Field    string
	Severity domain.Severity
	Check    func(value any, state *domain.FormState) string
}

// NodeRule checks one node. An empty Type applies to every variant.
type NodeRule struct {
	Type     domain.NodeType
	Field    string
	Severity domain.Severity
	Check    func(n domain.Node, state *domain.FormState) string
}

// QuestionRule checks one question.
type QuestionRule struct {
	Field    string
	Severity domain.Severity
	Check    func(q *domain.Question, state *domain.FormState) string
}

// Ruleset is an immutable collection of rules. Engines and workers share the
// same value, so inline and background validation cannot diverge.
type Ruleset struct {
	fields    []FieldRule
	nodes     []NodeRule
	questions []QuestionRule
}

// NewRuleset builds a ruleset from explicit rule lists.
func NewRuleset(fields []FieldRule, nodes []NodeRule, questions []QuestionRule) Ruleset {
	return Ruleset{
		fields:    append([]FieldRule(nil), fields...),
		nodes:     append([]NodeRule(nil), nodes...),
		questions: append([]QuestionRule(nil), questions...),
	}
}

// With returns a copy of r extended with additional rules.
func (r Ruleset) With(fields []FieldRule, nodes []NodeRule, questions []QuestionRule) Ruleset {
	return NewRuleset(
		append(append([]FieldRule(nil), r.fields...), fields...),
		append(append([]NodeRule(nil), r.nodes...), nodes...),
		append(append([]QuestionRule(nil), r.questions...), questions...),
	)
}

var slugPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// Schedule is the typed view of a service's scheduling attributes.
type Schedule struct {
	Price        float64 `mapstructure:"price"`
	Duration     int     `mapstructure:"duration"`
	Buffer       int     `mapstructure:"buffer"`
	Availability any     `mapstructure:"availability"`
}

// DecodeSchedule reads the scheduling attributes of a service.
// Numeric strings are accepted; unknown keys are ignored.
func DecodeSchedule(attrs map[string]any) (Schedule, error) {
	var s Schedule
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &s,
	})
	if err != nil {
		return s, err
	}
	if err := dec.Decode(attrs); err != nil {
		return s, fmt.Errorf("invalid service attributes: %w", err)
	}
	return s, nil
}

func formField(state *domain.FormState, field string) any {
	switch field {
	case "name":
		return state.Name
	case "slug":
		return state.Slug
	case "theme":
		return state.Theme
	case "primaryColor":
		return state.PrimaryColor
	case "nodes":
		return state.Nodes
	case "questions":
		return state.Questions
	default:
		return nil
	}
}

func scheduleRule(check func(Schedule) string) func(domain.Node, *domain.FormState) string {
	return func(n domain.Node, _ *domain.FormState) string {
		svc := n.(*domain.ServiceNode)
		s, err := DecodeSchedule(svc.Attributes)
		if err != nil {
			// Reported once by the "attributes" rule.
			return ""
		}
		return check(s)
	}
}

// DefaultRuleset returns the built-in rules.
func DefaultRuleset() Ruleset {
	fields := []FieldRule{
		{Field: "name", Severity: domain.SeverityError, Check: func(v any, _ *domain.FormState) string {
			if v.(string) == "" {
				return "Form name is required"
			}
			return ""
		}},
		{Field: "slug", Severity: domain.SeverityError, Check: func(v any, _ *domain.FormState) string {
			slug := v.(string)
			switch {
			case slug == "":
				return "Slug is required"
			case !slugPattern.MatchString(slug):
				return "Slug may only contain lowercase letters, digits and hyphens"
			}
			return ""
		}},
		{Field: "nodes", Severity: domain.SeverityWarning, Check: func(_ any, st *domain.FormState) string {
			for _, n := range st.Nodes {
				if n.Type() == domain.NodeTypeService {
					return ""
				}
			}
			return "Add at least one service"
		}},
	}

	nodes := []NodeRule{
		// An empty title mirroring an empty form name is reported once, under name.
		{Type: domain.NodeTypeRoot, Field: "title", Severity: domain.SeverityError, Check: func(n domain.Node, st *domain.FormState) string {
			if n.(*domain.RootNode).Title == "" && st.Name != "" {
				return "Form title is required"
			}
			return ""
		}},
		{Type: domain.NodeTypeGroup, Field: "label", Severity: domain.SeverityError, Check: func(n domain.Node, _ *domain.FormState) string {
			if n.(*domain.GroupNode).Label == "" {
				return "Group label is required"
			}
			return ""
		}},
		{Type: domain.NodeTypeGroup, Field: "childIds", Severity: domain.SeverityWarning, Check: func(n domain.Node, _ *domain.FormState) string {
			if len(n.(*domain.GroupNode).ChildIDs) == 0 {
				return "Group is empty"
			}
			return ""
		}},
		{Type: domain.NodeTypeService, Field: "label", Severity: domain.SeverityError, Check: func(n domain.Node, _ *domain.FormState) string {
			if n.(*domain.ServiceNode).Label == "" {
				return "Service label is required"
			}
			return ""
		}},
		{Type: domain.NodeTypeService, Field: "attributes", Severity: domain.SeverityError, Check: func(n domain.Node, _ *domain.FormState) string {
			if _, err := DecodeSchedule(n.(*domain.ServiceNode).Attributes); err != nil {
				return err.Error()
			}
			return ""
		}},
		{Type: domain.NodeTypeService, Field: "attributes.duration", Severity: domain.SeverityError, Check: scheduleRule(func(s Schedule) string {
			if s.Duration <= 0 {
				return "Duration must be greater than zero"
			}
			return ""
		})},
		{Type: domain.NodeTypeService, Field: "attributes.price", Severity: domain.SeverityError, Check: scheduleRule(func(s Schedule) string {
			if s.Price < 0 {
				return "Price cannot be negative"
			}
			return ""
		})},
		{Type: domain.NodeTypeService, Field: "attributes.buffer", Severity: domain.SeverityError, Check: scheduleRule(func(s Schedule) string {
			if s.Buffer < 0 {
				return "Buffer cannot be negative"
			}
			return ""
		})},
	}

	questions := []QuestionRule{
		{Field: "config.label", Severity: domain.SeverityError, Check: func(q *domain.Question, _ *domain.FormState) string {
			if q.Label() == "" {
				return "Question label is required"
			}
			return ""
		}},
	}

	return NewRuleset(fields, nodes, questions)
}

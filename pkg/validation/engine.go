// Package validation checks a form against a set of rules.
//
// The Engine is pure: it walks a FormState and returns a flat list of issues.
// The Worker runs the same Engine on its own goroutine, and the Scheduler
// debounces store changes into validation runs.
package validation

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/aretw0/formtree/internal/logging"
	"github.com/aretw0/formtree/pkg/domain"
)

// Result is the outcome of validating a form.
type Result struct {
	Issues      []domain.Issue `json:"issues"`
	IsValid     bool           `json:"isValid"`
	HasWarnings bool           `json:"hasWarnings"`
}

// Errors returns the error-severity issues.
func (r Result) Errors() []domain.Issue {
	return r.filter(domain.SeverityError)
}

// Warnings returns the warning-severity issues.
func (r Result) Warnings() []domain.Issue {
	return r.filter(domain.SeverityWarning)
}

func (r Result) filter(sev domain.Severity) []domain.Issue {
	var out []domain.Issue
	for _, i := range r.Issues {
		if i.Severity == sev {
			out = append(out, i)
		}
	}
	return out
}

// Engine applies a Ruleset.
type Engine struct {
	rules  Ruleset
	logger *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger for failing rules.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine over rules.
func NewEngine(rules Ruleset, opts ...EngineOption) *Engine {
	e := &Engine{rules: rules, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rules returns the ruleset of the engine.
func (e *Engine) Rules() Ruleset { return e.rules }

// Validate checks every form field, every reachable node in pre-order and
// every question in service order.
func (e *Engine) Validate(state *domain.FormState) Result {
	issues := []domain.Issue{}
	report := func(path, field string, sev domain.Severity, check func() string) {
		msg, failed := e.run(path, field, check)
		if msg == "" {
			return
		}
		if failed {
			sev = domain.SeverityError
		}
		issues = append(issues, domain.Issue{Path: path, Field: field, Message: msg, Severity: sev})
	}

	for _, r := range e.rules.fields {
		value := formField(state, r.Field)
		report("form", r.Field, r.Severity, func() string { return r.Check(value, state) })
	}

	var services []*domain.ServiceNode
	state.Walk(func(n domain.Node, _ int) {
		path := "node:" + n.Base().ID
		for _, r := range e.rules.nodes {
			if r.Type != "" && r.Type != n.Type() {
				continue
			}
			report(path, r.Field, r.Severity, func() string { return r.Check(n, state) })
		}
		if svc, ok := n.(*domain.ServiceNode); ok {
			services = append(services, svc)
		}
	})

	for _, svc := range services {
		for _, q := range orderedQuestions(state, svc) {
			path := "question:" + q.ID
			for _, r := range e.rules.questions {
				report(path, r.Field, r.Severity, func() string { return r.Check(q, state) })
			}
		}
	}

	res := Result{Issues: issues, IsValid: true}
	for _, i := range issues {
		switch i.Severity {
		case domain.SeverityError:
			res.IsValid = false
		case domain.SeverityWarning:
			res.HasWarnings = true
		}
	}
	return res
}

// run executes one rule. A panicking rule yields a synthetic message and failed=true.
func (e *Engine) run(path, field string, check func() string) (msg string, failed bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("validation rule panicked", "path", path, "field", field, "panic", r)
			msg, failed = fmt.Sprintf("validation rule failed: %v", r), true
		}
	}()
	return check(), false
}

func orderedQuestions(state *domain.FormState, svc *domain.ServiceNode) []*domain.Question {
	qs := make([]*domain.Question, 0, len(svc.QuestionIDs))
	for _, id := range svc.QuestionIDs {
		if q, ok := state.Questions[id]; ok {
			qs = append(qs, q)
		}
	}
	sort.SliceStable(qs, func(i, j int) bool { return qs[i].Order < qs[j].Order })
	return qs
}

package domain

import (
	"time"
)

// EventType is the dotted name of an event.
type EventType string

const (
	EventNodeAdded   EventType = "node.added"
	EventNodeUpdated EventType = "node.updated"
	EventNodeDeleted EventType = "node.deleted"
	EventNodeMoved   EventType = "node.moved"

	EventQuestionAdded     EventType = "question.added"
	EventQuestionUpdated   EventType = "question.updated"
	EventQuestionDeleted   EventType = "question.deleted"
	EventQuestionReordered EventType = "question.reordered"

	EventFormChanged    EventType = "form.changed"
	EventFormReset      EventType = "form.reset"
	EventFormSaved      EventType = "form.saved"
	EventFormSaveFailed EventType = "form.save.failed"
	EventFormSynced     EventType = "form.synced"
	EventFormSyncFailed EventType = "form.sync.failed"

	EventValidationStarted   EventType = "validation.started"
	EventValidationCompleted EventType = "validation.completed"
	EventValidationFailed    EventType = "validation.failed"

	EventCommandExecuted EventType = "command.executed"
	EventCommandUndone   EventType = "command.undone"
	EventCommandRedone   EventType = "command.redone"
	EventCommandFailed   EventType = "command.failed"

	EventPerformanceThreshold EventType = "performance.threshold_exceeded"

	EventErrorOccurred EventType = "error.occurred"
)

// NodeEvent reports a structural change to one node.
type NodeEvent struct {
	FormID   string   `json:"formId"`
	NodeID   string   `json:"nodeId"`
	ParentID string   `json:"parentId,omitempty"`
	NodeType NodeType `json:"nodeType,omitempty"`
}

// QuestionEvent reports a change to one question or to the order of a service's questions.
type QuestionEvent struct {
	FormID     string `json:"formId"`
	QuestionID string `json:"questionId,omitempty"`
	ServiceID  string `json:"serviceId"`
}

// FormEvent reports a change of the form as a whole.
type FormEvent struct {
	FormID  string    `json:"formId"`
	Version uint64    `json:"version"`
	IsDirty bool      `json:"isDirty"`
	At      time.Time `json:"at"`
}

// SaveEvent reports the outcome of one save attempt.
type SaveEvent struct {
	FormID   string        `json:"formId"`
	Attempt  int           `json:"attempt"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
}

// SyncEvent reports the outcome of one reconciliation round.
type SyncEvent struct {
	FormID  string    `json:"formId"`
	Adopted bool      `json:"adopted"`
	Diff    *FormDiff `json:"diff,omitempty"`
	Err     error     `json:"-"`
	Error   string    `json:"error,omitempty"`
}

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is a single validation finding.
// Path locates the subject: "form", "node:<id>" or "question:<id>".
type Issue struct {
	Path     string   `json:"path"`
	Field    string   `json:"field"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// ValidationEvent reports a validation run.
type ValidationEvent struct {
	FormID      string        `json:"formId"`
	IsValid     bool          `json:"isValid"`
	HasWarnings bool          `json:"hasWarnings"`
	Issues      []Issue       `json:"issues,omitempty"`
	Background  bool          `json:"background"`
	Duration    time.Duration `json:"duration,omitempty"`
	Err         error         `json:"-"`
	Error       string        `json:"error,omitempty"`
}

// CommandEvent reports a command stack transition.
type CommandEvent struct {
	Description string `json:"description"`
	Cursor      int    `json:"cursor"`
	Size        int    `json:"size"`
	Err         error  `json:"-"`
	Error       string `json:"error,omitempty"`
}

// PerformanceEvent reports a metric over its configured threshold.
type PerformanceEvent struct {
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

// ErrorEvent reports a failure caught at a component boundary.
type ErrorEvent struct {
	Source  string         `json:"source"`
	Err     error          `json:"-"`
	Error   string         `json:"error"`
	Context map[string]any `json:"context,omitempty"`
}

// ErrString renders an optional error for the JSON-facing fields.
func ErrString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

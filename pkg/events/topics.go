package events

import "github.com/aretw0/formtree/pkg/domain"

var (
	NodeAdded   = Topic[domain.NodeEvent]{domain.EventNodeAdded}
	NodeUpdated = Topic[domain.NodeEvent]{domain.EventNodeUpdated}
	NodeDeleted = Topic[domain.NodeEvent]{domain.EventNodeDeleted}
	NodeMoved   = Topic[domain.NodeEvent]{domain.EventNodeMoved}

	QuestionAdded     = Topic[domain.QuestionEvent]{domain.EventQuestionAdded}
	QuestionUpdated   = Topic[domain.QuestionEvent]{domain.EventQuestionUpdated}
	QuestionDeleted   = Topic[domain.QuestionEvent]{domain.EventQuestionDeleted}
	QuestionReordered = Topic[domain.QuestionEvent]{domain.EventQuestionReordered}

	FormChanged    = Topic[domain.FormEvent]{domain.EventFormChanged}
	FormReset      = Topic[domain.FormEvent]{domain.EventFormReset}
	FormSaved      = Topic[domain.SaveEvent]{domain.EventFormSaved}
	FormSaveFailed = Topic[domain.SaveEvent]{domain.EventFormSaveFailed}
	FormSynced     = Topic[domain.SyncEvent]{domain.EventFormSynced}
	FormSyncFailed = Topic[domain.SyncEvent]{domain.EventFormSyncFailed}

	ValidationStarted   = Topic[domain.ValidationEvent]{domain.EventValidationStarted}
	ValidationCompleted = Topic[domain.ValidationEvent]{domain.EventValidationCompleted}
	ValidationFailed    = Topic[domain.ValidationEvent]{domain.EventValidationFailed}

	CommandExecuted = Topic[domain.CommandEvent]{domain.EventCommandExecuted}
	CommandUndone   = Topic[domain.CommandEvent]{domain.EventCommandUndone}
	CommandRedone   = Topic[domain.CommandEvent]{domain.EventCommandRedone}
	CommandFailed   = Topic[domain.CommandEvent]{domain.EventCommandFailed}

	PerformanceThreshold = Topic[domain.PerformanceEvent]{domain.EventPerformanceThreshold}

	ErrorOccurred = Topic[domain.ErrorEvent]{domain.EventErrorOccurred}
)

// CommandTopic maps a command lifecycle name to its topic.
func CommandTopic(kind domain.EventType) (Topic[domain.CommandEvent], bool) {
	switch kind {
	case domain.EventCommandExecuted:
		return CommandExecuted, true
	case domain.EventCommandUndone:
		return CommandUndone, true
	case domain.EventCommandRedone:
		return CommandRedone, true
	case domain.EventCommandFailed:
		return CommandFailed, true
	}
	return Topic[domain.CommandEvent]{}, false
}

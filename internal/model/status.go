package model

// Status is the lifecycle state of a WorkItem
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// legalTransitions lists the only moves a work item may make.
var legalTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

// CanTransitionTo reports whether moving from s to next is legal
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range legalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// ReplyStatus tracks whether the drafted reply reached a human sender
type ReplyStatus string

const (
	ReplyPending ReplyStatus = "PENDING"
	ReplySent    ReplyStatus = "SENT"
	ReplySkipped ReplyStatus = "SKIPPED"
)

// NoReply is the reply marker stored when the gate blocked a draft
const NoReply = "NO_REPLY"

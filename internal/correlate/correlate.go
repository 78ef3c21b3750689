package correlate

import (
	"strings"
	"time"

	"github.com/growthkit-labs/growthkit-go/internal/resultstore"
)

// DefaultTolerance absorbs clock skew between this service and the external
// store. Five seconds was measured against the production store; records
// stamped slightly before the dispatch instant are still this submission's.
const DefaultTolerance = 5 * time.Second

// Submission is the correlation view of one dispatched request: who sent it
// and when, plus the engine task id when the engine returned one.
type Submission struct {
	Owner        resultstore.Owner
	DispatchedAt time.Time
	TaskID       string
}

// Rule decides whether a freshly read record is the outcome of a submission.
type Rule interface {
	Accept(record resultstore.Record, sub Submission) bool
}

// TimestampRule is the fallback for engines that return no correlation id:
// a record is this submission's iff its owner matches the session and its
// creation instant is no earlier than the dispatch instant minus the
// tolerance. Records predating the submission are never accepted, even when
// they are the most recent the store returns.
type TimestampRule struct {
	Tolerance time.Duration
}

func (r TimestampRule) Accept(record resultstore.Record, sub Submission) bool {
	if !ownerMatches(record, sub.Owner) {
		return false
	}
	if record.CreatedAt.IsZero() || sub.DispatchedAt.IsZero() {
		return false
	}
	tolerance := r.Tolerance
	if tolerance < 0 {
		tolerance = 0
	}
	cutoff := sub.DispatchedAt.Add(-tolerance)
	return !record.CreatedAt.Before(cutoff)
}

// TaskIDRule correlates by the engine-assigned task id. Engines that return
// one make the timestamp heuristic unnecessary: no tolerance, no ambiguity
// under concurrent submissions from the same account.
type TaskIDRule struct{}

func (TaskIDRule) Accept(record resultstore.Record, sub Submission) bool {
	if !ownerMatches(record, sub.Owner) {
		return false
	}
	taskID := strings.TrimSpace(sub.TaskID)
	if taskID == "" {
		return false
	}
	return record.StringField("task_id") == taskID
}

// ownerMatches accepts a record whose user_id or user_email equals the
// session's. A record with neither owner column set is a legacy anonymous
// row and is never attributed to a session.
func ownerMatches(record resultstore.Record, owner resultstore.Owner) bool {
	id := strings.TrimSpace(owner.ID)
	email := strings.TrimSpace(owner.Email)
	if id == "" && email == "" {
		return false
	}
	if id != "" && record.OwnerID == id {
		return true
	}
	if email != "" && record.OwnerEmail == email {
		return true
	}
	return false
}

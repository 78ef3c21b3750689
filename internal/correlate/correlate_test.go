package correlate

import (
	"testing"
	"time"

	"github.com/growthkit-labs/growthkit-go/internal/resultstore"
)

var (
	dispatched = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	owner      = resultstore.Owner{ID: "user-1", Email: "a@example.com"}
)

func record(createdAt time.Time, ownerID, ownerEmail string) resultstore.Record {
	return resultstore.Record{ID: "r1", CreatedAt: createdAt, OwnerID: ownerID, OwnerEmail: ownerEmail}
}

func TestTimestampRule_RejectsPreSubmissionRecords(t *testing.T) {
	rule := TimestampRule{Tolerance: 5 * time.Second}
	sub := Submission{Owner: owner, DispatchedAt: dispatched}

	stale := record(dispatched.Add(-10*time.Second), "user-1", "")
	if rule.Accept(stale, sub) {
		t.Fatal("accepted a record created 10s before dispatch")
	}

	fresh := record(dispatched.Add(40*time.Second), "user-1", "")
	if !rule.Accept(fresh, sub) {
		t.Fatal("rejected a record created 40s after dispatch")
	}

	// Within the clock-skew tolerance counts as this submission's.
	skewed := record(dispatched.Add(-3*time.Second), "user-1", "")
	if !rule.Accept(skewed, sub) {
		t.Fatal("rejected a record inside the tolerance window")
	}
}

func TestTimestampRule_RejectsOtherOwners(t *testing.T) {
	rule := TimestampRule{Tolerance: 5 * time.Second}
	sub := Submission{Owner: owner, DispatchedAt: dispatched}

	other := record(dispatched.Add(time.Minute), "user-2", "b@example.com")
	if rule.Accept(other, sub) {
		t.Fatal("accepted another owner's record")
	}

	byEmail := record(dispatched.Add(time.Minute), "", "a@example.com")
	if !rule.Accept(byEmail, sub) {
		t.Fatal("rejected a record matching by email")
	}
}

func TestTimestampRule_NoIdentityNeverMatches(t *testing.T) {
	rule := TimestampRule{Tolerance: 5 * time.Second}
	sub := Submission{Owner: resultstore.Owner{}, DispatchedAt: dispatched}

	rec := record(dispatched.Add(time.Minute), "", "")
	if rule.Accept(rec, sub) {
		t.Fatal("accepted a record with no identity on either side")
	}
}

func TestTimestampRule_ZeroTimesRejected(t *testing.T) {
	rule := TimestampRule{Tolerance: 5 * time.Second}

	if rule.Accept(record(time.Time{}, "user-1", ""), Submission{Owner: owner, DispatchedAt: dispatched}) {
		t.Fatal("accepted a record with a zero creation instant")
	}
	if rule.Accept(record(dispatched, "user-1", ""), Submission{Owner: owner}) {
		t.Fatal("accepted with a zero dispatch instant")
	}
}

func TestTaskIDRule(t *testing.T) {
	rule := TaskIDRule{}
	sub := Submission{Owner: owner, DispatchedAt: dispatched, TaskID: "task-7"}

	rec := record(dispatched.Add(-time.Hour), "user-1", "")
	rec.Fields = []resultstore.FieldValue{{Name: "task_id", Value: "task-7"}}
	if !rule.Accept(rec, sub) {
		t.Fatal("rejected the record carrying the matching task id")
	}

	rec.Fields = []resultstore.FieldValue{{Name: "task_id", Value: "task-8"}}
	if rule.Accept(rec, sub) {
		t.Fatal("accepted a record with a different task id")
	}

	if rule.Accept(rec, Submission{Owner: owner}) {
		t.Fatal("accepted with no task id on the submission")
	}
}

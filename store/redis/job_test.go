package redis

import (
	"sort"
	"testing"
	"time"
)

func hashRow(pairs ...string) []interface{} {
	row := make([]interface{}, len(pairs))
	for i, p := range pairs {
		row[i] = p
	}
	return row
}

func TestSnapshotToJobs_PreservesScriptOrder(t *testing.T) {
	reply := []interface{}{
		hashRow("id", "3", "name", "send-email", "state", "waiting"),
		hashRow("id", "1", "name", "send-email", "state", "waiting"),
		hashRow("id", "2", "name", "send-email", "state", "waiting"),
	}

	jobs, err := snapshotToJobs(reply)
	if err != nil {
		t.Fatalf("snapshot error: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("got %d jobs, want 3", len(jobs))
	}
	for i, want := range []uint64{3, 1, 2} {
		if jobs[i].ID != want {
			t.Errorf("jobs[%d].ID = %d, want %d", i, jobs[i].ID, want)
		}
	}
}

func TestSnapshotToJobs_SkipsEmptyRows(t *testing.T) {
	reply := []interface{}{
		hashRow("id", "1", "state", "waiting"),
		hashRow(), // hash deleted out of band
		hashRow("id", "2", "state", "waiting"),
	}

	jobs, err := snapshotToJobs(reply)
	if err != nil {
		t.Fatalf("snapshot error: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != 1 || jobs[1].ID != 2 {
		t.Fatalf("jobs = %v, want IDs 1 and 2", jobs)
	}
}

func TestSnapshotToJobs_RejectsNonArrayReply(t *testing.T) {
	if _, err := snapshotToJobs("not an array"); err == nil {
		t.Fatal("expected an error for a non-array reply")
	}
}

func TestHashReplyToJob_DecodesFields(t *testing.T) {
	due := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	row := hashRow(
		"id", "42",
		"name", "send-email",
		"queue", "default",
		"state", "delayed",
		"delay", "30000000000",
		"due_at", due.Format(time.RFC3339Nano),
		"attempts_made", "1",
		"max_attempts", "3",
	)

	j, err := hashReplyToJob(row)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if j.ID != 42 || j.Name != "send-email" || j.Queue != "default" {
		t.Errorf("identity fields = %d %q %q", j.ID, j.Name, j.Queue)
	}
	if j.Delay != 30*time.Second {
		t.Errorf("delay = %v, want 30s", j.Delay)
	}
	if !j.DueAt.Equal(due) {
		t.Errorf("due at = %v, want %v", j.DueAt, due)
	}
	if j.AttemptsMade != 1 || j.MaxAttempts != 3 {
		t.Errorf("attempts = %d/%d, want 1/3", j.AttemptsMade, j.MaxAttempts)
	}
}

func TestHashReplyToJob_RejectsMissingID(t *testing.T) {
	if _, err := hashReplyToJob(hashRow("name", "x")); err == nil {
		t.Fatal("expected an error when the id field is absent")
	}
}

func TestPaddedID_OrdersLexicographicallyByValue(t *testing.T) {
	ids := []uint64{1, 2, 9, 10, 11, 99, 100, 1 << 40}
	members := make([]string, len(ids))
	for i, id := range ids {
		members[i] = paddedID(id)
	}
	if !sort.StringsAreSorted(members) {
		t.Fatalf("padded members not in ID order: %v", members)
	}
	for _, m := range members {
		if len(m) != 20 {
			t.Errorf("member %q has width %d, want 20", m, len(m))
		}
	}
}

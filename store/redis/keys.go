package redis

import (
	"fmt"
	"strconv"
)

// Redis key naming conventions for queue data.
// All keys are prefixed with "bull:{queue}:" so queues never collide.

// seqKey holds the queue's monotonic job ID counter: bull:{queue}:id
func seqKey(queue string) string { return "bull:" + queue + ":id" }

// jobKeyPrefix is the Hash key prefix for job entities; a job lives at
// bull:{queue}:job:{id}. Scripts receive the prefix and append the ID.
func jobKeyPrefix(queue string) string { return "bull:" + queue + ":job:" }

// jobKey returns the Hash key for one job: bull:{queue}:job:{id}
func jobKey(queue string, id uint64) string {
	return jobKeyPrefix(queue) + strconv.FormatUint(id, 10)
}

// delayedKey returns the delayed-index Sorted Set: bull:{queue}:delayed
// Score is the due time in Unix milliseconds; the member is the job ID
// zero-padded to 20 digits so equal scores order lexicographically by
// creation sequence.
func delayedKey(queue string) string { return "bull:" + queue + ":delayed" }

// waitKey returns the wait-lane List: bull:{queue}:wait
// RPUSH on entry, LPOP on claim; the list is FIFO.
func waitKey(queue string) string { return "bull:" + queue + ":wait" }

// activeKey returns the active-claims Sorted Set: bull:{queue}:active
// Score is the lease expiry in Unix milliseconds.
func activeKey(queue string) string { return "bull:" + queue + ":active" }

// completedKey returns the completed-jobs Sorted Set: bull:{queue}:completed
// Score is the finish time in Unix milliseconds, read by the retention sweep.
func completedKey(queue string) string { return "bull:" + queue + ":completed" }

// failedKey returns the failed-jobs Sorted Set: bull:{queue}:failed
func failedKey(queue string) string { return "bull:" + queue + ":failed" }

// eventsChannel returns the pub/sub channel name: bull:{queue}:events
func eventsChannel(queue string) string { return "bull:" + queue + ":events" }

// paddedID renders a job ID as the fixed-width delayed-index member.
func paddedID(id uint64) string { return fmt.Sprintf("%020d", id) }

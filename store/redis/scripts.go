package redis

import "github.com/redis/go-redis/v9"

// Each script is one atomic state transition. Redis runs a script as a
// unit, so the linearizability the job.Store contract promises falls out
// of keeping every multi-key step inside a single EVALSHA.

// createScript assigns the next ID from the queue sequence, writes the
// job Hash, and files the job in the delayed index or the wait lane.
//
//	KEYS[1] = seq counter
//	KEYS[2] = delayed zset
//	KEYS[3] = wait list
//	ARGV[1] = job key prefix
//	ARGV[2] = "1" when delayed, "0" when immediately waiting
//	ARGV[3] = due time, Unix milliseconds
//	ARGV[4..] = hash field/value pairs
//
// Returns the assigned ID.
var createScript = redis.NewScript(`
local id = redis.call('INCR', KEYS[1])
local jkey = ARGV[1] .. id
redis.call('HSET', jkey, 'id', id)
for i = 4, #ARGV, 2 do
    redis.call('HSET', jkey, ARGV[i], ARGV[i + 1])
end
if ARGV[2] == '1' then
    redis.call('ZADD', KEYS[2], ARGV[3], string.format('%020d', id))
else
    redis.call('RPUSH', KEYS[3], id)
end
return id
`)

// promoteScript pops the minimum delayed entry if it is due, appends it
// to the wait lane, and flips the job to waiting. With multiple
// schedulers racing, ZREM-after-ZRANGE inside one script means at most
// one caller wins each job.
//
//	KEYS[1] = delayed zset
//	KEYS[2] = wait list
//	ARGV[1] = job key prefix
//	ARGV[2] = now, Unix milliseconds
//
// Returns the promoted job's hash, or nil when nothing is due.
var promoteScript = redis.NewScript(`
local head = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
if #head == 0 then
    return false
end
if tonumber(head[2]) > tonumber(ARGV[2]) then
    return false
end
redis.call('ZREM', KEYS[1], head[1])
local id = tostring(tonumber(head[1]))
redis.call('RPUSH', KEYS[2], id)
local jkey = ARGV[1] .. id
redis.call('HSET', jkey, 'state', 'waiting')
return redis.call('HGETALL', jkey)
`)

// claimScript pops the wait-lane head and records an exclusive claim
// with a lease expiry in the active zset.
//
//	KEYS[1] = wait list
//	KEYS[2] = active zset
//	ARGV[1] = job key prefix
//	ARGV[2] = worker ID
//	ARGV[3] = lease expiry, Unix milliseconds
//	ARGV[4] = lease expiry, RFC 3339
//	ARGV[5] = claim time, RFC 3339
//
// Returns the claimed job's hash, or nil when the lane is empty.
var claimScript = redis.NewScript(`
local id = redis.call('LPOP', KEYS[1])
if not id then
    return false
end
redis.call('ZADD', KEYS[2], ARGV[3], id)
local jkey = ARGV[1] .. id
redis.call('HSET', jkey,
    'state', 'active',
    'worker_id', ARGV[2],
    'lease_until', ARGV[4],
    'processed_at', ARGV[5])
return redis.call('HGETALL', jkey)
`)

// completeScript releases the claim and records the terminal completed
// state with the handler's return value.
//
//	KEYS[1] = active zset
//	KEYS[2] = completed zset
//	ARGV[1] = job key prefix
//	ARGV[2] = job ID
//	ARGV[3] = return value (JSON)
//	ARGV[4] = finish time, Unix milliseconds
//	ARGV[5] = finish time, RFC 3339
//
// Returns 0 on success, -1 when the job hash is gone.
var completeScript = redis.NewScript(`
local jkey = ARGV[1] .. ARGV[2]
if redis.call('EXISTS', jkey) == 0 then
    return -1
end
redis.call('ZREM', KEYS[1], ARGV[2])
redis.call('HSET', jkey,
    'state', 'completed',
    'return_value', ARGV[3],
    'finished_at', ARGV[5])
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[2])
return 0
`)

// failScript releases the claim and records the terminal failed state.
//
//	KEYS[1] = active zset
//	KEYS[2] = failed zset
//	ARGV[1] = job key prefix
//	ARGV[2] = job ID
//	ARGV[3] = attempts made
//	ARGV[4] = failure reason
//	ARGV[5] = finish time, Unix milliseconds
//	ARGV[6] = finish time, RFC 3339
//
// Returns 0 on success, -1 when the job hash is gone.
var failScript = redis.NewScript(`
local jkey = ARGV[1] .. ARGV[2]
if redis.call('EXISTS', jkey) == 0 then
    return -1
end
redis.call('ZREM', KEYS[1], ARGV[2])
redis.call('HSET', jkey,
    'state', 'failed',
    'attempts_made', ARGV[3],
    'failed_reason', ARGV[4],
    'finished_at', ARGV[6])
redis.call('ZADD', KEYS[2], ARGV[5], ARGV[2])
return 0
`)

// retryScript releases the claim for another attempt: into the delayed
// index when the retry due time is in the future, otherwise straight to
// the wait-lane tail.
//
//	KEYS[1] = active zset
//	KEYS[2] = delayed zset
//	KEYS[3] = wait list
//	ARGV[1] = job key prefix
//	ARGV[2] = job ID
//	ARGV[3] = attempts made
//	ARGV[4] = due time, Unix milliseconds
//	ARGV[5] = due time, RFC 3339
//	ARGV[6] = now, Unix milliseconds
//	ARGV[7] = padded delayed-index member
//
// Returns 0 on success, -1 when the job hash is gone.
var retryScript = redis.NewScript(`
local jkey = ARGV[1] .. ARGV[2]
if redis.call('EXISTS', jkey) == 0 then
    return -1
end
redis.call('ZREM', KEYS[1], ARGV[2])
redis.call('HSET', jkey,
    'attempts_made', ARGV[3],
    'due_at', ARGV[5],
    'worker_id', '',
    'lease_until', '')
if tonumber(ARGV[4]) > tonumber(ARGV[6]) then
    redis.call('HSET', jkey, 'state', 'delayed')
    redis.call('ZADD', KEYS[2], ARGV[4], ARGV[7])
else
    redis.call('HSET', jkey, 'state', 'waiting')
    redis.call('RPUSH', KEYS[3], ARGV[2])
end
return 0
`)

// reclaimScript moves every active job whose lease expired back to the
// wait lane.
//
//	KEYS[1] = active zset
//	KEYS[2] = wait list
//	ARGV[1] = job key prefix
//	ARGV[2] = now, Unix milliseconds
//
// Returns the reclaimed job IDs.
var reclaimScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
for _, id in ipairs(expired) do
    redis.call('ZREM', KEYS[1], id)
    redis.call('RPUSH', KEYS[2], id)
    redis.call('HSET', ARGV[1] .. id,
        'state', 'waiting',
        'worker_id', '',
        'lease_until', '')
end
return expired
`)

// waitingSnapshotScript reads the wait-lane membership and every member's
// hash in one unit, so a promotion or claim racing the read can never
// produce a lane listing that disagrees with the job states in it.
//
//	KEYS[1] = wait list
//	ARGV[1] = job key prefix
//
// Returns one HGETALL array per lane member, in FIFO order.
var waitingSnapshotScript = redis.NewScript(`
local ids = redis.call('LRANGE', KEYS[1], 0, -1)
local out = {}
for i, id in ipairs(ids) do
    out[i] = redis.call('HGETALL', ARGV[1] .. id)
end
return out
`)

// delayedSnapshotScript reads the delayed-index membership and every
// member's hash in one unit, in (due time, ID) order.
//
//	KEYS[1] = delayed zset
//	ARGV[1] = job key prefix
//
// Returns one HGETALL array per index member.
var delayedSnapshotScript = redis.NewScript(`
local members = redis.call('ZRANGE', KEYS[1], 0, -1)
local out = {}
for i, m in ipairs(members) do
    out[i] = redis.call('HGETALL', ARGV[1] .. tostring(tonumber(m)))
end
return out
`)

// cleanScript deletes terminal jobs that finished before the cutoff.
//
//	KEYS[1] = completed zset
//	KEYS[2] = failed zset
//	ARGV[1] = job key prefix
//	ARGV[2] = cutoff, Unix milliseconds
//
// Returns the number of jobs removed.
var cleanScript = redis.NewScript(`
local removed = 0
for k = 1, 2 do
    local ids = redis.call('ZRANGEBYSCORE', KEYS[k], '-inf', ARGV[2])
    for _, id in ipairs(ids) do
        redis.call('ZREM', KEYS[k], id)
        redis.call('DEL', ARGV[1] .. id)
        removed = removed + 1
    end
end
return removed
`)

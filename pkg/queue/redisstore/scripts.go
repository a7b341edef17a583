package redisstore

import "github.com/redis/go-redis/v9"

// Every script takes the key prefix as ARGV[1]. KEYS carries the keys a call
// is routed by; the rest are derived from job fields in the script and share
// the prefix hash tag, so on Redis Cluster they live in the same slot.
// Timestamps travel as decimal unix microseconds and are stored exactly as
// received; Lua only converts them to numbers for comparisons.
//
// Key layout:
//
//	<p>:job:<id>             hash with the job fields
//	<p>:q:<queue>:waiting    zset, score priority, member rank (run_at:seq:id)
//	<p>:q:<queue>:delayed    zset, score run_at
//	<p>:q:<queue>:active     zset, score locked_until
//	<p>:q:<queue>:children   zset of parents in waiting_children, score seq
//	<p>:q:<queue>:completed  zset, score finished_at
//	<p>:q:<queue>:failed     zset, score finished_at
//	<p>:q:<queue>:all        zset, score seq
//	<p>:jobs                 zset of every job, score seq
//	<p>:leases               zset of active jobs across queues, score locked_until
//	<p>:children:<parent>    zset, score seq
//	<p>:schedule:<name>      set of non-terminal jobs created by a schedule
//	<p>:seq                  enqueue order counter
const prelude = `
local p = ARGV[1]
local function jobkey(id) return p .. ':job:' .. id end
local function qkey(q, set) return p .. ':q:' .. q .. ':' .. set end

local function leased(jk, token)
  if redis.call('EXISTS', jk) == 0 then return 'not_found' end
  local st = redis.call('HMGET', jk, 'status', 'locked_by')
  if st[1] ~= 'active' or st[2] ~= token then return 'lease_lost' end
  return false
end

local function release(jk, id, q)
  redis.call('HDEL', jk, 'locked_by', 'locked_until')
  redis.call('ZREM', qkey(q, 'active'), id)
  redis.call('ZREM', p .. ':leases', id)
end

local function enqueue(jk, id, q, now)
  local f = redis.call('HMGET', jk, 'run_at', 'priority', 'rank')
  if tonumber(f[1]) > now then
    redis.call('HSET', jk, 'status', 'delayed')
    redis.call('ZADD', qkey(q, 'delayed'), f[1], id)
  else
    redis.call('HSET', jk, 'status', 'waiting')
    redis.call('ZADD', qkey(q, 'waiting'), f[2], f[3])
  end
end

local function finish(jk, id, q, status, now)
  redis.call('HSET', jk, 'status', status, 'finished_at', now)
  redis.call('ZADD', qkey(q, status), now, id)
  local sched = redis.call('HGET', jk, 'schedule')
  if sched and sched ~= '' then redis.call('SREM', p .. ':schedule:' .. sched, id) end
end

local function resolve_parent(jk, now)
  local pid = redis.call('HGET', jk, 'parent_id')
  if not pid or pid == '' then return end
  local pk = jobkey(pid)
  local f = redis.call('HMGET', pk, 'status', 'pending_children', 'queue')
  if not f[1] then return end
  local pending = tonumber(f[2] or '0')
  if pending > 0 then
    pending = pending - 1
    redis.call('HSET', pk, 'pending_children', pending)
  end
  if pending == 0 and f[1] == 'waiting_children' then
    redis.call('ZREM', qkey(f[3], 'children'), pid)
    enqueue(pk, pid, f[3], now)
  end
end
`

// ARGV: prefix, count, then per job: id, parent, queue, status, priority,
// rank, run_at, seq, schedule, nfields, field/value pairs
var createScript = redis.NewScript(prelude + `
local n = tonumber(ARGV[2])
local i = 3
local batch = {}
local jobs = {}
for _ = 1, n do
  local job = {
    id = ARGV[i], parent = ARGV[i + 1], queue = ARGV[i + 2], status = ARGV[i + 3],
    priority = ARGV[i + 4], rank = ARGV[i + 5], run_at = ARGV[i + 6], seq = ARGV[i + 7],
    schedule = ARGV[i + 8],
  }
  local nf = tonumber(ARGV[i + 9])
  job.first = i + 10
  job.last = i + 9 + nf * 2
  i = job.last + 1

  if batch[job.id] or redis.call('EXISTS', jobkey(job.id)) == 1 then
    return 'exists:' .. job.id
  end
  if job.parent ~= '' and not batch[job.parent] then
    local ps = redis.call('HGET', jobkey(job.parent), 'status')
    if not ps then return 'parent_not_found:' .. job.parent end
    if ps == 'completed' or ps == 'failed' then return 'parent_finished:' .. job.parent end
  end
  batch[job.id] = true
  table.insert(jobs, job)
end

for _, job in ipairs(jobs) do
  local jk = jobkey(job.id)
  redis.call('HSET', jk, unpack(ARGV, job.first, job.last))
  redis.call('HSET', jk, 'child_count', 0, 'pending_children', 0)
  redis.call('ZADD', qkey(job.queue, 'all'), job.seq, job.id)
  redis.call('ZADD', p .. ':jobs', job.seq, job.id)

  if job.status == 'waiting_children' then
    redis.call('ZADD', qkey(job.queue, 'children'), job.seq, job.id)
  elseif job.status == 'delayed' then
    redis.call('ZADD', qkey(job.queue, 'delayed'), job.run_at, job.id)
  else
    redis.call('ZADD', qkey(job.queue, 'waiting'), job.priority, job.rank)
  end

  if job.schedule ~= '' then
    redis.call('SADD', p .. ':schedule:' .. job.schedule, job.id)
  end

  if job.parent ~= '' then
    local pk = jobkey(job.parent)
    redis.call('HINCRBY', pk, 'child_count', 1)
    redis.call('HINCRBY', pk, 'pending_children', 1)
    redis.call('ZADD', p .. ':children:' .. job.parent, job.seq, job.id)
  end
end
return 'ok'
`)

// ARGV: prefix, now, queue, token, locked_until
var claimScript = redis.NewScript(prelude + `
local now, q = ARGV[2], ARGV[3]
local due = redis.call('ZRANGEBYSCORE', qkey(q, 'delayed'), '-inf', now, 'LIMIT', 0, 100)
for _, id in ipairs(due) do
  redis.call('ZREM', qkey(q, 'delayed'), id)
  enqueue(jobkey(id), id, q, tonumber(now))
end

local head = redis.call('ZRANGE', qkey(q, 'waiting'), 0, 0)
if #head == 0 then return false end
redis.call('ZREM', qkey(q, 'waiting'), head[1])

local id = string.sub(head[1], -36)
local jk = jobkey(id)
redis.call('HSET', jk, 'status', 'active', 'locked_by', ARGV[4], 'locked_until', ARGV[5], 'started_at', now)
redis.call('HINCRBY', jk, 'attempt', 1)
redis.call('ZADD', qkey(q, 'active'), ARGV[5], id)
redis.call('ZADD', p .. ':leases', ARGV[5], id)
return id
`)

// ARGV: prefix, id, token, locked_until
var extendScript = redis.NewScript(prelude + `
local id = ARGV[2]
local jk = jobkey(id)
local bad = leased(jk, ARGV[3])
if bad then return bad end
local q = redis.call('HGET', jk, 'queue')
redis.call('HSET', jk, 'locked_until', ARGV[4])
redis.call('ZADD', qkey(q, 'active'), ARGV[4], id)
redis.call('ZADD', p .. ':leases', ARGV[4], id)
return 'ok'
`)

// ARGV: prefix, id, token, now, result
var completeScript = redis.NewScript(prelude + `
local id, now = ARGV[2], ARGV[4]
local jk = jobkey(id)
local bad = leased(jk, ARGV[3])
if bad then return bad end
local q = redis.call('HGET', jk, 'queue')
release(jk, id, q)
if ARGV[5] ~= '' then
  redis.call('HSET', jk, 'result', ARGV[5])
else
  redis.call('HDEL', jk, 'result')
end
finish(jk, id, q, 'completed', now)
resolve_parent(jk, tonumber(now))
return 'ok'
`)

// ARGV: prefix, id, token, now, error
var failScript = redis.NewScript(prelude + `
local id, now = ARGV[2], ARGV[4]
local jk = jobkey(id)
local bad = leased(jk, ARGV[3])
if bad then return bad end
local q = redis.call('HGET', jk, 'queue')
release(jk, id, q)
redis.call('HSET', jk, 'error', ARGV[5])
finish(jk, id, q, 'failed', now)
resolve_parent(jk, tonumber(now))
return 'ok'
`)

// ARGV: prefix, id, token, now, error, run_at, rank
var retryScript = redis.NewScript(prelude + `
local id, now = ARGV[2], ARGV[4]
local jk = jobkey(id)
local bad = leased(jk, ARGV[3])
if bad then return bad end
local q = redis.call('HGET', jk, 'queue')
release(jk, id, q)
redis.call('HSET', jk, 'error', ARGV[5], 'run_at', ARGV[6], 'rank', ARGV[7])
enqueue(jk, id, q, tonumber(now))
return 'ok'
`)

// ARGV: prefix, id, token
var waitScript = redis.NewScript(prelude + `
local id = ARGV[2]
local jk = jobkey(id)
local bad = leased(jk, ARGV[3])
if bad then return bad end
local f = redis.call('HMGET', jk, 'queue', 'attempt', 'pending_children', 'seq')
if tonumber(f[3] or '0') <= 0 then return 'ready' end
local q = f[1]
release(jk, id, q)
local attempt = tonumber(f[2] or '0')
if attempt > 0 then redis.call('HSET', jk, 'attempt', attempt - 1) end
redis.call('HSET', jk, 'status', 'waiting_children')
redis.call('ZADD', qkey(q, 'children'), f[4], id)
return 'waiting'
`)

// ARGV: prefix, now, error JSON without its closing attempt field
var recoverScript = redis.NewScript(prelude + `
local now = ARGV[2]
local ids = redis.call('ZRANGEBYSCORE', p .. ':leases', '-inf', '(' .. now)
local recovered = 0
for _, id in ipairs(ids) do
  local jk = jobkey(id)
  local f = redis.call('HMGET', jk, 'status', 'queue', 'attempt', 'max_attempts')
  if f[1] ~= 'active' then
    redis.call('ZREM', p .. ':leases', id)
  else
    local q = f[2]
    local attempt = tonumber(f[3] or '0')
    release(jk, id, q)
    redis.call('HSET', jk, 'error', ARGV[3] .. attempt .. '}')
    if attempt < tonumber(f[4] or '0') then
      enqueue(jk, id, q, tonumber(now))
    else
      finish(jk, id, q, 'failed', now)
      resolve_parent(jk, tonumber(now))
    end
    recovered = recovered + 1
  end
end
return recovered
`)

// ARGV: prefix, id, now, rank
var retryFailedScript = redis.NewScript(prelude + `
local id, now = ARGV[2], ARGV[3]
local jk = jobkey(id)
local f = redis.call('HMGET', jk, 'status', 'queue', 'parent_id', 'schedule')
if not f[1] then return 'not_found' end
if f[1] ~= 'failed' then return 'not_failed:' .. f[1] end
local q = f[2]
redis.call('ZREM', qkey(q, 'failed'), id)
redis.call('HDEL', jk, 'finished_at')
redis.call('HSET', jk, 'attempt', 0, 'run_at', now, 'rank', ARGV[4])
enqueue(jk, id, q, tonumber(now))
if f[4] and f[4] ~= '' then redis.call('SADD', p .. ':schedule:' .. f[4], id) end
if f[3] and f[3] ~= '' then
  local pk = jobkey(f[3])
  local ps = redis.call('HGET', pk, 'status')
  if ps and ps ~= 'completed' and ps ~= 'failed' then
    redis.call('HINCRBY', pk, 'pending_children', 1)
  end
end
return 'ok'
`)

// ARGV: prefix, id, status
var purgeScript = redis.NewScript(prelude + `
local id, status = ARGV[2], ARGV[3]
local jk = jobkey(id)
local f = redis.call('HMGET', jk, 'status', 'queue', 'parent_id')
if f[1] ~= status then return 0 end
if f[3] and f[3] ~= '' then
  local ps = redis.call('HGET', jobkey(f[3]), 'status')
  if ps and ps ~= 'completed' and ps ~= 'failed' then return 0 end
  redis.call('ZREM', p .. ':children:' .. f[3], id)
end
redis.call('DEL', jk, p .. ':children:' .. id)
redis.call('ZREM', qkey(f[2], status), id)
redis.call('ZREM', qkey(f[2], 'all'), id)
redis.call('ZREM', p .. ':jobs', id)
return 1
`)

package redis

// The scripts run atomically on a single Redis node. Keys derived inside a
// script from ARGV prefixes are not cluster safe.

// claimScript takes the claim key for the new queue type if it is free or
// already ours, releases the teller's previous queue type and marks the
// session active.
//
// KEYS: claim key, session key
// ARGV: teller id, queue type, status, claimed at, heartbeat, claim key prefix
const claimScript = `
local holder = redis.call('GET', KEYS[1])
if holder and holder ~= ARGV[1] then
	return 0
end
local prev = redis.call('HGET', KEYS[2], 'queue_type')
local active = redis.call('HGET', KEYS[2], 'active')
if prev and prev ~= ARGV[2] and active == '1' then
	local prevKey = ARGV[6] .. prev
	if redis.call('GET', prevKey) == ARGV[1] then
		redis.call('DEL', prevKey)
	end
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2], 'queue_type', ARGV[2], 'status', ARGV[3], 'active', '1',
	'claimed_at', ARGV[4], 'last_heartbeat', ARGV[5])
return 1
`

// deactivateStaleScript frees the claim key when its holder's last heartbeat
// is older than the cutoff.
//
// KEYS: claim key
// ARGV: cutoff, session key prefix
const deactivateStaleScript = `
local holder = redis.call('GET', KEYS[1])
if not holder then
	return 0
end
local sessionKey = ARGV[2] .. holder
local hb = tonumber(redis.call('HGET', sessionKey, 'last_heartbeat') or '0')
if hb < tonumber(ARGV[1]) then
	redis.call('DEL', KEYS[1])
	redis.call('HSET', sessionKey, 'active', '0')
	return 1
end
return 0
`

// touchScript refreshes the heartbeat of an active session.
//
// KEYS: session key
// ARGV: heartbeat
const touchScript = `
if redis.call('HGET', KEYS[1], 'active') ~= '1' then
	return 0
end
redis.call('HSET', KEYS[1], 'last_heartbeat', ARGV[1])
return 1
`

// deactivateScript ends the session and frees its claim key if still held.
//
// KEYS: session key
// ARGV: teller id, claim key prefix
const deactivateScript = `
if redis.call('HGET', KEYS[1], 'active') ~= '1' then
	return 0
end
redis.call('HSET', KEYS[1], 'active', '0')
local qt = redis.call('HGET', KEYS[1], 'queue_type')
if qt then
	local claimKey = ARGV[2] .. qt
	if redis.call('GET', claimKey) == ARGV[1] then
		redis.call('DEL', claimKey)
	end
end
return 1
`

// takeActionScript empties the undo slot only if it names the given ticket.
//
// KEYS: session key
// ARGV: ticket id
const takeActionScript = `
if redis.call('HGET', KEYS[1], 'la_ticket') ~= ARGV[1] then
	return 0
end
redis.call('HDEL', KEYS[1], 'la_ticket', 'la_state', 'la_at')
return 1
`

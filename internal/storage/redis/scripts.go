package redis

const (
	// putUsageScript atomically writes a usage record and its index entry
	putUsageScript = `
local record_key = KEYS[1]     -- {prefix}usage:{clientID}
local clients_set = KEYS[2]    -- {prefix}usage:clients

local client_id = ARGV[1]
local count = ARGV[2]
local reset_time = ARGV[3]
local ttl_ms = tonumber(ARGV[4])

redis.call('HSET', record_key,
  'count', count,
  'reset_time', reset_time
)

redis.call('SADD', clients_set, client_id)

-- Expire with the window; records already past it keep no TTL and
-- are removed by the pruner
if ttl_ms > 0 then
  redis.call('PEXPIRE', record_key, ttl_ms)
else
  redis.call('PERSIST', record_key)
end

return 'OK'
`

	// deleteUsageScript removes a record and its index entry, returning 0
	// when the record did not exist
	deleteUsageScript = `
local record_key = KEYS[1]
local clients_set = KEYS[2]

local client_id = ARGV[1]

local removed = redis.call('DEL', record_key)
redis.call('SREM', clients_set, client_id)

return removed
`
)

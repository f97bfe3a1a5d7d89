package redis

const (
	// addScanLogScript atomically stores a scan log and its indexes
	addScanLogScript = `
local log_key = KEYS[1]      -- {prefix}:scan:{id}
local index_key = KEYS[2]    -- {prefix}:scans
local client_key = KEYS[3]   -- {prefix}:scans:client:{clientID}

local id = ARGV[1]
local score = tonumber(ARGV[2])

redis.call('HSET', log_key,
  'id', id,
  'timestamp', ARGV[3],
  'client_id', ARGV[4],
  'target', ARGV[5],
  'intent', ARGV[6],
  'outcome', ARGV[7],
  'cause', ARGV[8],
  'host', ARGV[9],
  'identity', ARGV[10]
)

redis.call('ZADD', index_key, score, id)
redis.call('ZADD', client_key, score, id)

return 'OK'
`

	// deleteScanLogsBeforeScript removes every scan log scored below the
	// cutoff together with its client index entry
	deleteScanLogsBeforeScript = `
local index_key = KEYS[1]    -- {prefix}:scans
local prefix = ARGV[1]
local cutoff = ARGV[2]

local ids = redis.call('ZRANGEBYSCORE', index_key, '-inf', '(' .. cutoff)
for _, id in ipairs(ids) do
  local log_key = prefix .. ':scan:' .. id
  local client_id = redis.call('HGET', log_key, 'client_id')
  if client_id then
    redis.call('ZREM', prefix .. ':scans:client:' .. client_id, id)
  end
  redis.call('DEL', log_key)
  redis.call('ZREM', index_key, id)
end

return #ids
`
)

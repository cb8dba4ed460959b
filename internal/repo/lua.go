package repo

import (
	"github.com/redis/go-redis/v9"
)

// ScriptReplaceRules 原子替换某一类别的规则文档：
// 先删除该类别的全部固定规则键，再写入新的一代，单次 EVAL 内完成，
// 消费者不会观察到“两代规则都在”或“两代规则都不在”的窗口。
//
// KEYS    = 类别内全部固定规则键（含要删除与要写入的）
// ARGV    = (键下标, 规则JSON) 成对出现
var ScriptReplaceRules = redis.NewScript(`
-- 删除旧的一代
redis.call('DEL', unpack(KEYS))

-- 写入新的一代
local n = 0
for i = 1, #ARGV, 2 do
  local idx = tonumber(ARGV[i])
  redis.call('SET', KEYS[idx], ARGV[i + 1])
  n = n + 1
end

-- 返回写入条数
return n
`)

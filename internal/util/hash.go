package util

import (
	"fmt"
	"hash/fnv"
)

// FNV64 使用 FNV-1a 64 位哈希算法，返回 16 进制字符串
func FNV64(s string) string {
	h := fnv.New64a() // 64-bit FNV-1a
	_, _ = h.Write([]byte(s))
	return fmt.Sprintf("%x", h.Sum64())
}

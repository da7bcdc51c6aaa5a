package utils

import (
	"strconv"
)

// ParseLimit 解析查询参数里的数量限制
// 非法或非正数时回退到默认值，超出上限时截到上限
func ParseLimit(s string, def, max int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

package util

import (
	"strconv"
	"strings"
)

// ParseInt64Default parses s as a base-10 integer, falling back to def when
// s is empty or malformed. Surrounding whitespace is ignored.
func ParseInt64Default(s string, def int64) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return def
	}
	return v
}

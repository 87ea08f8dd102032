package adapter

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	timeLimitRe   = regexp.MustCompile(`(?i)([\d.]+)\s*(ms|msec|milliseconds?|s|sec|secs|seconds?)\b`)
	memoryLimitRe = regexp.MustCompile(`(?i)([\d.]+)\s*(kb|kib|kilobytes?|mb|mib|megabytes?|gb|gib|gigabytes?)\b`)
)

// ParseTimeLimit extracts the first duration such as "2 sec", "2000 msec" or "1.5 seconds".
func ParseTimeLimit(s string) (time.Duration, bool) {
	m := timeLimitRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	unit := strings.ToLower(m[2])
	if strings.HasPrefix(unit, "m") {
		return time.Duration(v * float64(time.Millisecond)), true
	}
	return time.Duration(v * float64(time.Second)), true
}

// ParseMemoryLimit extracts the first size such as "1024 MB" or "256 megabytes", in bytes.
// Judges write MB meaning MiB.
func ParseMemoryLimit(s string) (int64, bool) {
	m := memoryLimitRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	switch unit := strings.ToLower(m[2]); {
	case strings.HasPrefix(unit, "k"):
		return int64(v * (1 << 10)), true
	case strings.HasPrefix(unit, "g"):
		return int64(v * (1 << 30)), true
	default:
		return int64(v * (1 << 20)), true
	}
}

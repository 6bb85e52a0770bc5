package logger

import (
	"fmt"
	"strings"
	"time"
)

// levels in ascending severity; a logger prints messages at or above its level.
var levels = []string{"trace", "debug", "info", "warn", "error"}

const defaultLevel = "info"

func severity(level string) int {
	level = strings.ToLower(strings.TrimSpace(level))
	for i, name := range levels {
		if name == level {
			return i
		}
	}
	return -1
}

// normalizeLogLevel returns the lower-case level name, or "info" when unknown.
func normalizeLogLevel(level string) string {
	if i := severity(level); i >= 0 {
		return levels[i]
	}
	return defaultLevel
}

// enabled reports whether a message at messageLevel passes configured.
func enabled(configured, messageLevel string) bool {
	return severity(normalizeLogLevel(messageLevel)) >= severity(normalizeLogLevel(configured))
}

// timestamp is the HH:MM:SS prefix of every console and run-log line.
func timestamp() string {
	return time.Now().Format(time.TimeOnly)
}

// shortID trims a flow ID to its first 8 characters for log prefixes.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatDuration renders d with its two most significant units, e.g. "1m30s" or "2h15m".
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}

	units := []struct {
		size time.Duration
		name string
	}{
		{time.Hour, "h"},
		{time.Minute, "m"},
		{time.Second, "s"},
	}
	for i, u := range units {
		if d < u.size {
			continue
		}
		out := fmt.Sprintf("%d%s", d/u.size, u.name)
		if i+1 < len(units) {
			next := units[i+1]
			if rest := (d % u.size) / next.size; rest > 0 {
				out += fmt.Sprintf("%d%s", rest, next.name)
			}
		}
		return out
	}
	return d.String()
}

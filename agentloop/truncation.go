package agentloop

// LengthLimit is the uniform ceiling, in characters, on every textual
// tool result. It bounds what flows into a downstream model context
// window; stdout and stderr of a command are limited independently.
const LengthLimit = 30000

// TruncationMarker is appended whenever a result is cut at the ceiling.
// Truncated output is visibly marked and must not be treated as a
// complete representation.
const TruncationMarker = "\n... (truncated)"

// Truncate cuts s at LengthLimit and appends the marker. A result of
// exactly the limit is returned untouched.
func Truncate(s string) string {
	return TruncateAt(s, LengthLimit)
}

// TruncateAt cuts s at limit and appends the marker.
func TruncateAt(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + TruncationMarker
}

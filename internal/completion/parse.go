package completion

import (
	"encoding/json"
	"strconv"
	"strings"

	"tutorhub/pkg/types"
)

// FallbackReply is returned when the model payload cannot be parsed.
// A turn must always yield some reply to the student.
const FallbackReply = "Can you elaborate?"

// Points awarded per turn are clamped to this range.
const (
	MinTurnPoints = 0
	MaxTurnPoints = 20
)

// mentorPayload is the structured shape the system directive asks the
// model to emit. Points is raw JSON because models return it as a
// number, a quoted number, or garbage.
type mentorPayload struct {
	Response string          `json:"response"`
	Points   json.RawMessage `json:"points"`
}

// ParseResult parses an assistant content string expecting
// {"response": string, "points": number}. Malformed payloads coerce to
// the fallback reply with zero points; out-of-range or non-numeric
// points coerce to the clamped range. Parsing never fails.
func ParseResult(content string) types.CompletionResult {
	var payload mentorPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &payload); err != nil {
		return types.CompletionResult{Reply: FallbackReply, Points: 0}
	}

	reply := strings.TrimSpace(payload.Response)
	if reply == "" {
		reply = FallbackReply
	}

	return types.CompletionResult{
		Reply:  reply,
		Points: clampPoints(coercePoints(payload.Points)),
	}
}

// coercePoints extracts an integer from whatever the model put in the
// points field: a number, a quoted number, or nothing usable (0).
func coercePoints(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}

	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int(f)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n
		}
	}

	return 0
}

func clampPoints(points int) int {
	if points < MinTurnPoints {
		return MinTurnPoints
	}
	if points > MaxTurnPoints {
		return MaxTurnPoints
	}
	return points
}

package engine

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// maxExactID is the largest integer a JSON number can carry without loss in
// the browser clients.
const maxExactID = 1<<53 - 1

// ParseScenarioID accepts a join argument written either as a JSON number or
// as a JSON string holding a number, and returns it if it is a non-negative
// integer.
func ParseScenarioID(raw json.RawMessage) (int64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, false
	}

	text := string(raw)
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		text = strings.TrimSpace(s)
	}

	if id, err := strconv.ParseInt(text, 10, 64); err == nil {
		return id, id >= 0
	}

	// 42.0 and 4.2e1 are still the integer 42.
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if f < 0 || f > maxExactID || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

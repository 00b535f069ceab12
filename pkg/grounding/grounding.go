// Package grounding pulls known numeric fields out of arbitrary tool-result
// payloads so the validation layer never has to trust free-form model output.
package grounding

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// groundTruthFields is the fixed allow-list of field names treated as
// authoritative numbers when they appear in a tool result.
var groundTruthFields = map[string]bool{
	"count":              true,
	"total":              true,
	"total_count":        true,
	"order_count":        true,
	"customer_count":     true,
	"quantity":           true,
	"available_quantity": true,
	"reserved_quantity":  true,
	"stocked_quantity":   true,
	"incoming_quantity":  true,
	"sum":                true,
	"avg":                true,
	"revenue":            true,
}

// inventoryFields is the subset scanned by the negative-inventory anomaly check.
var inventoryFields = map[string]bool{
	"quantity":           true,
	"available_quantity": true,
	"reserved_quantity":  true,
	"stocked_quantity":   true,
	"incoming_quantity":  true,
}

const maxDepth = 3

// Extract returns field name -> numeric value for every allow-listed numeric
// field found in payload. Nested maps and lists of maps are scanned up to a
// shallow depth; a field seen twice keeps the last value. Returns nil when
// nothing matches.
func Extract(payload any) map[string]float64 {
	out := map[string]float64{}
	walk(payload, "", 0, func(name, _ string, v float64) {
		if groundTruthFields[name] {
			out[name] = v
		}
	})
	if len(out) == 0 {
		return nil
	}
	return out
}

// NegativeInventoryFields returns dot-joined field paths of allow-listed
// inventory quantities with negative values. Empty map means nothing negative.
func NegativeInventoryFields(payload any) map[string]float64 {
	out := map[string]float64{}
	walk(payload, "", 0, func(name, path string, v float64) {
		if inventoryFields[name] && v < 0 {
			out[path] = v
		}
	})
	return out
}

func walk(v any, prefix string, depth int, visit func(name, path string, value float64)) {
	if depth > maxDepth {
		return
	}
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			path := k
			if prefix != "" {
				path = prefix + "." + k
			}
			if n, ok := asNumber(child); ok {
				visit(k, path, n)
				continue
			}
			walk(child, path, depth+1, visit)
		}
	case []any:
		for i, child := range t {
			path := prefix + "[" + strconv.Itoa(i) + "]"
			walk(child, path, depth+1, visit)
		}
	}
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// ClaimedNumbers extracts the numbers the model itself stated in its answer
// text, keyed by grounded field name. Matching is by key proximity: the field
// name (underscores matching spaces too, case-insensitive) followed within a
// short span by a number. Keys with no parsable claim are absent from the
// result.
func ClaimedNumbers(answer string, keys []string) map[string]float64 {
	if answer == "" || len(keys) == 0 {
		return nil
	}
	out := map[string]float64{}
	for _, key := range keys {
		pattern := claimPattern(key)
		m := pattern.FindStringSubmatch(answer)
		if m == nil {
			continue
		}
		if v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64); err == nil {
			out[key] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func claimPattern(key string) *regexp.Regexp {
	parts := strings.Split(key, "_")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	// "available_quantity" matches "available quantity: 5" and "available_quantity=5".
	name := strings.Join(parts, `[ _]`)
	return regexp.MustCompile(`(?i)` + name + `[^0-9+\-]{0,40}(-?[0-9][0-9,]*(?:\.[0-9]+)?)`)
}

package course

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// nameKeys are the object keys tried, in order, when a list element is a
// map instead of a string (provider payloads mix both shapes).
var nameKeys = []string{"name", "title", "partner", "provider", "display_name"}

// StringList coerces a raw list-like value into a clean []string.
// One decision procedure with one case per input shape:
//
//	nil            -> []
//	string         -> [s] if non-empty after trim, else []
//	[]any          -> strings trimmed; maps resolved via nameKeys; rest dropped
//	other scalar   -> [formatted value]
//
// The result is de-duplicated with insertion order preserved and never
// contains empty strings.
func StringList(v any) []string {
	switch val := v.(type) {
	case nil:
		return []string{}
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return []string{}
		}
		return []string{s}
	case []string:
		return dedupe(trimAll(val))
	case []any:
		out := make([]string, 0, len(val))
		for _, el := range val {
			switch e := el.(type) {
			case string:
				if s := strings.TrimSpace(e); s != "" {
					out = append(out, s)
				}
			case map[string]any:
				for _, k := range nameKeys {
					if s, ok := e[k].(string); ok && strings.TrimSpace(s) != "" {
						out = append(out, strings.TrimSpace(s))
						break
					}
				}
			}
		}
		return dedupe(out)
	case bool:
		// Booleans are never meaningful list content.
		return []string{}
	default:
		return []string{strings.TrimSpace(fmt.Sprint(val))}
	}
}

// IntOr0 coerces a raw numeric value into a non-negative int.
// Malformed input yields 0; it never fails.
func IntOr0(v any) int {
	var n int
	switch val := v.(type) {
	case nil:
		return 0
	case int:
		n = val
	case int64:
		n = int(val)
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return 0
		}
		n = int(val)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0
		}
		n = int(parsed)
	default:
		return 0
	}
	if n < 0 {
		return 0
	}
	return n
}

// IDString coerces a raw identifier into a trimmed string. Providers send
// ids as strings (edX uuids) or numbers (Udemy); both are usable.
func IDString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case float64:
		if val != math.Trunc(val) {
			return ""
		}
		return strconv.FormatInt(int64(val), 10)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return ""
	}
}

// Str coerces a raw value into a trimmed string, "" for nil or non-strings.
func Str(v any) string {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

package store

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// keySep separates encoded key values. It never appears in a rendered scalar.
const keySep = "\x1f"

// Item is one exchange record: an open mapping from field name to value.
type Item map[string]any

// Clone returns a shallow copy of the item.
func (i Item) Clone() Item {
	if i == nil {
		return nil
	}
	out := make(Item, len(i))
	for k, v := range i {
		out[k] = v
	}
	return out
}

// String returns the field rendered the same way key values are, or "" when absent.
func (i Item) String(field string) string {
	v, ok := i[field]
	if !ok || v == nil {
		return ""
	}
	return render(v)
}

// Has reports whether the field is present with a non-nil value.
func (i Item) Has(field string) bool {
	v, ok := i[field]
	return ok && v != nil
}

// encodeKey builds the composite key for item. ok is false when any key field is missing.
func encodeKey(fields []string, item Item) (string, bool) {
	var b strings.Builder
	for n, f := range fields {
		v, ok := item[f]
		if !ok || v == nil {
			return "", false
		}
		if n > 0 {
			b.WriteString(keySep)
		}
		b.WriteString(render(v))
	}
	return b.String(), true
}

// render produces a type independent text form so that "5", 5, 5.0 and
// json.Number("5") all address the same record. Strings only count as numbers
// in plain decimal form: "0123" and "1e3" stay text.
func render(v any) string {
	switch t := v.(type) {
	case string:
		if !isDecimal(t) {
			return t
		}
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return renderFloat(f, t)
		}
		return t
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return renderFloat(f, t.String())
		}
		return t.String()
	case float64:
		return renderFloat(t, "")
	case float32:
		return renderFloat(float64(t), "")
	case int:
		return strconv.FormatInt(int64(t), 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// renderFloat keeps integral values exact beyond float64 precision by
// preferring the original text when it is a plain integer.
func renderFloat(f float64, raw string) string {
	if raw != "" && isInteger(raw) {
		return strings.TrimLeft(raw, "+")
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func isInteger(s string) bool {
	if s == "" {
		return false
	}
	if s[0] == '-' || s[0] == '+' {
		s = s[1:]
	}
	if s == "" || (len(s) > 1 && s[0] == '0') {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// isDecimal accepts an optional minus sign, an integer part without leading
// zeros and an optional fraction.
func isDecimal(s string) bool {
	if strings.HasPrefix(s, "-") {
		s = s[1:]
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")
	if intPart == "" || (len(intPart) > 1 && intPart[0] == '0') || !allDigits(intPart) {
		return false
	}
	return !hasFrac || (frac != "" && allDigits(frac))
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func matches(item, filter Item) bool {
	for k, want := range filter {
		got, ok := item[k]
		if !ok {
			return false
		}
		if got == nil || want == nil {
			if got != want {
				return false
			}
			continue
		}
		if render(got) != render(want) {
			return false
		}
	}
	return true
}

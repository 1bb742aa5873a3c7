package records

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Document is a source document as a plain attribute map.
type Document map[string]any

// Metadata fields owned by the document store, never copied to the destination.
var metadataFields = []string{"_id", "__v"}

// SourceID returns the document identity as a string, or "" when absent.
func (d Document) SourceID() string {
	v, ok := d["_id"]
	if !ok || v == nil {
		return ""
	}
	switch id := v.(type) {
	case string:
		return id
	case fmt.Stringer:
		return id.String()
	default:
		return fmt.Sprintf("%v", id)
	}
}

// Strip returns a shallow copy of d without store metadata fields.
func (d Document) Strip() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	for _, f := range metadataFields {
		delete(out, f)
	}
	return out
}

// lookup returns the first present, non-nil value among names.
func (d Document) lookup(names ...string) (string, any, bool) {
	for _, n := range names {
		if v, ok := d[n]; ok && v != nil {
			return n, v, true
		}
	}
	if len(names) > 0 {
		return names[0], nil, false
	}
	return "", nil, false
}

// fieldError carries the failing field for RecordInvalid.
type fieldError struct {
	field  string
	reason string
}

func (e *fieldError) Error() string {
	return fmt.Sprintf("field %q %s", e.field, e.reason)
}

func (d Document) requiredString(names ...string) (string, error) {
	name, v, ok := d.lookup(names...)
	if !ok {
		return "", &fieldError{field: name, reason: "is required"}
	}
	s, err := asString(v)
	if err != nil {
		return "", &fieldError{field: name, reason: err.Error()}
	}
	if strings.TrimSpace(s) == "" {
		return "", &fieldError{field: name, reason: "must not be empty"}
	}
	return s, nil
}

func (d Document) optionalString(names ...string) (string, error) {
	name, v, ok := d.lookup(names...)
	if !ok {
		return "", nil
	}
	s, err := asString(v)
	if err != nil {
		return "", &fieldError{field: name, reason: err.Error()}
	}
	return s, nil
}

func (d Document) requiredDecimal(names ...string) (decimal.Decimal, error) {
	name, v, ok := d.lookup(names...)
	if !ok {
		return decimal.Zero, &fieldError{field: name, reason: "is required"}
	}
	n, err := asDecimal(v)
	if err != nil {
		return decimal.Zero, &fieldError{field: name, reason: err.Error()}
	}
	return n, nil
}

func (d Document) optionalDecimal(names ...string) (decimal.NullDecimal, error) {
	name, v, ok := d.lookup(names...)
	if !ok {
		return decimal.NullDecimal{}, nil
	}
	n, err := asDecimal(v)
	if err != nil {
		return decimal.NullDecimal{}, &fieldError{field: name, reason: err.Error()}
	}
	return decimal.NewNullDecimal(n), nil
}

func (d Document) optionalTime(names ...string) (*time.Time, error) {
	name, v, ok := d.lookup(names...)
	if !ok {
		return nil, nil
	}
	t, err := asTime(v)
	if err != nil {
		return nil, &fieldError{field: name, reason: err.Error()}
	}
	return &t, nil
}

func asString(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", fmt.Errorf("must be a string, got %T", v)
}

func asDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int32:
		return decimal.NewFromInt32(n), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case float32:
		return asDecimal(float64(n))
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Zero, fmt.Errorf("must be a finite number")
		}
		return decimal.NewFromFloat(n), nil
	case json.Number:
		return decimal.NewFromString(n.String())
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		if err != nil {
			return decimal.Zero, fmt.Errorf("must be numeric, got %q", n)
		}
		return d, nil
	}
	return decimal.Zero, fmt.Errorf("must be numeric, got %T", v)
}

func asTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("must be an RFC3339 timestamp, got %q", t)
		}
		return parsed.UTC(), nil
	case int64:
		return time.UnixMilli(t).UTC(), nil
	case int32:
		return time.UnixMilli(int64(t)).UTC(), nil
	case int:
		return time.UnixMilli(int64(t)).UTC(), nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) || math.Abs(t) > maxExactFloat {
			return time.Time{}, fmt.Errorf("must be a finite epoch in milliseconds, got %v", t)
		}
		return time.UnixMilli(int64(t)).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("must be a timestamp, got %T", v)
}

// maxExactFloat is the largest magnitude at which every integer is exactly
// representable as a float64.
const maxExactFloat = 1 << 53

// encodeAttributes renders the stripped document for the JSONB attributes column.
func encodeAttributes(d Document) (string, error) {
	if d == nil {
		return "{}", nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (d Document) optionalInt(names ...string) (*int64, error) {
	name, v, ok := d.lookup(names...)
	if !ok {
		return nil, nil
	}
	n, err := parseInt(v)
	if err != nil {
		return nil, &fieldError{field: name, reason: err.Error()}
	}
	return &n, nil
}

func parseInt(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || math.Abs(n) > maxExactFloat {
			return 0, fmt.Errorf("must be a finite integer, got %v", n)
		}
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("must be an integer, got %v", n)
		}
		return int64(n), nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("must be an integer, got %q", n)
		}
		return i, nil
	}
	return 0, fmt.Errorf("must be an integer, got %T", v)
}

// checkEncodable reports the first field of d, in key order, that cannot be
// stored in the attributes column.
func checkEncodable(d Document) error {
	if _, err := encodeAttributes(d); err == nil {
		return nil
	}
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := json.Marshal(d[k]); err != nil {
			return &fieldError{field: k, reason: "cannot be encoded as JSON: " + err.Error()}
		}
	}
	return &fieldError{field: "attributes", reason: "cannot be encoded as JSON"}
}

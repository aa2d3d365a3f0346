package normalizer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/telhawk-systems/telhawk-devicebridge/internal/model"
)

// canonicalFields is the fixed schema a record fragment must satisfy.
// Keys match exactly; other keys are ignored unless they differ from a
// canonical key only by case.
var canonicalFields = []string{"date", "name", "type", "value", "min", "max", "boolValue"}

// decimalText is the locale-independent numeric format accepted in strings
// and numbers alike.
var decimalText = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// wireFields reads the top-level members of a JSON object, keeping values raw
// until each one is checked by its typed parser.
func wireFields(raw []byte, index int) (map[string]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return nil, &model.FormatError{Index: index, Reason: "invalid JSON", Err: err}
	}

	fields := make(map[string]json.RawMessage, len(canonicalFields))
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, &model.FormatError{Index: index, Reason: "invalid JSON", Err: err}
		}
		key := tok.(string)
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, &model.FormatError{Index: index, Reason: "invalid JSON", Err: err}
		}
		for _, name := range canonicalFields {
			switch {
			case key == name:
				if _, dup := fields[name]; dup {
					return nil, &model.FormatError{Index: index, Field: name, Reason: "duplicate field"}
				}
				fields[name] = value
			case strings.EqualFold(key, name):
				return nil, &model.FormatError{Index: index, Field: name, Reason: fmt.Sprintf("unexpected field %q", key)}
			}
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, &model.FormatError{Index: index, Reason: "invalid JSON", Err: err}
	}
	if dec.More() {
		return nil, &model.FormatError{Index: index, Reason: "trailing data after record"}
	}
	return fields, nil
}

// ParseRecord validates one JSON object against the canonical schema.
// index is only used to annotate errors.
func ParseRecord(raw []byte, index int) (model.CanonicalRecord, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return model.CanonicalRecord{}, &model.FormatError{Index: index, Reason: "record is not a JSON object"}
	}

	w, err := wireFields(raw, index)
	if err != nil {
		return model.CanonicalRecord{}, err
	}

	var rec model.CanonicalRecord
	if rec.Date, err = parseInt64(w["date"]); err != nil {
		return model.CanonicalRecord{}, fieldError(index, "date", err)
	}
	if rec.Name, err = parseString(w["name"]); err != nil {
		return model.CanonicalRecord{}, fieldError(index, "name", err)
	}
	if rec.Type, err = parseString(w["type"]); err != nil {
		return model.CanonicalRecord{}, fieldError(index, "type", err)
	}
	if rec.Value, err = parseFloat(w["value"]); err != nil {
		return model.CanonicalRecord{}, fieldError(index, "value", err)
	}
	if rec.Min, err = parseFloat(w["min"]); err != nil {
		return model.CanonicalRecord{}, fieldError(index, "min", err)
	}
	if rec.Max, err = parseFloat(w["max"]); err != nil {
		return model.CanonicalRecord{}, fieldError(index, "max", err)
	}
	if rec.Flag, err = parseFlag(w["boolValue"]); err != nil {
		return model.CanonicalRecord{}, fieldError(index, "boolValue", err)
	}
	return rec, nil
}

type fieldReason string

func (r fieldReason) Error() string { return string(r) }

const errMissing fieldReason = "missing field"

func fieldError(index int, field string, err error) error {
	if reason, ok := err.(fieldReason); ok {
		return &model.FormatError{Index: index, Field: field, Reason: string(reason)}
	}
	return &model.FormatError{Index: index, Field: field, Reason: "type mismatch", Err: err}
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// numericText returns the literal digits of a JSON number or numeric string.
func numericText(raw json.RawMessage) (string, error) {
	if isAbsent(raw) {
		return "", errMissing
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return "", fmt.Errorf("empty numeric string")
		}
		if !decimalText.MatchString(s) {
			return "", fmt.Errorf("not a decimal number: %q", s)
		}
		return s, nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return string(raw), nil
	default:
		return "", fmt.Errorf("expected number, got %s", kindOf(raw))
	}
}

func parseInt64(raw json.RawMessage) (int64, error) {
	text, err := numericText(raw)
	if err != nil {
		return 0, err
	}
	if v, err := strconv.ParseInt(text, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", text)
	}
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("%q is not a 64-bit integer", text)
	}
	return int64(f), nil
}

func parseFloat(raw json.RawMessage) (float64, error) {
	text, err := numericText(raw)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", text)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%q is not finite", text)
	}
	return f, nil
}

func parseString(raw json.RawMessage) (string, error) {
	if isAbsent(raw) {
		return "", errMissing
	}
	if raw[0] != '"' {
		return "", fmt.Errorf("expected string, got %s", kindOf(raw))
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	return s, nil
}

func parseFlag(raw json.RawMessage) (uint16, error) {
	if isAbsent(raw) {
		return 0, errMissing
	}
	switch string(raw) {
	case "true":
		return 1, nil
	case "false":
		return 0, nil
	}
	v, err := parseInt64(raw)
	if err != nil {
		return 0, err
	}
	if v < 0 || v > math.MaxUint16 {
		return 0, fmt.Errorf("%d out of range for boolValue", v)
	}
	return uint16(v), nil
}

func kindOf(raw json.RawMessage) string {
	switch raw[0] {
	case '{':
		return "object"
	case '[':
		return "array"
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	default:
		return "number"
	}
}

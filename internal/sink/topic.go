package sink

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/telhawk-systems/telhawk-devicebridge/internal/model"
)

// ResolveTarget derives the storage target of a message. The collection is the
// first "/" segment of topic and both ids have their first letter upper-cased.
//
//	ResolveTarget("telemetry", "sensors/room1/data") => {Telemetry Sensors}
func ResolveTarget(databaseID, topic string) (model.SinkTarget, error) {
	if databaseID == "" {
		return model.SinkTarget{}, fmt.Errorf("database id is empty")
	}
	segment, _, _ := strings.Cut(topic, "/")
	segment = strings.TrimSpace(segment)
	if segment == "" {
		return model.SinkTarget{}, &model.FormatError{Index: -1, Field: "topic", Reason: fmt.Sprintf("topic %q has no leading segment", topic)}
	}
	return model.SinkTarget{
		DatabaseID:   TitleCase(databaseID),
		CollectionID: TitleCase(segment),
	}, nil
}

// TitleCase upper-cases the first letter of s and leaves the rest unchanged.
func TitleCase(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// LookupString walks a dotted path such as "meta.topic" through a decoded
// JSON object and returns the string found there.
func LookupString(doc map[string]json.RawMessage, path string) (string, error) {
	keys := strings.Split(path, ".")
	current := doc
	for i, key := range keys {
		raw, ok := current[key]
		if !ok || string(raw) == "null" {
			return "", &model.FormatError{Index: -1, Field: path, Reason: "missing field"}
		}
		if i == len(keys)-1 {
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return "", &model.FormatError{Index: -1, Field: path, Reason: "expected string", Err: err}
			}
			return s, nil
		}
		next := map[string]json.RawMessage{}
		if err := json.Unmarshal(raw, &next); err != nil {
			return "", &model.FormatError{Index: -1, Field: path, Reason: fmt.Sprintf("%q is not an object", key), Err: err}
		}
		current = next
	}
	return "", &model.FormatError{Index: -1, Field: path, Reason: "empty path"}
}

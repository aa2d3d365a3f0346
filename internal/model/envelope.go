package model

import (
	"bytes"
	"encoding/json"
	"errors"
)

// DefaultEnvelopeKey is the top-level key used when none is configured.
const DefaultEnvelopeKey = "data"

// ErrEmptyEnvelope is returned when an envelope would carry no records.
var ErrEmptyEnvelope = errors.New("envelope requires at least one record")

// Envelope wraps an ordered, non-empty sequence of records sent in one device command.
type Envelope struct {
	key     string
	records []CanonicalRecord
}

// NewEnvelope builds an envelope. The records slice is copied.
func NewEnvelope(key string, records []CanonicalRecord) (Envelope, error) {
	if len(records) == 0 {
		return Envelope{}, ErrEmptyEnvelope
	}
	if key == "" {
		key = DefaultEnvelopeKey
	}
	cp := make([]CanonicalRecord, len(records))
	copy(cp, records)
	return Envelope{key: key, records: cp}, nil
}

// Key returns the top-level wire key.
func (e Envelope) Key() string { return e.key }

// Len returns the number of records.
func (e Envelope) Len() int { return len(e.records) }

// Records returns a copy of the records in order.
func (e Envelope) Records() []CanonicalRecord {
	cp := make([]CanonicalRecord, len(e.records))
	copy(cp, e.records)
	return cp
}

// IsZero reports whether the envelope was never built.
func (e Envelope) IsZero() bool { return len(e.records) == 0 }

// MarshalJSON writes {"<key>":[<record>,...]}.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.IsZero() {
		return nil, ErrEmptyEnvelope
	}
	key, err := json.Marshal(e.key)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	b.WriteByte('{')
	b.Write(key)
	b.WriteString(":[")
	for i, r := range e.records {
		if i > 0 {
			b.WriteByte(',')
		}
		data, err := r.MarshalJSON()
		if err != nil {
			return nil, err
		}
		b.Write(data)
	}
	b.WriteString("]}")
	return b.Bytes(), nil
}

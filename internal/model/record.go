package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// CanonicalRecord is the fixed-schema telemetry record carried in an Envelope.
type CanonicalRecord struct {
	Date  int64
	Name  string
	Type  string
	Value float64
	Min   float64
	Max   float64
	Flag  uint16
}

// MarshalJSON writes the canonical compact form. Floats use plain decimal
// notation with the shortest precision that round-trips.
func (r CanonicalRecord) MarshalJSON() ([]byte, error) {
	name, err := json.Marshal(r.Name)
	if err != nil {
		return nil, err
	}
	typ, err := json.Marshal(r.Type)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	b.Grow(96 + len(name) + len(typ))
	b.WriteString(`{"date":`)
	b.WriteString(strconv.FormatInt(r.Date, 10))
	b.WriteString(`,"name":`)
	b.Write(name)
	b.WriteString(`,"type":`)
	b.Write(typ)
	b.WriteString(`,"value":`)
	b.WriteString(FormatDecimal(r.Value))
	b.WriteString(`,"min":`)
	b.WriteString(FormatDecimal(r.Min))
	b.WriteString(`,"max":`)
	b.WriteString(FormatDecimal(r.Max))
	b.WriteString(`,"boolValue":`)
	b.WriteString(strconv.FormatUint(uint64(r.Flag), 10))
	b.WriteByte('}')
	return b.Bytes(), nil
}

// FormatDecimal renders v without exponent and without locale influence.
func FormatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// String implements fmt.Stringer for log output.
func (r CanonicalRecord) String() string {
	return fmt.Sprintf("%s/%s@%d", r.Name, r.Type, r.Date)
}

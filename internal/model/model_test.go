package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalRecord_MarshalJSON(t *testing.T) {
	rec := CanonicalRecord{
		Date:  1700000000123,
		Name:  "room \"1\"",
		Type:  "temperature",
		Value: 21.5,
		Min:   -40,
		Max:   0.000001,
		Flag:  1,
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Equal(t,
		`{"date":1700000000123,"name":"room \"1\"","type":"temperature","value":21.5,"min":-40,"max":0.000001,"boolValue":1}`,
		string(data))
}

func TestFormatDecimal(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{1e21, "1000000000000000000000"},
		{-0.5, "-0.5"},
		{3.14159265358979, "3.14159265358979"},
		{1e-7, "0.0000001"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatDecimal(tt.in))
		})
	}
}

func TestNewEnvelope(t *testing.T) {
	t.Run("empty is rejected", func(t *testing.T) {
		env, err := NewEnvelope("data", nil)
		assert.ErrorIs(t, err, ErrEmptyEnvelope)
		assert.True(t, env.IsZero())
	})

	t.Run("default key", func(t *testing.T) {
		env, err := NewEnvelope("", []CanonicalRecord{{Name: "a"}})
		require.NoError(t, err)
		assert.Equal(t, DefaultEnvelopeKey, env.Key())
	})

	t.Run("records are copied", func(t *testing.T) {
		in := []CanonicalRecord{{Name: "a"}, {Name: "b"}}
		env, err := NewEnvelope("k", in)
		require.NoError(t, err)
		in[0].Name = "changed"
		assert.Equal(t, "a", env.Records()[0].Name)
		assert.Equal(t, 2, env.Len())
	})
}

func TestEnvelope_MarshalJSON(t *testing.T) {
	env, err := NewEnvelope("telemetry", []CanonicalRecord{
		{Date: 1, Name: "a", Type: "t", Value: 1.25, Min: 0, Max: 2, Flag: 0},
		{Date: 2, Name: "b", Type: "t", Value: 3, Min: 1, Max: 5, Flag: 1},
	})
	require.NoError(t, err)

	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"telemetry":[
		{"date":1,"name":"a","type":"t","value":1.25,"min":0,"max":2,"boolValue":0},
		{"date":2,"name":"b","type":"t","value":3,"min":1,"max":5,"boolValue":1}
	]}`, string(data))

	_, err = json.Marshal(Envelope{})
	assert.Error(t, err)
}

func TestDispatchResult_Succeeded(t *testing.T) {
	var nilResult *DispatchResult
	assert.False(t, nilResult.Succeeded())
	assert.True(t, (&DispatchResult{Status: 200}).Succeeded())
	assert.True(t, (&DispatchResult{Status: 204}).Succeeded())
	assert.False(t, (&DispatchResult{Status: 404}).Succeeded())
	assert.False(t, (&DispatchResult{Status: 500}).Succeeded())
}

func TestErrorClassification(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"format", &FormatError{Index: 0, Field: "value", Reason: "missing"}, IsFormatError},
		{"transport", &TransportError{DeviceID: "d", Method: "m", Err: cause}, IsTransportError},
		{"cleanup", &CleanupError{ArtifactRef: "a", Err: cause}, IsCleanupError},
		{"provision", &ProvisionError{Resource: "database", ID: "Db", Err: cause}, IsProvisionError},
		{"secret", &SecretError{Name: "tag", Reason: "not found"}, IsSecretError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.True(t, tt.check(wrapped))
			assert.NotEmpty(t, tt.err.Error())
		})
	}

	assert.False(t, IsFormatError(cause))
	assert.ErrorIs(t, &TransportError{Err: cause}, cause)
}

func TestFormatError_Message(t *testing.T) {
	err := &FormatError{Index: 2, Field: "value", Reason: "missing field"}
	assert.Equal(t, `format error in record 2 field "value": missing field`, err.Error())

	batch := &FormatError{Index: -1, Reason: "not a JSON array"}
	assert.Equal(t, "format error: not a JSON array", batch.Error())
}

package normalizer

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-devicebridge/internal/model"
)

func fakeRecords(t *testing.T, seed int64, n int) []model.CanonicalRecord {
	t.Helper()
	f := gofakeit.New(seed)
	records := make([]model.CanonicalRecord, n)
	for i := range records {
		records[i] = model.CanonicalRecord{
			Date:  f.Int64(),
			Name:  f.Word() + " " + f.Color(),
			Type:  f.RandomString([]string{"temperature", "humidity", "pressure", "vibration"}),
			Value: f.Float64Range(-1e9, 1e9),
			Min:   f.Float64Range(-1e-3, 1e-3),
			Max:   f.Float64(),
			Flag:  f.Uint16(),
		}
	}
	return records
}

func artifactPayload(t *testing.T, records []model.CanonicalRecord) []byte {
	t.Helper()
	lines := make([]string, len(records))
	for i, r := range records {
		data, err := json.Marshal(r)
		require.NoError(t, err)
		lines[i] = string(data)
	}
	return []byte(strings.Join(lines, "\r\n") + "\n")
}

func TestArtifactNormalizer_PreservesFields(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		records := fakeRecords(t, seed, int(seed%5)+1)
		event := model.NewRawEvent(model.SourceArtifact, "blob.json", artifactPayload(t, records))

		env, err := NewArtifactNormalizer("data").Normalize(context.Background(), event)
		require.NoError(t, err)
		assert.Equal(t, records, env.Records(), "seed %d", seed)
	}
}

func TestDocumentNormalizer_PreservesFields(t *testing.T) {
	for seed := int64(100); seed < 120; seed++ {
		records := fakeRecords(t, seed, int(seed%4)+1)

		docs := make([]string, len(records))
		for i, r := range records {
			data, err := json.Marshal(r)
			require.NoError(t, err)
			// Store metadata sits next to the record fields in a committed document.
			docs[i] = strings.TrimSuffix(string(data), "}") + `,"id":"` + gofakeit.UUID() + `","_ts":1700000000}`
		}
		payload := []byte("[" + strings.Join(docs, ",") + "]")

		env, err := NewDocumentNormalizer("data").Normalize(context.Background(), model.NewRawEvent(model.SourceChangeFeed, "feed", payload))
		require.NoError(t, err)
		assert.Equal(t, records, env.Records(), "seed %d", seed)
	}
}

func TestArtifactNormalizer_StripsBackslashes(t *testing.T) {
	payload := []byte(`{\"date\": 1, \"name\": \"a\", \"type\": \"t\", \"value\": 1.5, \"min\": 0, \"max\": 2, \"boolValue\": 0}` + "\n\n" +
		`{"date": 2, "name": "b", "type": "t", "value": 2.5, "min": 0, "max": 3, "boolValue": true}`)

	env, err := NewArtifactNormalizer("data").Normalize(context.Background(), model.NewRawEvent(model.SourceArtifact, "a", payload))
	require.NoError(t, err)

	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Equal(t,
		`{"data":[{"date":1,"name":"a","type":"t","value":1.5,"min":0,"max":2,"boolValue":0},{"date":2,"name":"b","type":"t","value":2.5,"min":0,"max":3,"boolValue":1}]}`,
		string(data))
}

func TestNormalizers_MissingFieldAbortsBatch(t *testing.T) {
	good := `{"date":1,"name":"a","type":"t","value":1,"min":0,"max":2,"boolValue":0}`
	missingValue := `{"date":2,"name":"b","type":"t","min":0,"max":2,"boolValue":0}`

	t.Run("artifact", func(t *testing.T) {
		payload := []byte(good + "\n" + missingValue + "\n" + good)
		env, err := NewArtifactNormalizer("data").Normalize(context.Background(), model.NewRawEvent(model.SourceArtifact, "a", payload))
		require.Error(t, err)
		assert.True(t, env.IsZero())

		var fe *model.FormatError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, 1, fe.Index)
		assert.Equal(t, "value", fe.Field)
	})

	t.Run("changefeed", func(t *testing.T) {
		payload := []byte("[" + good + "," + missingValue + "]")
		env, err := NewDocumentNormalizer("data").Normalize(context.Background(), model.NewRawEvent(model.SourceChangeFeed, "f", payload))
		require.Error(t, err)
		assert.True(t, env.IsZero())
		assert.True(t, model.IsFormatError(err))
	})
}

func TestParseRecord_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		field string
	}{
		{"not an object", `[1,2]`, ""},
		{"broken json", `{"date":`, ""},
		{"missing date", `{"name":"a","type":"t","value":1,"min":0,"max":2,"boolValue":0}`, "date"},
		{"null name", `{"date":1,"name":null,"type":"t","value":1,"min":0,"max":2,"boolValue":0}`, "name"},
		{"numeric name", `{"date":1,"name":5,"type":"t","value":1,"min":0,"max":2,"boolValue":0}`, "name"},
		{"string value", `{"date":1,"name":"a","type":"t","value":"warm","min":0,"max":2,"boolValue":0}`, "value"},
		{"fractional date", `{"date":1.5,"name":"a","type":"t","value":1,"min":0,"max":2,"boolValue":0}`, "date"},
		{"object max", `{"date":1,"name":"a","type":"t","value":1,"min":0,"max":{},"boolValue":0}`, "max"},
		{"flag overflow", `{"date":1,"name":"a","type":"t","value":1,"min":0,"max":2,"boolValue":70000}`, "boolValue"},
		{"negative flag", `{"date":1,"name":"a","type":"t","value":1,"min":0,"max":2,"boolValue":-1}`, "boolValue"},
		{"upper case keys", `{"DATE":1,"name":"a","type":"t","VALUE":1.5,"min":0,"max":2,"boolValue":0}`, "date"},
		{"case variant shadows value", `{"date":1,"name":"a","type":"t","value":1.5,"Value":9,"min":0,"max":2,"boolValue":0}`, "value"},
		{"lower case flag key", `{"date":1,"name":"a","type":"t","value":1,"min":0,"max":2,"boolvalue":0}`, "boolValue"},
		{"duplicate value", `{"date":1,"name":"a","type":"t","value":1.5,"value":9,"min":0,"max":2,"boolValue":0}`, "value"},
		{"hex float string", `{"date":1,"name":"a","type":"t","value":"0x1p-2","min":0,"max":2,"boolValue":0}`, "value"},
		{"infinity string", `{"date":1,"name":"a","type":"t","value":1,"min":"-Inf","max":2,"boolValue":0}`, "min"},
		{"underscore digits", `{"date":"1_700","name":"a","type":"t","value":1,"min":0,"max":2,"boolValue":0}`, "date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRecord([]byte(tt.input), 3)
			var fe *model.FormatError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, 3, fe.Index)
			assert.Equal(t, tt.field, fe.Field)
		})
	}
}

func TestParseRecord_LenientNumerics(t *testing.T) {
	rec, err := ParseRecord([]byte(`{"date":"1700000000","name":"a","type":"t","value":"21.50","min":" -1.25 ","max":1e2,"boolValue":"1","extra":true}`), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), rec.Date)
	assert.Equal(t, 21.5, rec.Value)
	assert.Equal(t, -1.25, rec.Min)
	assert.Equal(t, 100.0, rec.Max)
	assert.Equal(t, uint16(1), rec.Flag)
}

func TestParseRecord_IgnoresUnrelatedKeys(t *testing.T) {
	rec, err := ParseRecord([]byte(`{"id":"doc-1","_ts":17,"date":2,"name":"n","type":"t","value":0.5,"min":0,"max":1,"boolValue":true}`), 0)
	require.NoError(t, err)
	assert.Equal(t, 0.5, rec.Value)
	assert.Equal(t, uint16(1), rec.Flag)
}

func TestSplitDocuments(t *testing.T) {
	docs, err := SplitDocuments([]byte(` {"a":1} `))
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	_, err = SplitDocuments([]byte(`[]`))
	assert.True(t, model.IsFormatError(err))

	_, err = SplitDocuments([]byte(`"text"`))
	assert.True(t, model.IsFormatError(err))

	_, err = SplitDocuments(nil)
	assert.True(t, model.IsFormatError(err))
}

func TestArtifactNormalizer_EmptyPayload(t *testing.T) {
	_, err := NewArtifactNormalizer("data").Normalize(context.Background(), model.NewRawEvent(model.SourceArtifact, "a", []byte("\n \n")))
	assert.True(t, model.IsFormatError(err))
}

func TestRegistry_Find(t *testing.T) {
	reg := Default("data")

	assert.IsType(t, ArtifactNormalizer{}, reg.Find(&model.RawEvent{Kind: model.SourceArtifact}))
	assert.IsType(t, DocumentNormalizer{}, reg.Find(&model.RawEvent{Kind: model.SourceChangeFeed}))
	assert.Nil(t, reg.Find(&model.RawEvent{Kind: model.SourceRelay}))

	var nilReg *Registry
	assert.Nil(t, nilReg.Find(&model.RawEvent{Kind: model.SourceArtifact}))
}

package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/telhawk-systems/telhawk-devicebridge/internal/model"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() {
		normalizeSource = string(model.SourceArtifact)
		normalizeOutput = "json"
		normalizeKey = ""
		dispatchDevice, dispatchMethod, dispatchData = "", "", ""
		dispatchTimeout = 0
		cfgFile = ""
	})

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestCommandsRegistered(t *testing.T) {
	expected := map[string]bool{"serve": false, "migrate": false, "normalize": false, "dispatch": false, "version": false}
	for _, cmd := range rootCmd.Commands() {
		name := strings.Fields(cmd.Use)[0]
		if _, ok := expected[name]; ok {
			expected[name] = true
		}
	}
	for name, found := range expected {
		assert.True(t, found, "command %s should be registered", name)
	}

	var sub []string
	for _, cmd := range migrateCmd.Commands() {
		sub = append(sub, cmd.Use)
	}
	assert.ElementsMatch(t, []string{"up", "down"}, sub)
}

const artifactLines = `{"date":1700000000,"name":"boiler","type":"temperature","value":71.5,"min":60,"max":90,"boolValue":false}
{"date":1700000060,"name":"boiler","type":"temperature","value":72,"min":60,"max":90,"boolValue":1}
`

func TestNormalize_JSON(t *testing.T) {
	path := writeFile(t, "blob.json", artifactLines)

	out, err := execute(t, "normalize", path, "--key", "data")
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"data":[{"date":1700000000,"name":"boiler","type":"temperature","value":71.5,"min":60,"max":90,"boolValue":0},`+
			`{"date":1700000060,"name":"boiler","type":"temperature","value":72,"min":60,"max":90,"boolValue":1}]}`,
		out)
}

func TestNormalize_YAML(t *testing.T) {
	path := writeFile(t, "batch.json", `[{"date":5,"name":"a","type":"t","value":1.5,"min":0,"max":2,"boolValue":0,"id":"x"}]`)

	out, err := execute(t, "normalize", path, "--source", "changefeed", "--output", "yaml", "--key", "records")
	require.NoError(t, err)

	var doc map[string][]map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	require.Len(t, doc["records"], 1)
	assert.Equal(t, 5, doc["records"][0]["date"])
	assert.Equal(t, 1.5, doc["records"][0]["value"])
	assert.Less(t, strings.Index(out, "date:"), strings.Index(out, "boolValue:"))
}

func TestNormalize_FormatError(t *testing.T) {
	path := writeFile(t, "bad.json", `{"date":1,"name":"a","type":"t","min":0,"max":2,"boolValue":0}`)

	_, err := execute(t, "normalize", path, "--key", "data")
	require.Error(t, err)
	assert.True(t, model.IsFormatError(err))
}

func TestNormalize_UnknownOutput(t *testing.T) {
	path := writeFile(t, "blob.json", artifactLines)
	_, err := execute(t, "normalize", path, "--key", "data", "-o", "xml")
	assert.ErrorContains(t, err, "unknown output format")
}

func TestDispatch_RequiresTarget(t *testing.T) {
	_, err := execute(t, "dispatch", "--data", `{"ping":true}`)
	require.Error(t, err)
	assert.True(t, model.IsTransportError(err))
	assert.ErrorContains(t, err, "invalid_request")
}

func TestDispatch_InvalidPayload(t *testing.T) {
	_, err := execute(t, "dispatch", "--device", "d", "--method", "m", "--data", `{not json`)
	assert.ErrorContains(t, err, "not valid JSON")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "devicebridge "+Version)
}

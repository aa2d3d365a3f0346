package normalizer

import (
	"bytes"
	"context"

	"github.com/telhawk-systems/telhawk-devicebridge/internal/model"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ArtifactNormalizer handles stored objects holding one JSON record per line.
// Literal backslashes are stripped before parsing and blank lines are skipped.
// Every fragment is validated with ParseRecord.
type ArtifactNormalizer struct {
	key string
}

// NewArtifactNormalizer creates a normalizer wrapping records under key.
func NewArtifactNormalizer(key string) ArtifactNormalizer {
	return ArtifactNormalizer{key: key}
}

// Supports reports true for artifact events.
func (ArtifactNormalizer) Supports(kind model.SourceKind) bool {
	return kind == model.SourceArtifact
}

// Normalize splits the payload into fragments and parses each one.
func (n ArtifactNormalizer) Normalize(_ context.Context, event *model.RawEvent) (model.Envelope, error) {
	fragments := SplitFragments(event.Payload)
	if len(fragments) == 0 {
		return model.Envelope{}, &model.FormatError{Index: -1, Reason: "artifact contains no records"}
	}

	records := make([]model.CanonicalRecord, 0, len(fragments))
	for i, frag := range fragments {
		rec, err := ParseRecord(frag, i)
		if err != nil {
			return model.Envelope{}, err
		}
		records = append(records, rec)
	}
	return model.NewEnvelope(n.key, records)
}

// SplitFragments strips backslashes and returns the non-blank lines of payload.
func SplitFragments(payload []byte) [][]byte {
	payload = bytes.TrimPrefix(payload, utf8BOM)
	cleaned := bytes.ReplaceAll(payload, []byte{'\\'}, nil)

	var fragments [][]byte
	for _, line := range bytes.Split(cleaned, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		fragments = append(fragments, line)
	}
	return fragments
}

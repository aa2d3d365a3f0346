package normalizer

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/telhawk-systems/telhawk-devicebridge/internal/model"
)

// DocumentNormalizer handles change-feed batches: a JSON array of committed
// documents, or a single document. Fields outside the canonical schema
// (document ids, store timestamps) are ignored.
type DocumentNormalizer struct {
	key string
}

// NewDocumentNormalizer creates a normalizer wrapping records under key.
func NewDocumentNormalizer(key string) DocumentNormalizer {
	return DocumentNormalizer{key: key}
}

// Supports reports true for change-feed events.
func (DocumentNormalizer) Supports(kind model.SourceKind) bool {
	return kind == model.SourceChangeFeed
}

// Normalize parses every document of the batch. The first failure aborts the batch.
func (n DocumentNormalizer) Normalize(_ context.Context, event *model.RawEvent) (model.Envelope, error) {
	docs, err := SplitDocuments(event.Payload)
	if err != nil {
		return model.Envelope{}, err
	}

	records := make([]model.CanonicalRecord, 0, len(docs))
	for i, doc := range docs {
		rec, err := ParseRecord(doc, i)
		if err != nil {
			return model.Envelope{}, err
		}
		records = append(records, rec)
	}
	return model.NewEnvelope(n.key, records)
}

// SplitDocuments returns the raw documents of a batch payload.
func SplitDocuments(payload []byte) ([]json.RawMessage, error) {
	payload = bytes.TrimSpace(bytes.TrimPrefix(payload, utf8BOM))
	if len(payload) == 0 {
		return nil, &model.FormatError{Index: -1, Reason: "empty batch"}
	}

	switch payload[0] {
	case '{':
		return []json.RawMessage{json.RawMessage(payload)}, nil
	case '[':
		var docs []json.RawMessage
		if err := json.Unmarshal(payload, &docs); err != nil {
			return nil, &model.FormatError{Index: -1, Reason: "invalid batch", Err: err}
		}
		if len(docs) == 0 {
			return nil, &model.FormatError{Index: -1, Reason: "empty batch"}
		}
		return docs, nil
	default:
		return nil, &model.FormatError{Index: -1, Reason: "batch is neither a JSON array nor an object"}
	}
}

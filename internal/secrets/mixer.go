package secrets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/telhawk-systems/telhawk-devicebridge/internal/logging"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/messaging"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/model"
)

// KeySize is the length in bytes of a derived session key.
const KeySize = 32

// KeyRequest is the relayed message asking for a session key. The random
// values may arrive as JSON strings or numbers.
type KeyRequest struct {
	TagID string          `json:"tagId"`
	Rand1 json.RawMessage `json:"rand1"`
	Rand2 json.RawMessage `json:"rand2"`
}

// SessionKey is a derived key. Key must never be logged; use Fingerprint.
type SessionKey struct {
	TagID       string
	Date        string
	Key         []byte
	Fingerprint string
}

// Mixer derives session keys from device secrets.
type Mixer struct {
	store  Store
	logger *logging.Logger
	now    func() time.Time
}

func NewMixer(store Store, logger *logging.Logger) *Mixer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Mixer{store: store, logger: logger, now: time.Now}
}

// ParseKeyRequest decodes and validates a relayed key request.
func ParseKeyRequest(data []byte) (KeyRequest, error) {
	var req KeyRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return KeyRequest{}, &model.FormatError{Index: -1, Reason: "invalid key request", Err: err}
	}
	if req.TagID == "" {
		return KeyRequest{}, &model.FormatError{Index: -1, Field: "tagId", Reason: "missing field"}
	}
	if _, err := scalarText(req.Rand1); err != nil {
		return KeyRequest{}, &model.FormatError{Index: -1, Field: "rand1", Reason: err.Error()}
	}
	if _, err := scalarText(req.Rand2); err != nil {
		return KeyRequest{}, &model.FormatError{Index: -1, Field: "rand2", Reason: err.Error()}
	}
	return req, nil
}

// Derive resolves the tag's secret and expands it with HKDF-SHA256. The salt
// is "rand1.rand2" and the info is the current UTC date, so keys rotate daily.
func (m *Mixer) Derive(ctx context.Context, req KeyRequest) (SessionKey, error) {
	secret, err := m.store.Secret(ctx, req.TagID)
	if err != nil {
		return SessionKey{}, err
	}

	r1, _ := scalarText(req.Rand1)
	r2, _ := scalarText(req.Rand2)
	date := m.now().UTC().Format(time.DateOnly)

	key := make([]byte, KeySize)
	kdf := hkdf.New(sha256.New, []byte(secret), []byte(r1+"."+r2), []byte(date))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return SessionKey{}, fmt.Errorf("derive session key: %w", err)
	}
	return SessionKey{TagID: req.TagID, Date: date, Key: key, Fingerprint: Fingerprint(key)}, nil
}

// Handle is the relay subscription handler. Secret lookup failures are logged
// and swallowed so the subscription keeps running.
func (m *Mixer) Handle(ctx context.Context, msg *messaging.Message) error {
	req, err := ParseKeyRequest(msg.Data)
	if err != nil {
		return err
	}

	sk, err := m.Derive(ctx, req)
	if err != nil {
		if model.IsSecretError(err) {
			m.logger.WarnContext(ctx, "secret not resolved", "tag_id", req.TagID, logging.Error(err))
			return nil
		}
		return err
	}

	m.logger.InfoContext(ctx, "session key derived",
		"tag_id", sk.TagID,
		"date", sk.Date,
		"fingerprint", sk.Fingerprint)
	return nil
}

// Fingerprint returns a short, non-reversible identifier for key.
func Fingerprint(key []byte) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:8])
}

func scalarText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", fmt.Errorf("missing field")
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	case '{', '[':
		return "", fmt.Errorf("expected string or number")
	default:
		return strings.TrimSpace(string(raw)), nil
	}
}

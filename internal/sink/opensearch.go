package sink

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"github.com/opensearch-project/opensearch-go/v2/opensearchutil"

	"github.com/telhawk-systems/telhawk-devicebridge/internal/config"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/model"
)

// OpenSearchStore maps databases to index templates and collections to indices.
// Database "Telemetry" owns the template "telemetry" matching "telemetry-*";
// its collection "Sensors" is the index "telemetry-sensors".
type OpenSearchStore struct {
	client *opensearch.Client
}

// NewOpenSearchClient builds a client from configuration without contacting the cluster.
func NewOpenSearchClient(cfg config.OpenSearchConfig) (*opensearch.Client, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify, //nolint:gosec // self-signed dev clusters
		},
	}
	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}
	return client, nil
}

func NewOpenSearchStore(client *opensearch.Client) *OpenSearchStore {
	return &OpenSearchStore{client: client}
}

// Ping verifies the cluster answers.
func (s *OpenSearchStore) Ping(ctx context.Context) error {
	res, err := s.client.Info(s.client.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to ping opensearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("opensearch returned error: %s", res.Status())
	}
	return nil
}

func (s *OpenSearchStore) DatabaseExists(ctx context.Context, databaseID string) (bool, error) {
	res, err := s.client.Indices.ExistsIndexTemplate(
		templateName(databaseID),
		s.client.Indices.ExistsIndexTemplate.WithContext(ctx),
	)
	if err != nil {
		return false, err
	}
	return existsResult(res)
}

func (s *OpenSearchStore) CreateDatabase(ctx context.Context, databaseID string) error {
	name := templateName(databaseID)
	template := map[string]interface{}{
		"index_patterns": []string{name + "-*"},
		"template": map[string]interface{}{
			"settings": map[string]interface{}{
				"number_of_shards":   1,
				"number_of_replicas": 0,
			},
			"mappings": map[string]interface{}{
				"dynamic": true,
				"properties": map[string]interface{}{
					"topic": map[string]interface{}{"type": "keyword"},
				},
			},
		},
		"_meta": map[string]interface{}{
			"database_id": databaseID,
		},
	}

	res, err := s.client.Indices.PutIndexTemplate(
		name,
		opensearchutil.NewJSONReader(template),
		s.client.Indices.PutIndexTemplate.WithCreate(true),
		s.client.Indices.PutIndexTemplate.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	return createResult(res, "index template "+name)
}

func (s *OpenSearchStore) CollectionExists(ctx context.Context, target model.SinkTarget) (bool, error) {
	res, err := s.client.Indices.Exists(
		[]string{IndexName(target)},
		s.client.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		return false, err
	}
	return existsResult(res)
}

func (s *OpenSearchStore) CreateCollection(ctx context.Context, target model.SinkTarget) error {
	index := IndexName(target)
	body := map[string]interface{}{
		"mappings": map[string]interface{}{
			"_meta": map[string]interface{}{
				"database_id":   target.DatabaseID,
				"collection_id": target.CollectionID,
			},
		},
	}

	res, err := s.client.Indices.Create(
		index,
		s.client.Indices.Create.WithBody(opensearchutil.NewJSONReader(body)),
		s.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	return createResult(res, "index "+index)
}

// Insert writes doc with op_type=create under a fresh id, so an existing
// document is never overwritten.
func (s *OpenSearchStore) Insert(ctx context.Context, target model.SinkTarget, doc json.RawMessage) (string, error) {
	id := uuid.NewString()
	res, err := s.client.Index(
		IndexName(target),
		bytes.NewReader(doc),
		s.client.Index.WithDocumentID(id),
		s.client.Index.WithOpType("create"),
		s.client.Index.WithContext(ctx),
	)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return "", fmt.Errorf("insert into %s failed: %s - %s", IndexName(target), res.Status(), string(body))
	}
	return id, nil
}

// IndexName returns the index holding target's documents.
func IndexName(target model.SinkTarget) string {
	return templateName(target.DatabaseID) + "-" + indexToken(target.CollectionID)
}

func templateName(databaseID string) string {
	return indexToken(databaseID)
}

// indexToken lower-cases s and replaces characters OpenSearch rejects in index names.
func indexToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\\', '/', '*', '?', '"', '<', '>', '|', ' ', ',', '#', ':':
			return '_'
		}
		return r
	}, s)
	return strings.TrimLeft(s, "_-+")
}

func existsResult(res *opensearchapi.Response) (bool, error) {
	defer res.Body.Close()
	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected status %s", res.Status())
	}
}

func createResult(res *opensearchapi.Response, what string) error {
	defer res.Body.Close()
	if !res.IsError() {
		return nil
	}
	body, _ := io.ReadAll(res.Body)
	if strings.Contains(string(body), "resource_already_exists_exception") || strings.Contains(string(body), "already exists") {
		return fmt.Errorf("%s: %w", what, ErrAlreadyExists)
	}
	return fmt.Errorf("failed to create %s: %s - %s", what, res.Status(), string(body))
}

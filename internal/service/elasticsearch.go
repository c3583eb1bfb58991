package service

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/cortexai/text2sql/internal/security"
)

const DefaultAuditIndex = "text2sql-audit"

// ElasticsearchService stores audit records in an index.
type ElasticsearchService struct {
	client *elasticsearch.Client
	index  string
}

// NewElasticsearchService creates an ES client using go-elasticsearch/v8
func NewElasticsearchService(scheme, host string, port int, user, password string, verifyCerts bool, maxRetries int, index string) (*ElasticsearchService, error) {
	addr := fmt.Sprintf("%s://%s:%d", scheme, host, port)
	return NewElasticsearchServiceWithAddresses([]string{addr}, user, password, verifyCerts, maxRetries, index)
}

func NewElasticsearchServiceWithAddresses(addresses []string, user, password string, verifyCerts bool, maxRetries int, index string) (*ElasticsearchService, error) {
	cfg := elasticsearch.Config{
		Addresses:  addresses,
		MaxRetries: maxRetries,
	}
	if user != "" {
		cfg.Username = user
		cfg.Password = password
	}
	if !verifyCerts {
		cfg.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true, // #nosec G402 - user explicitly disabled cert verification
			},
		}
	}

	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch.NewClient: %w", err)
	}
	if index == "" {
		index = DefaultAuditIndex
	}
	return &ElasticsearchService{client: client, index: index}, nil
}

func (s *ElasticsearchService) Index() string { return s.index }

// TestConnection pings the cluster
func (s *ElasticsearchService) TestConnection(ctx context.Context) error {
	res, err := s.client.Ping(s.client.Ping.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("ping error: %s", res.Status())
	}
	return nil
}

// IndexAudit writes one audit record.
func (s *ElasticsearchService) IndexAudit(ctx context.Context, rec security.AuditRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	res, err := s.client.Index(s.index, bytes.NewReader(body), s.client.Index.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, err = decodeBody(res.Body, res.Status())
	return err
}

// RecentAudit returns up to size records, newest first.
func (s *ElasticsearchService) RecentAudit(ctx context.Context, size int) ([]security.AuditRecord, error) {
	if size <= 0 {
		size = 20
	}
	body, err := json.Marshal(map[string]any{
		"size": size,
		"sort": []map[string]any{{"@timestamp": map[string]string{"order": "desc"}}},
	})
	if err != nil {
		return nil, err
	}
	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(bytes.NewReader(body)),
		s.client.Search.WithIgnoreUnavailable(true),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.IsError() {
		_, err := decodeBody(res.Body, res.Status())
		return nil, err
	}
	var parsed struct {
		Hits struct {
			Hits []struct {
				Source security.AuditRecord `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	out := make([]security.AuditRecord, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}

func decodeBody(r io.Reader, status string) (map[string]any, error) {
	var result map[string]any
	if err := json.NewDecoder(r).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if strings.HasPrefix(status, "4") || strings.HasPrefix(status, "5") {
		if errObj, ok := result["error"]; ok {
			return nil, fmt.Errorf("elasticsearch error [%s]: %v", status, errObj)
		}
		return nil, fmt.Errorf("elasticsearch error: %s", status)
	}
	return result, nil
}

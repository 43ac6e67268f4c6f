package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"otabridge/internal/config"
	"otabridge/internal/models"
)

// PayloadIndex is the Elasticsearch secondary index over payload parsed
// fields. Postgres stays the source of truth; everything here is
// best-effort and only serves the admin search surface.
type PayloadIndex struct {
	client *elasticsearch.Client
	config config.ElasticsearchConfig
}

// indexedPayload is the subset of a record worth searching on
type indexedPayload struct {
	ID            string `json:"id"`
	CorrelationID string `json:"correlation_id"`
	Direction     string `json:"direction"`
	Channel       string `json:"channel"`
	HotelID       string `json:"hotel_id"`
	GuestName     string `json:"guest_name,omitempty"`
	ReservationID string `json:"reservation_id,omitempty"`
	BookingID     string `json:"booking_id,omitempty"`
	Operation     string `json:"operation,omitempty"`
	DataLevel     string `json:"data_level"`
	CreatedAt     string `json:"created_at"`
}

func NewPayloadIndex(cfg config.ElasticsearchConfig) (*PayloadIndex, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:     []string{cfg.URL},
		Username:      cfg.Username,
		Password:      cfg.Password,
		RetryOnStatus: []int{502, 503, 504, 429},
		MaxRetries:    cfg.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	idx := &PayloadIndex{client: es, config: cfg}
	if err := idx.ensureIndex(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ensure index exists: %w", err)
	}
	return idx, nil
}

func (c *PayloadIndex) ensureIndex(ctx context.Context) error {
	req := esapi.IndicesExistsRequest{
		Index: []string{c.config.Index},
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("failed to check index existence: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == 200 {
		slog.Info("Elasticsearch index already exists", "index", c.config.Index)
		return nil
	}

	mapping := map[string]interface{}{
		"settings": map[string]interface{}{
			"number_of_shards":   1,
			"number_of_replicas": 0,
		},
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"id":             map[string]interface{}{"type": "keyword"},
				"correlation_id": map[string]interface{}{"type": "keyword"},
				"direction":      map[string]interface{}{"type": "keyword"},
				"channel":        map[string]interface{}{"type": "keyword"},
				"hotel_id":       map[string]interface{}{"type": "keyword"},
				"guest_name": map[string]interface{}{
					"type": "text",
					"fields": map[string]interface{}{
						"keyword": map[string]interface{}{"type": "keyword", "ignore_above": 256},
					},
				},
				"reservation_id": map[string]interface{}{"type": "keyword"},
				"booking_id":     map[string]interface{}{"type": "keyword"},
				"operation":      map[string]interface{}{"type": "keyword"},
				"data_level":     map[string]interface{}{"type": "keyword"},
				"created_at": map[string]interface{}{
					"type":   "date",
					"format": "strict_date_optional_time||epoch_millis",
				},
			},
		},
	}

	mappingJSON, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("failed to marshal mapping: %w", err)
	}

	createReq := esapi.IndicesCreateRequest{
		Index: c.config.Index,
		Body:  strings.NewReader(string(mappingJSON)),
	}

	createRes, err := createReq.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer createRes.Body.Close()

	if createRes.IsError() {
		return fmt.Errorf("failed to create index: %s", createRes.String())
	}

	slog.Info("Created Elasticsearch index", "index", c.config.Index)
	return nil
}

// Index writes the searchable subset of one payload record
func (c *PayloadIndex) Index(ctx context.Context, record *models.PayloadRecord) error {
	doc := indexedPayload{
		ID:            record.ID,
		CorrelationID: record.CorrelationID,
		Direction:     string(record.Direction),
		Channel:       string(record.Channel),
		HotelID:       record.HotelID,
		GuestName:     record.Parsed.GuestName,
		ReservationID: record.Parsed.ReservationID,
		BookingID:     record.Parsed.BookingID,
		Operation:     record.Parsed.Operation,
		DataLevel:     string(record.Classification.DataLevel),
		CreatedAt:     record.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
	}

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      c.config.Index,
		DocumentID: record.ID,
		Body:       strings.NewReader(string(docJSON)),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index error: %s", res.String())
	}
	return nil
}

// SearchIDs returns payload ids whose parsed fields match the text
func (c *PayloadIndex) SearchIDs(ctx context.Context, text string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}

	searchRequest := map[string]interface{}{
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  text,
				"fields": []string{"guest_name", "reservation_id", "booking_id"},
			},
		},
		"size":    limit,
		"_source": []string{"id"},
	}

	searchJSON, err := json.Marshal(searchRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search query: %w", err)
	}

	req := esapi.SearchRequest{
		Index: []string{c.config.Index},
		Body:  strings.NewReader(string(searchJSON)),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, fmt.Errorf("failed to execute search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("search error: %s", res.String())
	}

	var response struct {
		Hits struct {
			Hits []struct {
				Source struct {
					ID string `json:"id"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}

	if err := json.NewDecoder(res.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	ids := make([]string, len(response.Hits.Hits))
	for i, hit := range response.Hits.Hits {
		ids[i] = hit.Source.ID
	}
	return ids, nil
}

// Delete removes one document; used by the retention sweep
func (c *PayloadIndex) Delete(ctx context.Context, payloadID string) error {
	req := esapi.DeleteRequest{
		Index:      c.config.Index,
		DocumentID: payloadID,
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != 404 {
		return fmt.Errorf("delete error: %s", res.String())
	}
	return nil
}

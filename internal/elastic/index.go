package elastic

import (
	"bytes"
	"context"
	"fmt"

	es "github.com/elastic/go-elasticsearch/v8"
)

const IdxRequests = "requests_v1"

const requestsMapping = `{"settings":{"number_of_shards":1},"mappings":{"dynamic":"strict","properties":{
	"uuid":{"type":"keyword"},"category":{"type":"keyword"},"status":{"type":"keyword"},
	"city":{"type":"keyword"},"location":{"type":"geo_point"},"bucket":{"type":"keyword"},
	"sentinel_location":{"type":"boolean"},"household_size":{"type":"integer"},
	"demographic_count":{"type":"integer"},"dietary":{"type":"keyword"},
	"has_chef":{"type":"boolean"},"has_deliverer":{"type":"boolean"},
	"notification_failed":{"type":"boolean"},"submitted_at":{"type":"date"},
	"selected_at":{"type":"date"},"delivery_date":{"type":"date","format":"yyyy-MM-dd"},
	"version":{"type":"integer"},"updated_at":{"type":"date"}
}}}`

func EnsureIndexes(ctx context.Context, c *es.Client) error {
	return ensure(ctx, c, IdxRequests, requestsMapping)
}

func ensure(ctx context.Context, c *es.Client, index, body string) error {
	exists, err := c.Indices.Exists([]string{index}, c.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", index, err)
	}
	defer exists.Body.Close()
	if exists.StatusCode == 200 {
		return nil
	}
	res, err := c.Indices.Create(index, c.Indices.Create.WithBody(bytes.NewBufferString(body)), c.Indices.Create.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("create index %s: %w", index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("create index %s: %s", index, res.Status())
	}
	return nil
}

package elastic

import (
	"fmt"
	"log"

	es "github.com/elastic/go-elasticsearch/v8"
)

// NewClient builds a client for the dashboard index at url.
func NewClient(url string) (*es.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("ELASTIC_URL is not set")
	}
	return es.NewClient(es.Config{Addresses: []string{url}})
}

func Connect(url string) *es.Client {
	client, err := NewClient(url)
	if err != nil {
		log.Fatalf("❌ failed to connect to Elasticsearch: %v", err)
	}
	log.Println("✅ Connected to Elasticsearch")
	return client
}

package schema

import (
	"context"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/schemaregistry"
)

// ConfluentRegistry registers schemas with a Confluent-compatible registry.
type ConfluentRegistry struct {
	client schemaregistry.Client
}

// NewConfluentRegistry creates a registry client for url. Basic auth is used
// when username is set.
func NewConfluentRegistry(url, username, password string) (*ConfluentRegistry, error) {
	var conf *schemaregistry.Config
	if username != "" {
		conf = schemaregistry.NewConfigWithBasicAuthentication(url, username, password)
	} else {
		conf = schemaregistry.NewConfig(url)
	}

	client, err := schemaregistry.NewClient(conf)
	if err != nil {
		return nil, fmt.Errorf("creating schema registry client: %w", err)
	}
	return &ConfluentRegistry{client: client}, nil
}

// Register registers an Avro definition under subject. The client call has
// no context; ctx is only checked before the request.
func (r *ConfluentRegistry) Register(ctx context.Context, subject, definition string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	id, err := r.client.Register(subject, schemaregistry.SchemaInfo{
		Schema:     definition,
		SchemaType: "AVRO",
	}, false)
	if err != nil {
		return 0, fmt.Errorf("schema registry: %w", err)
	}
	return id, nil
}

// Close releases the client.
func (r *ConfluentRegistry) Close() error {
	return r.client.Close()
}

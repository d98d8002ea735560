// Package schema loads the outgoing Avro schema, registers it with a
// schema registry and encodes messages in the registry wire format.
package schema

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hamba/avro/v2"

	"github.com/star/orbitstream/internal/config"
)

// wireHeaderLen is the magic byte plus the 4-byte schema id.
const wireHeaderLen = 5

// magicByte prefixes every registry-framed message.
const magicByte = 0x0

// Definition is a parsed schema and the text it was parsed from.
type Definition struct {
	Path   string
	Text   string
	Schema avro.Schema
}

// Load reads and parses the schema at path. Any failure is a configuration
// error: the pipeline cannot publish without a schema.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading schema: %w", config.ErrConfiguration, err)
	}
	s, err := avro.Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing schema %s: %w", config.ErrConfiguration, path, err)
	}
	return &Definition{Path: path, Text: string(data), Schema: s}, nil
}

// Subject returns the registry subject for a topic's message values.
func Subject(topic string) string {
	return topic + "-value"
}

// Registry registers schema definitions and returns their ids.
type Registry interface {
	Register(ctx context.Context, subject, definition string) (int, error)
}

// AvroEncoder encodes values with a registered schema.
type AvroEncoder struct {
	schema avro.Schema
	id     int
}

// NewAvroEncoder creates an encoder for a schema registered under id.
func NewAvroEncoder(def *Definition, id int) *AvroEncoder {
	return &AvroEncoder{schema: def.Schema, id: id}
}

// SchemaID returns the registry id written into every message.
func (e *AvroEncoder) SchemaID() int {
	return e.id
}

// Encode returns v in wire format: magic byte, big-endian schema id, Avro body.
func (e *AvroEncoder) Encode(v any) ([]byte, error) {
	body, err := avro.Marshal(e.schema, v)
	if err != nil {
		return nil, fmt.Errorf("avro encode: %w", err)
	}
	out := make([]byte, wireHeaderLen, wireHeaderLen+len(body))
	out[0] = magicByte
	binary.BigEndian.PutUint32(out[1:wireHeaderLen], uint32(e.id))
	return append(out, body...), nil
}

// Decode reads a wire-format message into v and returns its schema id.
func (e *AvroEncoder) Decode(data []byte, v any) (int, error) {
	if len(data) < wireHeaderLen || data[0] != magicByte {
		return 0, errors.New("not a registry-framed message")
	}
	id := int(binary.BigEndian.Uint32(data[1:wireHeaderLen]))
	if err := avro.Unmarshal(e.schema, data[wireHeaderLen:], v); err != nil {
		return id, fmt.Errorf("avro decode: %w", err)
	}
	return id, nil
}

// Register registers def under subject, retrying transient failures with b,
// and returns an encoder bound to the assigned id.
func Register(ctx context.Context, reg Registry, subject string, def *Definition, b backoff.BackOff, logger *slog.Logger) (*AvroEncoder, error) {
	var id int
	op := func() error {
		var err error
		id, err = reg.Register(ctx, subject, def.Text)
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("schema registration failed, retrying",
			"subject", subject,
			"retry_in", wait.String(),
			"error", err,
		)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, fmt.Errorf("registering schema %s: %w", subject, err)
	}

	logger.Info("schema registered", "subject", subject, "schema_id", id)
	return NewAvroEncoder(def, id), nil
}

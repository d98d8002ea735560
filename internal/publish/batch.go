// Package publish splits catalog snapshots into bounded batches, encodes
// them and sends them to the broker.
package publish

import (
	"errors"
	"fmt"

	"github.com/star/orbitstream/internal/record"
)

var (
	// ErrEncode marks a batch that could not be encoded. It is never retried.
	ErrEncode = errors.New("batch encode failed")
	// ErrPublish marks a batch the broker did not accept.
	ErrPublish = errors.New("batch publish failed")
)

// Batch is one bounded slice of a flush.
type Batch struct {
	FlushID string
	Index   int
	Records []record.SatelliteVector
}

// Envelope is the message body. Field names follow the Avro schema.
type Envelope struct {
	Timestamp  string                   `json:"timestamp" avro:"timestamp"`
	TLEDataset []record.SatelliteVector `json:"tleDataset" avro:"tleDataset"`
}

// Message is an encoded envelope ready to send.
type Message struct {
	Key      []byte
	Value    []byte
	SchemaID int
}

// BatchError reports which batch of which flush failed.
type BatchError struct {
	FlushID string
	Index   int
	Err     error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("flush %s batch %d: %v", e.FlushID, e.Index, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Partition splits items into consecutive chunks of at most size elements.
// Order is preserved and the chunks share the backing array of items.
func Partition[T any](items []T, size int) [][]T {
	if size < 1 {
		size = 1
	}
	if len(items) == 0 {
		return nil
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end:end])
	}
	return chunks
}

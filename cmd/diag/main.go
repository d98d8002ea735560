package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/star/orbitstream/internal/propagation"
	"github.com/star/orbitstream/internal/publish"
	"github.com/star/orbitstream/internal/record"
	"github.com/star/orbitstream/internal/schema"
	"github.com/star/orbitstream/internal/tle"
)

func main() {
	cacheDir := flag.String("cache-dir", "/tmp/orbitstream/tle", "directory holding cached catalog payloads")
	batchSize := flag.Int("batch-size", 1000, "records per batch")
	schemaPath := flag.String("schema", "schemas/tle.avsc", "Avro schema used to size encoded batches")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	rows, ts, err := tle.NewCache(*cacheDir, 0).LoadRows()
	if err != nil {
		fmt.Println("ERROR reading catalog cache:", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d rows cached at %v\n", len(rows), ts.Format(time.RFC3339))

	prop := propagation.NewPropagator(propagation.PropConfig{Workers: runtime.NumCPU()}, logger)
	builder := record.NewBuilder(prop, logger)

	now := time.Now().UTC()
	start := time.Now()
	entries, stats := builder.Build(context.Background(), rows, now)
	fmt.Printf("Built %d records at %v in %v (normalization failed %d, propagation failed %d)\n",
		stats.Built, now.Format(time.RFC3339), time.Since(start).Round(time.Millisecond),
		stats.NormalizationFailed, stats.PropagationFailed)

	vectors := make([]record.SatelliteVector, len(entries))
	for i, e := range entries {
		vectors[i] = e.Vector
	}
	if len(vectors) > 0 {
		v := vectors[0]
		fmt.Printf("First record: %s (NORAD %d) lat=%.3f lon=%.3f h=%.1fkm\n",
			v.Name, v.CatalogNumber, v.Latitude, v.Longitude, v.Height)
	}

	def, err := schema.Load(*schemaPath)
	if err != nil {
		fmt.Println("ERROR loading schema:", err)
		os.Exit(1)
	}
	enc := schema.NewAvroEncoder(def, 0)

	flushID := publish.FlushID(now)
	var total int
	for i, chunk := range publish.Partition(vectors, *batchSize) {
		data, err := enc.Encode(publish.Envelope{Timestamp: flushID, TLEDataset: chunk})
		if err != nil {
			fmt.Printf("  batch %d: ERROR %v\n", i, err)
			continue
		}
		total += len(data)
		fmt.Printf("  batch %d: %d records, %d bytes\n", i, len(chunk), len(data))
	}
	fmt.Printf("\nTotal encoded bytes: %d\n", total)
}

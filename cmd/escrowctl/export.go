package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"gopkg.in/yaml.v3"
)

const exportPageSize = 500

// archivedEvent mirrors one row of GET /v1/events.
type archivedEvent struct {
	Sequence   uint64            `json:"sequence" yaml:"sequence"`
	Type       string            `json:"type" yaml:"type"`
	OfferID    uint64            `json:"offerId,omitempty" yaml:"offerId,omitempty"`
	Attributes map[string]string `json:"attributes" yaml:"attributes"`
	Digest     string            `json:"digest" yaml:"digest"`
	CreatedAt  int64             `json:"createdAt" yaml:"createdAt"`
}

type parquetEvent struct {
	Sequence   int64  `parquet:"name=sequence, type=INT64"`
	Type       string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	OfferID    int64  `parquet:"name=offer_id, type=INT64"`
	Attributes string `parquet:"name=attributes, type=BYTE_ARRAY, convertedtype=UTF8"`
	Digest     string `parquet:"name=digest, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt  int64  `parquet:"name=created_at, type=INT64"`
}

func (c *command) export(args []string) int {
	fs := newFlagSet("export", c.stderr)
	format := fs.String("format", "json", "parquet, json or yaml")
	out := fs.String("out", "", "output file")
	offer := fs.Uint64("offer", 0, "only events of this offer")
	if !c.parseFlags(fs, args) {
		return 1
	}
	if strings.TrimSpace(*out) == "" {
		return c.fail("--out is required")
	}
	switch *format {
	case "parquet", "json", "yaml":
	default:
		return c.fail("--format must be parquet, json or yaml")
	}

	rows, err := c.fetchEvents(*offer)
	if err != nil {
		return c.finish(nil, err)
	}
	switch *format {
	case "parquet":
		err = writeParquet(*out, rows)
	case "yaml":
		err = writeDocument(*out, rows, func(w io.Writer, v interface{}) error {
			enc := yaml.NewEncoder(w)
			if err := enc.Encode(v); err != nil {
				return err
			}
			return enc.Close()
		})
	default:
		err = writeDocument(*out, rows, func(w io.Writer, v interface{}) error {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		})
	}
	if err != nil {
		return c.fail(err.Error())
	}
	fmt.Fprintf(c.stdout, "Exported %d events to %s\n", len(rows), *out)
	return 0
}

// fetchEvents pages through the archive in sequence order.
func (c *command) fetchEvents(offer uint64) ([]archivedEvent, error) {
	cl := newClient(c.opts)
	var (
		rows  []archivedEvent
		after uint64
	)
	for {
		ctx, cancel := c.requestContext()
		raw, err := cl.get(ctx, "/v1/events", eventQuery(offer, after, exportPageSize))
		cancel()
		if err != nil {
			return nil, err
		}
		var page struct {
			Events []archivedEvent `json:"events"`
		}
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("decode events: %w", err)
		}
		rows = append(rows, page.Events...)
		if len(page.Events) < exportPageSize {
			return rows, nil
		}
		after = page.Events[len(page.Events)-1].Sequence
	}
}

func writeDocument(path string, rows []archivedEvent, encode func(io.Writer, interface{}) error) error {
	if rows == nil {
		rows = []archivedEvent{}
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create %s: %w", path, err)
	}
	if err := encode(file, rows); err != nil {
		file.Close()
		return fmt.Errorf("export: encode: %w", err)
	}
	return file.Close()
}

func writeParquet(path string, rows []archivedEvent) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetEvent), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("export: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		attrs, err := json.Marshal(row.Attributes)
		if err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("export: encode attributes: %w", err)
		}
		record := &parquetEvent{
			Sequence:   int64(row.Sequence),
			Type:       row.Type,
			OfferID:    int64(row.OfferID),
			Attributes: string(attrs),
			Digest:     row.Digest,
			CreatedAt:  row.CreatedAt,
		}
		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("export: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("export: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("export: close parquet file: %w", err)
	}
	return nil
}

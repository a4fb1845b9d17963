package archive

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/kjannette/coinflow/internal/models"
)

type observationRecord struct {
	AssetID      string   `parquet:"name=asset_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ObservedAt   int64    `parquet:"name=observed_at, type=INT64, convertedtype=TIMESTAMP_MICROS"`
	Price        float64  `parquet:"name=price, type=DOUBLE"`
	MarketCap    float64  `parquet:"name=market_cap, type=DOUBLE"`
	Volume24h    float64  `parquet:"name=volume_24h, type=DOUBLE"`
	PctChange24h *float64 `parquet:"name=pct_change_24h, type=DOUBLE, repetitiontype=OPTIONAL"`
	Rank         int32    `parquet:"name=rank, type=INT32"`
	IngestedAt   int64    `parquet:"name=ingested_at, type=INT64, convertedtype=TIMESTAMP_MICROS"`
	RunID        string   `parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// memFile satisfies source.ParquetFile over an in-memory buffer. The writer
// only ever appends, so Seek and Read are stubs.
type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile {
	return &memFile{buffer: &bytes.Buffer{}}
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, errors.New("read not supported") }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }
func (m *memFile) Bytes() []byte                             { return m.buffer.Bytes() }

// Encode writes rows as a snappy-compressed Parquet file.
func Encode(rows []models.StoredRow) ([]byte, error) {
	mem := newMemFile()
	pw, err := writer.NewParquetWriter(mem, new(observationRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("new parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		rec := observationRecord{
			AssetID:      row.AssetID,
			ObservedAt:   row.ObservedAt.UTC().UnixMicro(),
			Price:        row.Price,
			MarketCap:    row.MarketCap,
			Volume24h:    row.Volume24h,
			PctChange24h: row.PctChange24h,
			Rank:         int32(row.Rank),
			IngestedAt:   row.IngestedAt.UTC().UnixMicro(),
			RunID:        row.RunID,
		}
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("write observation record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalize parquet: %w", err)
	}
	return mem.Bytes(), nil
}

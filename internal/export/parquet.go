package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/stirandas/nfd-visualizations/internal/flows"
)

type flowParquetRecord struct {
	RunDate             string   `parquet:"name=run_dt, type=BYTE_ARRAY, convertedtype=UTF8"`
	DIIBuy              *float64 `parquet:"name=dii_buy, type=DOUBLE, repetitiontype=OPTIONAL"`
	DIISell             *float64 `parquet:"name=dii_sell, type=DOUBLE, repetitiontype=OPTIONAL"`
	DIINet              *float64 `parquet:"name=dii_net, type=DOUBLE, repetitiontype=OPTIONAL"`
	FIIBuy              *float64 `parquet:"name=fii_buy, type=DOUBLE, repetitiontype=OPTIONAL"`
	FIISell             *float64 `parquet:"name=fii_sell, type=DOUBLE, repetitiontype=OPTIONAL"`
	FIINet              *float64 `parquet:"name=fii_net, type=DOUBLE, repetitiontype=OPTIONAL"`
	UpdatedAt           *string  `parquet:"name=u_ts, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	InsertedAt          *string  `parquet:"name=i_ts, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	InsertedAtIST       *string  `parquet:"name=i_ts_ist, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	UpdatedAtIST        *string  `parquet:"name=u_ts_ist, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	LatencyHours        *float64 `parquet:"name=latency_hours, type=DOUBLE, repetitiontype=OPTIONAL"`
	AvailabilitySeconds *float64 `parquet:"name=availability_seconds, type=DOUBLE, repetitiontype=OPTIONAL"`
}

func toParquet(rec flows.FlowRecord) flowParquetRecord {
	return flowParquetRecord{
		RunDate:             rec.RunDate,
		DIIBuy:              amountPtr(rec.DIIBuy),
		DIISell:             amountPtr(rec.DIISell),
		DIINet:              amountPtr(rec.DIINet),
		FIIBuy:              amountPtr(rec.FIIBuy),
		FIISell:             amountPtr(rec.FIISell),
		FIINet:              amountPtr(rec.FIINet),
		UpdatedAt:           rec.UpdatedAt,
		InsertedAt:          rec.InsertedAt,
		InsertedAtIST:       rec.InsertedAtIST,
		UpdatedAtIST:        rec.UpdatedAtIST,
		LatencyHours:        rec.LatencyHours,
		AvailabilitySeconds: rec.AvailabilitySeconds,
	}
}

func amountPtr(a flows.Amount) *float64 {
	if !a.Valid {
		return nil
	}
	f := a.Float()
	return &f
}

// memFile collects parquet output in memory so it can be written or uploaded whole.
type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile {
	return &memFile{buffer: &bytes.Buffer{}}
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, fmt.Errorf("read not supported") }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }
func (m *memFile) Bytes() []byte                             { return m.buffer.Bytes() }

// EncodeParquet serialises records into a single parquet file.
// compression is snappy, gzip or none.
func EncodeParquet(records []flows.FlowRecord, compression string) ([]byte, error) {
	mem := newMemFile()
	pw, err := writer.NewParquetWriter(mem, new(flowParquetRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("create parquet writer: %w", err)
	}

	switch strings.ToLower(compression) {
	case "", "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	case "none", "uncompressed":
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	default:
		pw.WriteStop()
		return nil, fmt.Errorf("unsupported parquet compression %q", compression)
	}

	for _, rec := range records {
		if err := pw.Write(toParquet(rec)); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("write parquet record %s: %w", rec.RunDate, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalize parquet: %w", err)
	}
	return mem.Bytes(), nil
}

package audit

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type parquetRow struct {
	ID         string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Seq        int64  `parquet:"name=seq, type=INT64"`
	Type       string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Account    string `parquet:"name=account, type=BYTE_ARRAY, convertedtype=UTF8"`
	Attributes string `parquet:"name=attributes, type=BYTE_ARRAY, convertedtype=UTF8"`
	LedgerRoot string `parquet:"name=ledger_root, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt  string `parquet:"name=created_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// Export writes the records matching f to w as a snappy-compressed parquet
// file and returns the row count.
func (s *Store) Export(ctx context.Context, w io.Writer, f Filter) (int, error) {
	records, err := s.List(ctx, f)
	if err != nil {
		return 0, err
	}
	return WriteParquet(w, records)
}

// WriteParquet encodes records to w.
func WriteParquet(w io.Writer, records []Record) (int, error) {
	fw := writerfile.NewWriterFile(w)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		return 0, fmt.Errorf("audit: parquet schema: %w", err)
	}
	pw.RowGroupSize = 16 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, rec := range records {
		row := &parquetRow{
			ID:         rec.ID.String(),
			Seq:        int64(rec.Seq),
			Type:       rec.Type,
			Account:    rec.Account,
			Attributes: rec.Attributes,
			LedgerRoot: rec.LedgerRoot,
			CreatedAt:  rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			return 0, fmt.Errorf("audit: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return 0, fmt.Errorf("audit: parquet flush: %w", err)
	}
	return len(records), nil
}

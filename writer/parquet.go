package writer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"marketpulse/models"
)

// cotRow is the on-disk layout of one weekly positioning record.
type cotRow struct {
	Date         int32   `parquet:"name=date, type=INT32, convertedtype=DATE"`
	Asset        string  `parquet:"name=asset, type=BYTE_ARRAY, convertedtype=UTF8"`
	Long         int64   `parquet:"name=long, type=INT64"`
	Short        int64   `parquet:"name=short, type=INT64"`
	LongPercent  float64 `parquet:"name=long_pct, type=DOUBLE"`
	ShortPercent float64 `parquet:"name=short_pct, type=DOUBLE"`
}

const secondsPerDay = 24 * 60 * 60

func toRow(r models.NormalizedRecord) cotRow {
	return cotRow{
		Date:         int32(r.Date.UTC().Unix() / secondsPerDay),
		Asset:        r.Asset,
		Long:         r.Long,
		Short:        r.Short,
		LongPercent:  r.LongPercent,
		ShortPercent: r.ShortPercent,
	}
}

func fromRow(r cotRow) models.NormalizedRecord {
	return models.NormalizedRecord{
		Date:         time.Unix(int64(r.Date)*secondsPerDay, 0).UTC(),
		Asset:        r.Asset,
		Long:         r.Long,
		Short:        r.Short,
		LongPercent:  r.LongPercent,
		ShortPercent: r.ShortPercent,
	}
}

// memoryFile implements source.ParquetFile over a byte slice. Writes append
// to the buffer; Open returns an independent reader over the current bytes.
type memoryFile struct {
	buffer *bytes.Buffer
	reader *bytes.Reader
}

func newMemoryFile() *memoryFile {
	return &memoryFile{buffer: &bytes.Buffer{}}
}

func newMemoryFileFromBytes(data []byte) *memoryFile {
	return &memoryFile{buffer: bytes.NewBuffer(data), reader: bytes.NewReader(data)}
}

func (m *memoryFile) Create(string) (source.ParquetFile, error) {
	return newMemoryFile(), nil
}

func (m *memoryFile) Open(string) (source.ParquetFile, error) {
	return newMemoryFileFromBytes(m.buffer.Bytes()), nil
}

func (m *memoryFile) Seek(offset int64, whence int) (int64, error) {
	if m.reader == nil {
		return 0, errors.New("memory file: seek on write-only file")
	}
	return m.reader.Seek(offset, whence)
}

func (m *memoryFile) Read(b []byte) (int, error) {
	if m.reader == nil {
		return 0, io.EOF
	}
	return m.reader.Read(b)
}

func (m *memoryFile) Write(b []byte) (int, error) {
	return m.buffer.Write(b)
}

func (m *memoryFile) Close() error { return nil }

func (m *memoryFile) Bytes() []byte { return m.buffer.Bytes() }

// writeRecords streams records into pf as snappy-compressed parquet. The
// caller closes pf.
func writeRecords(pf source.ParquetFile, records []models.NormalizedRecord) error {
	pw, err := writer.NewParquetWriter(pf, new(cotRow), 1)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, r := range records {
		if err := pw.Write(toRow(r)); err != nil {
			pw.WriteStop()
			return fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return nil
}

// readRecords decodes every row of pf. The caller closes pf.
func readRecords(pf source.ParquetFile) ([]models.NormalizedRecord, error) {
	pr, err := reader.NewParquetReader(pf, new(cotRow), 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet reader: %w", err)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	rows := make([]cotRow, n)
	if n > 0 {
		if err := pr.Read(&rows); err != nil {
			return nil, fmt.Errorf("failed to read parquet rows: %w", err)
		}
	}

	out := make([]models.NormalizedRecord, len(rows))
	for i, r := range rows {
		out[i] = fromRow(r)
	}
	return out, nil
}

// EncodeParquet renders records as a parquet file held in memory.
func EncodeParquet(records []models.NormalizedRecord) ([]byte, error) {
	mf := newMemoryFile()
	if err := writeRecords(mf, records); err != nil {
		return nil, err
	}
	return mf.Bytes(), nil
}

// DecodeParquet is the inverse of EncodeParquet.
func DecodeParquet(data []byte) ([]models.NormalizedRecord, error) {
	return readRecords(newMemoryFileFromBytes(data))
}

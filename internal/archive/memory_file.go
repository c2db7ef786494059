package archive

import (
	"bytes"

	"github.com/xitongsys/parquet-go/source"
)

// memoryFileWriter implements the ParquetFile interface over a byte buffer,
// so objects are assembled fully in memory before the S3 put.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (m *memoryFileWriter) Create(name string) (source.ParquetFile, error) {
	return m, nil
}

func (m *memoryFileWriter) Open(name string) (source.ParquetFile, error) {
	return m, nil
}

func (m *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	// Write-only usage; seeking is not needed to produce the file.
	return int64(m.buffer.Len()), nil
}

func (m *memoryFileWriter) Read(b []byte) (int, error) {
	return m.buffer.Read(b)
}

func (m *memoryFileWriter) Write(b []byte) (int, error) {
	return m.buffer.Write(b)
}

func (m *memoryFileWriter) Close() error {
	return nil
}

func (m *memoryFileWriter) Bytes() []byte {
	return m.buffer.Bytes()
}

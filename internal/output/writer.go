// Package output provides the interface and implementations for writers
// of run reports
package output

import (
	"fmt"

	"github.com/mpreach/mpreach/internal/config"
	"github.com/mpreach/mpreach/internal/types"
)

// Writer defines the interface for all writers that are responsible
// for writing the report of a run to a specific output.
type Writer interface {
	Write(report *types.RunReport) error
}

// WriterType encapsulates the type of a writer
// See below constants for possible types
type WriterType string

const (
	STDOUT_WRITER_TYPE WriterType = "stdout"
	FILE_WRITER_TYPE   WriterType = "file"
	API_WRITER_TYPE    WriterType = "api"
)

// NewWriter returns a new writer depending on the writer type
func NewWriter(wc *config.WriterConfig) (Writer, error) {
	switch WriterType(wc.Type) {
	case STDOUT_WRITER_TYPE:
		return NewStdoutWriter(wc), nil
	case FILE_WRITER_TYPE:
		return NewFileWriter(wc)
	case API_WRITER_TYPE:
		return NewAPIWriter(wc)
	default:
		return nil, fmt.Errorf("writer of type '%s' not implemented", wc.Type)
	}
}

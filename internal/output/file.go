package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"

	"github.com/mpreach/mpreach/internal/config"
	"github.com/mpreach/mpreach/internal/types"
)

const reportFilename = "report.json"

// FileWriter represents a writer that writes to a file
type FileWriter struct {
	*config.WriterConfig
	logger *slog.Logger
}

// NewFileWriter returns a new FileWriter
func NewFileWriter(wc *config.WriterConfig) (*FileWriter, error) {
	if wc.FileDir == "" {
		return nil, errors.New("filedir needs to be specified for the FileWriter")
	}

	if err := os.MkdirAll(wc.FileDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", wc.FileDir, err)
	}

	return &FileWriter{
		WriterConfig: wc,
		logger:       slog.With(slog.String("writer", string(FILE_WRITER_TYPE))),
	}, nil
}

func (w *FileWriter) Write(report *types.RunReport) error {
	filepath := path.Join(w.FileDir, reportFilename)

	// json.MarshalIndent would replace certain html characters in titles
	// and urls with their unicode escape sequences.
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(report); err != nil {
		return fmt.Errorf("error while encoding report: %w", err)
	}

	var indentBuffer bytes.Buffer
	if err := json.Indent(&indentBuffer, buffer.Bytes(), "", "  "); err != nil {
		return fmt.Errorf("error while indenting json: %w", err)
	}
	if err := os.WriteFile(filepath, indentBuffer.Bytes(), 0644); err != nil {
		return fmt.Errorf("error while writing report to file: %w", err)
	}
	w.logger.Info(fmt.Sprintf("wrote report of %d listings to file %s", len(report.Outcomes), filepath))
	return nil
}

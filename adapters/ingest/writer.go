package ingest

import (
	"bufio"
	"encoding/json"
	"io"
	"os"

	"bellstat/domain/event"
	apperrors "bellstat/internal/errors"
)

// WriteEvents encodes a stream in the JSON Lines form ReadEvents accepts.
func WriteEvents(w io.Writer, s event.Stream) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, e := range s {
		if err := enc.Encode(e); err != nil {
			return apperrors.ExportError("encode event", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return apperrors.ExportError("write events", err)
	}
	return nil
}

// SaveEvents writes a stream to path.
func SaveEvents(path string, s event.Stream) error {
	f, err := os.Create(path)
	if err != nil {
		return apperrors.ExportError("create "+path, err)
	}
	if err := WriteEvents(f, s); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// SaveSync writes a sync artifact that LoadSync reads back unchanged.
func SaveSync(path string, p event.SyncParameters) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return apperrors.ExportError("encode sync", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return apperrors.ExportError("write "+path, err)
	}
	return nil
}

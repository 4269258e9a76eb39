package dataset

import (
	"archive/zip"
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// maxLineSize bounds one JSON Lines record
const maxLineSize = 16 << 20

var (
	// ErrNoDataset is returned when neither a local file nor a URL is available
	ErrNoDataset = errors.New("no dataset file or url configured")
	// ErrEmptyArchive is returned for a zip with no entries
	ErrEmptyArchive = errors.New("dataset archive is empty")
	// ErrMalformedRecord wraps a line that does not decode
	ErrMalformedRecord = errors.New("malformed dataset record")
)

// Load reads records from path. A .zip file is opened and its first entry
// read; anything else is read as JSON Lines directly.
func Load(path string) ([]Record, error) {
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		return loadZip(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer func() { _ = f.Close() }()

	return Decode(f)
}

func loadZip(path string) ([]Record, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset archive: %w", err)
	}
	defer func() { _ = zr.Close() }()

	for _, file := range zr.File {
		if file.FileInfo().IsDir() {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s in archive: %w", file.Name, err)
		}
		records, err := Decode(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file.Name, err)
		}
		return records, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrEmptyArchive, path)
}

// Decode reads JSON Lines records. Blank lines are ignored.
func Decode(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var records []Record
	line := 0
	for scanner.Scan() {
		line++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedRecord, line, err)
		}
		records = append(records, rec)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}

	return records, nil
}

package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/okian/potally/internal/domain/model"
)

// DefaultFilePath is the state file name used by earlier releases.
const DefaultFilePath = "po_counts.json"

// FileBackend stores counts as one JSON object, {"<user_id>": <count>, ...},
// with keys in first-insertion order.
type FileBackend struct {
	path string
}

// NewFileBackend returns a backend writing to path.
func NewFileBackend(path string) *FileBackend {
	if path == "" {
		path = DefaultFilePath
	}
	return &FileBackend{path: path}
}

// Path returns the state file location.
func (b *FileBackend) Path() string { return b.path }

// Load implements Backend.
func (b *FileBackend) Load(ctx context.Context) ([]model.CounterRecord, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", b.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: %s is not valid JSON", ErrCorruptState, b.path)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: %s is not a JSON object", ErrCorruptState, b.path)
	}

	var (
		records []model.CounterRecord
		bad     error
	)
	root.ForEach(func(key, value gjson.Result) bool {
		n, err := strconv.ParseInt(value.Raw, 10, 64)
		if value.Type != gjson.Number || err != nil {
			bad = fmt.Errorf("%w: count for %q is %s", ErrCorruptState, key.String(), value.Raw)
			return false
		}
		records = append(records, model.CounterRecord{UserID: key.String(), Count: n})
		return true
	})
	if bad != nil {
		return nil, bad
	}
	return records, nil
}

// Save implements Backend. The file is replaced atomically via rename.
func (b *FileBackend) Save(ctx context.Context, records []model.CounterRecord) error {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, r := range records {
		if i > 0 {
			buf.WriteString(", ")
		}
		key, err := json.Marshal(r.UserID)
		if err != nil {
			return fmt.Errorf("encode %q: %w", r.UserID, err)
		}
		buf.Write(key)
		buf.WriteString(": ")
		buf.WriteString(strconv.FormatInt(r.Count, 10))
	}
	buf.WriteByte('}')

	dir := filepath.Dir(b.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // best effort after rename

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		return fmt.Errorf("rename to %s: %w", b.path, err)
	}
	return nil
}

// Close implements Backend.
func (b *FileBackend) Close() error { return nil }

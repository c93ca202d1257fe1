package app

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gotovo/pkg/domain"
)

const signatureIDLimit = 10000

// Checkpoint records which ids of one source set are committed.
type Checkpoint struct {
	Done            []string  `json:"done"`
	SourceSignature string    `json:"sourceSignature"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// sourceSignature hashes the record count and the first ids in order, so
// any change to the set or its order yields a new signature.
func sourceSignature(records []domain.RuleRecord) string {
	h := md5.New()
	h.Write([]byte(strconv.Itoa(len(records))))
	for _, record := range records[:min(len(records), signatureIDLimit)] {
		h.Write([]byte(record.ID + "\n"))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// loadCheckpoint returns nil when no readable checkpoint exists.
func loadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, nil
	}
	return &cp, nil
}

func saveCheckpoint(path string, cp Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

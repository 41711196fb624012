// Package memory provides file- and process-backed stores for single-instance
// deployments and local development.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
)

// FileDirectory implements pipeline.Directory over a JSON file holding an
// array of {"id": "...", "regions": [...]} objects. The file is re-read on
// every call so edits take effect on the next cycle.
type FileDirectory struct {
	path string
}

// NewFileDirectory creates a FileDirectory reading path.
func NewFileDirectory(path string) *FileDirectory {
	return &FileDirectory{path: path}
}

func (d *FileDirectory) ListSubscribers(_ context.Context) ([]domain.Subscriber, error) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrDirectoryUnavailable, d.path, err)
	}
	var subs []domain.Subscriber
	if err := json.Unmarshal(data, &subs); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", domain.ErrDirectoryUnavailable, d.path, err)
	}
	if subs == nil {
		subs = []domain.Subscriber{}
	}
	return subs, nil
}

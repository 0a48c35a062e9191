// Package history persists digests of past diagnostic runs.
package history

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/doeshing/sysadvisor/internal/domain"
	"github.com/doeshing/sysadvisor/internal/pkg/filesystem"
	"github.com/doeshing/sysadvisor/internal/ports"
)

// NewStore opens the backend selected by history.backend.
func NewStore(cfg domain.Config) (ports.HistoryRepository, error) {
	path := filesystem.ExpandPath(cfg.History.Path)
	if path == "" {
		return nil, fmt.Errorf("history.path is empty")
	}
	if err := filesystem.EnsureParentDir(path); err != nil {
		return nil, err
	}
	switch cfg.GetHistoryBackend() {
	case domain.HistoryBackendBolt:
		return NewBoltStore(path)
	default:
		return NewSQLiteStore(path)
	}
}

// ExportJSONL writes every record, newest first, as one JSON object per line.
func ExportJSONL(ctx context.Context, repo ports.HistoryRepository, w io.Writer) (int, error) {
	records, err := repo.Records(ctx, 0, "")
	if err != nil {
		return 0, err
	}
	buf := bufio.NewWriter(w)
	encoder := json.NewEncoder(buf)
	for _, rec := range records {
		if err := encoder.Encode(rec); err != nil {
			return 0, err
		}
	}
	return len(records), buf.Flush()
}

// matches reports whether a record mentions search in its query, summary or commands.
func matches(rec domain.HistoryRecord, search string) bool {
	if search == "" {
		return true
	}
	needle := strings.ToLower(search)
	if strings.Contains(strings.ToLower(rec.Query), needle) || strings.Contains(strings.ToLower(rec.Summary), needle) {
		return true
	}
	if rec.Transcript == nil {
		return false
	}
	for _, command := range rec.Transcript.Commands() {
		if strings.Contains(strings.ToLower(command), needle) {
			return true
		}
	}
	return false
}

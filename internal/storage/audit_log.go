package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bastionhq/bastion/pkg/models"
)

// AuditFilter narrows an audit query. Zero-valued fields match everything.
type AuditFilter struct {
	Action string
	Key    string
	Since  time.Time
	Limit  int
}

// AuditStore records every gateway decision. Append must be durable before
// it returns.
type AuditStore interface {
	Append(ctx context.Context, entry models.AuditEntry) error
	Query(ctx context.Context, filter AuditFilter) ([]models.AuditEntry, error)
}

// FileAuditLog is an append-only JSON-lines audit trail. Entries are synced
// to disk on every append so the trail survives a crash.
type FileAuditLog struct {
	path   string
	logger *logrus.Logger
	mu     sync.Mutex
	file   *os.File
}

func NewFileAuditLog(path string, logger *logrus.Logger) (*FileAuditLog, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if path == "" {
		return nil, fmt.Errorf("audit log path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	return &FileAuditLog{path: path, logger: logger, file: f}, nil
}

func (al *FileAuditLog) Append(ctx context.Context, entry models.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid audit entry: %w", err)
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	al.mu.Lock()
	defer al.mu.Unlock()

	if _, err := al.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	if err := al.file.Sync(); err != nil {
		return fmt.Errorf("sync audit log: %w", err)
	}
	return nil
}

func (al *FileAuditLog) Query(ctx context.Context, filter AuditFilter) ([]models.AuditEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	al.mu.Lock()
	defer al.mu.Unlock()

	f, err := os.Open(al.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var entries []models.AuditEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry models.AuditEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			al.logger.Warnf("Skipping corrupt audit line: %v", err)
			continue
		}
		if !matchesFilter(entry, filter) {
			continue
		}
		entries = append(entries, entry)
		if filter.Limit > 0 && len(entries) >= filter.Limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan audit log: %w", err)
	}

	return entries, nil
}

func (al *FileAuditLog) Close() error {
	al.mu.Lock()
	defer al.mu.Unlock()

	if al.file == nil {
		return nil
	}
	err := al.file.Close()
	al.file = nil
	return err
}

func matchesFilter(entry models.AuditEntry, filter AuditFilter) bool {
	if filter.Action != "" && entry.Action != filter.Action {
		return false
	}
	if filter.Key != "" && entry.Key != filter.Key {
		return false
	}
	if !filter.Since.IsZero() && entry.Timestamp.Before(filter.Since) {
		return false
	}
	return true
}

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Storage namespaces. Quarantined objects never share a directory tree with
// primary objects.
const (
	NamespacePrimary    = "artifacts"
	NamespaceQuarantine = "quarantine"
)

const metaSuffix = ".meta.json"

// ObjectMeta is the side metadata persisted next to every stored object.
type ObjectMeta struct {
	Key         string            `json:"key"`
	Namespace   string            `json:"namespace"`
	ContentType string            `json:"contentType,omitempty"`
	Size        int64             `json:"size"`
	Digest      string            `json:"digest,omitempty"`
	Truncated   bool              `json:"truncated,omitempty"`
	StoredAt    time.Time         `json:"storedAt"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ObjectStore is the backing store the gateway writes through.
type ObjectStore interface {
	Put(ctx context.Context, namespace, key string, data []byte, meta ObjectMeta) error
	Get(ctx context.Context, namespace, key string) ([]byte, ObjectMeta, error)
	List(ctx context.Context, namespace, prefix string, max int) ([]ObjectMeta, error)
	Delete(ctx context.Context, namespace, key string) error
}

// LocalStore keeps objects on the local filesystem, one file per object plus
// a JSON metadata side file. Writes go through a temp file and rename so a
// crashed write never leaves a partial object behind.
type LocalStore struct {
	baseDir string
	logger  *logrus.Logger
	mu      sync.RWMutex
}

func NewLocalStore(baseDir string, logger *logrus.Logger) (*LocalStore, error) {
	if logger == nil {
		logger = logrus.New()
	}

	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	for _, ns := range []string{NamespacePrimary, NamespaceQuarantine} {
		if err := os.MkdirAll(filepath.Join(baseDir, ns), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", ns, err)
		}
	}

	return &LocalStore{baseDir: baseDir, logger: logger}, nil
}

func (ls *LocalStore) Put(ctx context.Context, namespace, key string, data []byte, meta ObjectMeta) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := ls.objectPath(namespace, key)
	if err != nil {
		return err
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create object directory: %w", err)
	}

	meta.Key = key
	meta.Namespace = namespace
	meta.Size = int64(len(data))
	if meta.StoredAt.IsZero() {
		meta.StoredAt = time.Now().UTC()
	}

	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("write object %s/%s: %w", namespace, key, err)
	}

	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal object metadata: %w", err)
	}
	if err := writeFileAtomic(path+metaSuffix, metaBytes); err != nil {
		return fmt.Errorf("write object metadata %s/%s: %w", namespace, key, err)
	}

	ls.logger.Debugf("Stored object %s/%s (%d bytes)", namespace, key, len(data))
	return nil
}

func (ls *LocalStore) Get(ctx context.Context, namespace, key string) ([]byte, ObjectMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, ObjectMeta{}, err
	}

	path, err := ls.objectPath(namespace, key)
	if err != nil {
		return nil, ObjectMeta{}, err
	}

	ls.mu.RLock()
	defer ls.mu.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ObjectMeta{}, fmt.Errorf("read object %s/%s: %w", namespace, key, err)
	}

	meta := ObjectMeta{Key: key, Namespace: namespace, Size: int64(len(data))}
	if metaBytes, err := os.ReadFile(path + metaSuffix); err == nil {
		if err := json.Unmarshal(metaBytes, &meta); err != nil {
			ls.logger.Warnf("Corrupt metadata for %s/%s: %v", namespace, key, err)
		}
	}

	return data, meta, nil
}

// List returns metadata for objects whose keys start with prefix, sorted by
// key. max <= 0 means no limit.
func (ls *LocalStore) List(ctx context.Context, namespace, prefix string, max int) ([]ObjectMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root := filepath.Join(ls.baseDir, filepath.Clean(namespace))

	ls.mu.RLock()
	defer ls.mu.RUnlock()

	objects := make([]ObjectMeta, 0, 32)
	err := filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if info.IsDir() || !strings.HasSuffix(path, metaSuffix) {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			ls.logger.Warnf("Failed to read metadata %s: %v", path, err)
			return nil
		}
		var meta ObjectMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			ls.logger.Warnf("Failed to parse metadata %s: %v", path, err)
			return nil
		}
		if prefix != "" && !strings.HasPrefix(meta.Key, prefix) {
			return nil
		}
		objects = append(objects, meta)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk namespace %s: %w", namespace, err)
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	if max > 0 && len(objects) > max {
		objects = objects[:max]
	}
	return objects, nil
}

func (ls *LocalStore) Delete(ctx context.Context, namespace, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := ls.objectPath(namespace, key)
	if err != nil {
		return err
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete object %s/%s: %w", namespace, key, err)
	}
	if err := os.Remove(path + metaSuffix); err != nil && !os.IsNotExist(err) {
		ls.logger.Warnf("Failed to remove metadata for %s/%s: %v", namespace, key, err)
	}
	return nil
}

// objectPath maps a namespace/key pair onto the filesystem, rejecting keys
// that would escape the namespace root.
func (ls *LocalStore) objectPath(namespace, key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("object key is required")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid object key: %s", key)
	}
	return filepath.Join(ls.baseDir, filepath.Clean(namespace), clean), nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}

package ops

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	// ErrReceiptNotFound is returned when no receipt exists for an op id.
	ErrReceiptNotFound = errors.New("operation not found")
	// ErrNoOperations is returned when the log is empty.
	ErrNoOperations = errors.New("no operations recorded")
)

const opIDLayout = "20060102T150405.000000Z"

// GenerateOpID returns a new operation id. Ids sort chronologically as
// plain strings.
func GenerateOpID() string {
	return newOpID(time.Now())
}

func newOpID(t time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:6]
	return t.UTC().Format(opIDLayout) + "-" + suffix
}

// Log is the directory of operation receipts.
type Log struct {
	dir string
	log *zap.Logger
}

// NewLog returns the operation log of the repository at gitDir.
func NewLog(gitDir string, log *zap.Logger) *Log {
	if log == nil {
		log = zap.NewNop()
	}
	return &Log{dir: filepath.Join(gitDir, "stax", "ops"), log: log}
}

// Dir returns the directory receipts are stored in.
func (l *Log) Dir() string {
	return l.dir
}

func (l *Log) path(opID string) string {
	return filepath.Join(l.dir, opID+".json")
}

// Save writes a receipt. The file is replaced atomically so a crash never
// leaves a partially written receipt behind.
func (l *Log) Save(r *Receipt) error {
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return errors.Wrap(err, "failed to create ops directory")
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to serialize receipt")
	}

	tmp, err := os.CreateTemp(l.dir, "."+r.OpID+"-*.tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create receipt file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write receipt")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to sync receipt")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close receipt")
	}
	if err := os.Rename(tmp.Name(), l.path(r.OpID)); err != nil {
		return errors.Wrap(err, "failed to write receipt")
	}

	l.log.Debug("saved receipt", zap.String("op", r.OpID), zap.String("status", string(r.Status)))
	return nil
}

// Load reads the receipt of an operation.
func (l *Log) Load(opID string) (*Receipt, error) {
	data, err := os.ReadFile(l.path(opID))
	if os.IsNotExist(err) {
		return nil, errors.Wrap(ErrReceiptNotFound, opID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read receipt %s", opID)
	}

	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrapf(err, "failed to parse receipt %s", opID)
	}
	return &r, nil
}

// IDs returns all recorded operation ids, newest first.
func (l *Log) IDs() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read ops directory")
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

// List returns all receipts, newest first. Unreadable receipts are
// skipped.
func (l *Log) List() ([]*Receipt, error) {
	ids, err := l.IDs()
	if err != nil {
		return nil, err
	}
	out := make([]*Receipt, 0, len(ids))
	for _, id := range ids {
		r, err := l.Load(id)
		if err != nil {
			l.log.Warn("skipping unreadable receipt", zap.String("op", id), zap.Error(err))
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Latest returns the newest receipt.
func (l *Log) Latest() (*Receipt, error) {
	ids, err := l.IDs()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrNoOperations
	}
	return l.Load(ids[0])
}

// InProgress returns receipts that were never finalized. They belong to
// operations that crashed or are still waiting on a conflict.
func (l *Log) InProgress() ([]*Receipt, error) {
	all, err := l.List()
	if err != nil {
		return nil, err
	}
	var out []*Receipt
	for _, r := range all {
		if r.Status == StatusInProgress {
			out = append(out, r)
		}
	}
	return out, nil
}

// BackupDeleter removes the backup refs of an operation.
type BackupDeleter interface {
	DeleteBackupRefs(opID string) (int, error)
}

// Prune deletes all but the newest keep receipts together with their
// backup refs. In-progress receipts are never pruned. It returns the
// pruned op ids.
func (l *Log) Prune(keep int, backups BackupDeleter) ([]string, error) {
	all, err := l.List()
	if err != nil {
		return nil, err
	}
	if keep < 0 {
		keep = 0
	}

	var pruned []string
	for i, r := range all {
		if i < keep || r.Status == StatusInProgress {
			continue
		}
		if backups != nil {
			if _, err := backups.DeleteBackupRefs(r.OpID); err != nil {
				return pruned, errors.Wrapf(err, "delete backup refs of %s", r.OpID)
			}
		}
		if err := os.Remove(l.path(r.OpID)); err != nil {
			return pruned, errors.Wrapf(err, "delete receipt %s", r.OpID)
		}
		pruned = append(pruned, r.OpID)
	}
	return pruned, nil
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	domain "github.com/workbell/alarm-board/internal/domain/alarm"
)

// Repository defines persistence operations for the scheduler snapshot.
type Repository interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snapshot *Snapshot) error
}

// snapshotFilePermissions is the mode of the snapshot file on disk.
const snapshotFilePermissions = 0o644

// ErrNotFound is returned when the snapshot file does not exist yet.
var ErrNotFound = errors.New("snapshot not found")

// Snapshot is the full persisted state: tenant configuration plus every
// pending alarm. It is written as a whole on each change so a restart can
// rebuild exactly what was running.
type Snapshot struct {
	// Tenants maps tenant ID to its configuration.
	Tenants map[string]*domain.Tenant `json:"tenants"`
	// Alarms are the pending alarms across all tenants.
	Alarms []Record `json:"alarms"`
}

// Record is the wire form of one pending alarm.
type Record struct {
	// TenantID is the configuration scope the alarm belongs to.
	TenantID string `json:"tenant_id"`
	// DestinationID is the endpoint the alarm posts to.
	DestinationID string `json:"destination_id"`
	// OwnerID is the user who created the alarm.
	OwnerID string `json:"owner_id"`
	// Label is the canonical HH:MM string the owner chose.
	Label string `json:"label"`
	// Name is the announced alarm name.
	Name string `json:"name"`
	// Note is optional free text.
	Note string `json:"note,omitempty"`
	// Deadline is the UTC instant the alarm fires at.
	Deadline time.Time `json:"deadline"`
	// CreatedAt is the UTC instant the alarm was accepted.
	CreatedAt time.Time `json:"created_at"`
}

// NewSnapshot returns an empty snapshot ready to be filled.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Tenants: make(map[string]*domain.Tenant),
		Alarms:  make([]Record, 0),
	}
}

// RecordFromAlarm flattens a domain alarm into its wire form.
func RecordFromAlarm(a *domain.Alarm) Record {
	return Record{
		TenantID:      a.TenantID,
		DestinationID: a.DestinationID,
		OwnerID:       a.OwnerID,
		Label:         a.Label,
		Name:          a.Name,
		Note:          a.Note,
		Deadline:      a.Deadline,
		CreatedAt:     a.CreatedAt,
	}
}

// Alarm rebuilds the domain alarm from its wire form.
func (r Record) Alarm() *domain.Alarm {
	return &domain.Alarm{
		Key: domain.Key{
			DestinationID: r.DestinationID,
			OwnerID:       r.OwnerID,
			Label:         r.Label,
		},
		TenantID:  r.TenantID,
		Name:      r.Name,
		Note:      r.Note,
		Deadline:  r.Deadline,
		CreatedAt: r.CreatedAt,
	}
}

// FileRepository persists the snapshot to a JSON file on disk. Writes go
// through a temporary file and a rename so a crash mid-write never leaves
// a truncated snapshot behind.
type FileRepository struct {
	// path is the filesystem location of the snapshot file.
	path string
	// mu serializes writers; the snapshot is always written as a whole.
	mu sync.Mutex
}

// NewFileRepository creates a repository that reads and writes JSON at the
// provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Load reads the snapshot from disk.
func (r *FileRepository) Load(_ context.Context) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read snapshot file: %w", err)
	}

	var snapshot Snapshot
	if err = json.Unmarshal(contents, &snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot file: %w", err)
	}

	if snapshot.Tenants == nil {
		snapshot.Tenants = make(map[string]*domain.Tenant)
	}

	return &snapshot, nil
}

// Save writes the snapshot to disk atomically.
func (r *FileRepository) Save(_ context.Context, snapshot *Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp := r.path + ".tmp"
	if err = os.WriteFile(tmp, data, snapshotFilePermissions); err != nil {
		return fmt.Errorf("write snapshot file: %w", err)
	}

	if err = os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace snapshot file: %w", err)
	}

	return nil
}

package registry

import (
	"sort"
	"sync"

	domain "github.com/workbell/alarm-board/internal/domain/alarm"
)

// Task is the running countdown behind a registered alarm. The registry only
// needs identity and lifecycle control; the scheduler provides the rest.
type Task interface {
	// Cancel asks the task to stop without emitting anything further.
	Cancel()
	// Done is closed once the task's goroutine has exited.
	Done() <-chan struct{}
}

// Entry pairs a registered alarm with its running task.
type Entry struct {
	// Alarm is the registered alarm.
	Alarm *domain.Alarm
	// Task is the countdown running for it.
	Task Task
}

// Registry is the in-memory index of live alarms, one bucket per destination.
// It is the single source of truth for what is currently scheduled; the
// snapshot on disk mirrors it. Each bucket carries its own lock, so traffic
// on one destination never contends with another.
type Registry struct {
	// mu protects the bucket map itself, not the buckets.
	mu sync.RWMutex
	// buckets indexes live entries by destination ID. A bucket outlives its
	// last entry so lock ownership never moves; an empty bucket just means
	// an idle destination.
	buckets map[string]*bucket
	// onMutation, when set, is called with the destination ID after every
	// insert or remove, outside any registry lock.
	onMutation func(destinationID string)
}

// bucket holds one destination's entries under its own lock.
type bucket struct {
	mu      sync.RWMutex
	entries map[domain.Key]*Entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		buckets: make(map[string]*bucket),
	}
}

// SetMutationHook installs the callback fired after every mutation. The
// dashboard layer uses it to schedule a refresh of the touched destination.
func (r *Registry) SetMutationHook(hook func(destinationID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.onMutation = hook
}

// Insert registers an alarm under its key and returns the entry it displaced,
// if any. The caller owns cancelling the displaced task.
func (r *Registry) Insert(a *domain.Alarm, task Task) *Entry {
	b := r.bucketFor(a.DestinationID, true)

	b.mu.Lock()
	prior := b.entries[a.Key]
	b.entries[a.Key] = &Entry{
		Alarm: a.Clone(),
		Task:  task,
	}
	b.mu.Unlock()

	r.notify(a.DestinationID)

	return prior
}

// Remove drops the entry for the key, but only while it still belongs to the
// given task. A finished countdown racing a replacement therefore never
// removes its successor. The removed entry is returned, or nil when the key
// was absent or owned by another task.
func (r *Registry) Remove(key domain.Key, task Task) *Entry {
	b := r.bucketFor(key.DestinationID, false)
	if b == nil {
		return nil
	}

	b.mu.Lock()

	entry, ok := b.entries[key]
	if !ok || entry.Task != task {
		b.mu.Unlock()

		return nil
	}

	delete(b.entries, key)
	b.mu.Unlock()

	r.notify(key.DestinationID)

	return entry
}

// Find returns the entry registered under the key, or nil.
func (r *Registry) Find(key domain.Key) *Entry {
	b := r.bucketFor(key.DestinationID, false)
	if b == nil {
		return nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	entry, ok := b.entries[key]
	if !ok {
		return nil
	}

	return &Entry{
		Alarm: entry.Alarm.Clone(),
		Task:  entry.Task,
	}
}

// ListByDestination returns clones of the destination's alarms in unspecified
// order.
func (r *Registry) ListByDestination(destinationID string) []*domain.Alarm {
	b := r.bucketFor(destinationID, false)
	if b == nil {
		return nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.entries) == 0 {
		return nil
	}

	alarms := make([]*domain.Alarm, 0, len(b.entries))
	for _, entry := range b.entries {
		alarms = append(alarms, entry.Alarm.Clone())
	}

	return alarms
}

// ListByOwner returns clones of the destination's alarms belonging to the
// owner, in unspecified order.
func (r *Registry) ListByOwner(destinationID, ownerID string) []*domain.Alarm {
	b := r.bucketFor(destinationID, false)
	if b == nil {
		return nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var alarms []*domain.Alarm

	for _, entry := range b.entries {
		if entry.Alarm.OwnerID == ownerID {
			alarms = append(alarms, entry.Alarm.Clone())
		}
	}

	return alarms
}

// All returns clones of every registered alarm across destinations.
func (r *Registry) All() []*domain.Alarm {
	var alarms []*domain.Alarm

	for _, b := range r.snapshotBuckets() {
		b.mu.RLock()

		for _, entry := range b.entries {
			alarms = append(alarms, entry.Alarm.Clone())
		}

		b.mu.RUnlock()
	}

	return alarms
}

// Tasks returns the running tasks of every registered alarm.
func (r *Registry) Tasks() []Task {
	var tasks []Task

	for _, b := range r.snapshotBuckets() {
		b.mu.RLock()

		for _, entry := range b.entries {
			tasks = append(tasks, entry.Task)
		}

		b.mu.RUnlock()
	}

	return tasks
}

// DestinationIDs returns the destinations that currently hold alarms, sorted.
func (r *Registry) DestinationIDs() []string {
	snapshot := r.snapshotBuckets()

	ids := make([]string, 0, len(snapshot))

	for id, b := range snapshot {
		b.mu.RLock()
		occupied := len(b.entries) > 0
		b.mu.RUnlock()

		if occupied {
			ids = append(ids, id)
		}
	}

	sort.Strings(ids)

	return ids
}

// Len reports the number of registered alarms across all destinations.
func (r *Registry) Len() int {
	total := 0

	for _, b := range r.snapshotBuckets() {
		b.mu.RLock()
		total += len(b.entries)
		b.mu.RUnlock()
	}

	return total
}

// bucketFor returns the destination's bucket, creating it when asked to.
// Lock order is always the bucket map first, then one bucket, never two
// buckets at once.
func (r *Registry) bucketFor(destinationID string, create bool) *bucket {
	r.mu.RLock()
	b := r.buckets[destinationID]
	r.mu.RUnlock()

	if b != nil || !create {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if b = r.buckets[destinationID]; b == nil {
		b = &bucket{entries: make(map[domain.Key]*Entry)}
		r.buckets[destinationID] = b
	}

	return b
}

// snapshotBuckets copies the bucket map so cross-destination reads iterate
// without holding the map lock.
func (r *Registry) snapshotBuckets() map[string]*bucket {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(map[string]*bucket, len(r.buckets))
	for id, b := range r.buckets {
		snapshot[id] = b
	}

	return snapshot
}

// notify fires the mutation hook, if one is installed.
func (r *Registry) notify(destinationID string) {
	r.mu.RLock()
	hook := r.onMutation
	r.mu.RUnlock()

	if hook != nil {
		hook(destinationID)
	}
}

package services

import "sync"

// HostLocks serializes operations that touch the same database on the same
// server. Backup runs and restores share one instance, so a restore can
// never interleave with a backup of the database it is rewriting. The locks
// are process-local; the one-job-per-database invariant makes cross-process
// contention a non-concern.
type HostLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewHostLocks creates an empty lock table.
func NewHostLocks() *HostLocks {
	return &HostLocks{locks: make(map[string]*sync.Mutex)}
}

// Get returns the mutex for one (server, database) pair, creating it on
// first use.
func (h *HostLocks) Get(serverID, database string) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := serverID + "/" + database
	if h.locks[key] == nil {
		h.locks[key] = &sync.Mutex{}
	}
	return h.locks[key]
}

// Package lock serialises actions touching the same work unit or worker.
package lock

import (
	"fmt"
	"sort"
	"sync"
)

type MutexMap struct {
	mu      sync.Mutex
	mutexes map[string]*sync.Mutex
}

func NewMutexMap() *MutexMap {
	return &MutexMap{
		mutexes: make(map[string]*sync.Mutex),
	}
}

func (m *MutexMap) Lock(key string) {
	m.getMutex(key).Lock()
}

func (m *MutexMap) Unlock(key string) {
	m.getMutex(key).Unlock()
}

// LockAll acquires every key in sorted order and returns the matching
// release func. Duplicate keys are locked once.
func (m *MutexMap) LockAll(keys ...string) func() {
	uniq := make(map[string]struct{}, len(keys))
	sorted := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, seen := uniq[k]; seen {
			continue
		}
		uniq[k] = struct{}{}
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, k := range sorted {
		m.Lock(k)
	}
	return func() {
		for i := len(sorted) - 1; i >= 0; i-- {
			m.Unlock(sorted[i])
		}
	}
}

func (m *MutexMap) getMutex(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	if mu, ok := m.mutexes[key]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	m.mutexes[key] = mu
	return mu
}

func UnitKey(workUnitID uint) string {
	return fmt.Sprintf("unit:%d", workUnitID)
}

func WorkerKey(workerID uint) string {
	return fmt.Sprintf("worker:%d", workerID)
}

func CheckKey(checkID uint) string {
	return fmt.Sprintf("qc-check:%d", checkID)
}

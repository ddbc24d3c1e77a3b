package shared

import (
	"fmt"
	"sync"
)

// LedgerPairKey builds the critical-section key for one (money source, branch) pair.
func LedgerPairKey(source, branch string) string {
	return fmt.Sprintf("ledger:%s:%s:lock", source, branch)
}

// DebtorLockKey builds the critical-section key for one debtor identity.
func DebtorLockKey(kind, partyKey string) string {
	return fmt.Sprintf("debt:%s:%s:lock", kind, partyKey)
}

// KeyedMutex serialises operations per string key. Running-balance appends
// and reindexes share a key per (money source, branch); debt payments share
// a key per identity.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex constructs a KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock acquires the mutex for key and returns the matching unlock func.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

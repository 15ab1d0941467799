package ledger

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
)

// KeyMutex serializes work per ledger key so a check and the matching mark
// happen as one step.
type KeyMutex struct {
	locks *xsync.Map[string, *sync.Mutex]
}

// NewKeyMutex returns an empty KeyMutex.
func NewKeyMutex() *KeyMutex {
	return &KeyMutex{locks: xsync.NewMap[string, *sync.Mutex]()}
}

// Lock locks key and returns the matching unlock.
func (k *KeyMutex) Lock(key string) (unlock func()) {
	mu, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	mu.Lock()
	return mu.Unlock
}

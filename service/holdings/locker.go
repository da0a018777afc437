package holdings

import "sync"

// keyLocker serialises work per key. Keys are dropped from the map once no
// goroutine holds or waits on them.
type keyLocker struct {
	cond   *sync.Cond
	held   map[string]struct{}
	waiter map[string]int
}

func newKeyLocker() *keyLocker {
	return &keyLocker{
		cond:   sync.NewCond(&sync.Mutex{}),
		held:   map[string]struct{}{},
		waiter: map[string]int{},
	}
}

func (k *keyLocker) Lock(key string) {
	k.cond.L.Lock()
	defer k.cond.L.Unlock()
	k.waiter[key]++
	for {
		if _, ok := k.held[key]; ok {
			k.cond.Wait()
			continue
		}
		break
	}
	k.waiter[key]--
	if k.waiter[key] == 0 {
		delete(k.waiter, key)
	}
	k.held[key] = struct{}{}
}

func (k *keyLocker) Unlock(key string) {
	k.cond.L.Lock()
	defer k.cond.L.Unlock()
	if _, ok := k.held[key]; !ok {
		panic("holdings: unlock of unlocked key " + key)
	}
	delete(k.held, key)
	k.cond.Broadcast()
}

func (k *keyLocker) size() int {
	k.cond.L.Lock()
	defer k.cond.L.Unlock()
	return len(k.held) + len(k.waiter)
}

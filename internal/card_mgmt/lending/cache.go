package lending

import "sync"

// stateCache はカードIDmごとの直前操作を保持する。
// 書き込みは対象カードの KeyedMutex を握った取引だけが行うが、
// 読み取り（30秒ルールの事前判定）はロック外からも来るため自前で排他する。
type stateCache struct {
	mu sync.Mutex
	m  map[string]LendingState
}

func newStateCache() *stateCache {
	return &stateCache{m: make(map[string]LendingState)}
}

func (c *stateCache) get(idm string) (LendingState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.m[idm]
	return s, ok
}

func (c *stateCache) put(idm string, s LendingState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[idm] = s
}

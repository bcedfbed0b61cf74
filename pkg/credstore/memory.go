package credstore

import "sync"

// Memory is an in-process Store. It backs tests and the non-interactive
// rendering path, where no persistence layer exists and credentials are
// scoped to the lifetime of the process.
type Memory struct {
	mu   sync.RWMutex
	cred Credential
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Get() Credential {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cred
}

func (m *Memory) Set(bearerToken string, isGuest bool, refreshToken string) {
	cred := normalize(bearerToken, isGuest, refreshToken)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred = cred
}

func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred = Credential{}
}

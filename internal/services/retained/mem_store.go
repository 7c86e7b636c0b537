package retained

import "sync"

// MemStore holds the encoded image in memory. Image() and SetImage() let tests
// inspect or corrupt it.
type MemStore struct {
	mu       sync.Mutex
	image    []byte
	capacity int
	saves    int
}

func NewMemStore(capacity int) *MemStore { return &MemStore{capacity: capacity} }

func (m *MemStore) Load() (*Retained, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.image != nil {
		if r, err := decode(m.image); err == nil && r.Table.Cap() == m.capacity {
			return r, false, nil
		}
	}
	r, err := Defaults(m.capacity)
	return r, true, err
}

func (m *MemStore) Save(r *Retained) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.image = encode(r)
	m.saves++
	return nil
}

func (m *MemStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *MemStore) Image() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.image...)
}

func (m *MemStore) SetImage(b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.image = append([]byte(nil), b...)
}

package episode

import "fmt"

// KeyIDMap records which remote object ID each local object key received.
//
// One map is shared by every dataset of a project run, so an object key
// that appears in several datasets is created once. Entries are never
// removed or rebound. Not safe for concurrent use.
type KeyIDMap struct {
	objects map[string]int
}

// NewKeyIDMap returns an empty map.
func NewKeyIDMap() *KeyIDMap {
	return &KeyIDMap{objects: make(map[string]int)}
}

// Get returns the remote ID bound to key.
func (m *KeyIDMap) Get(key string) (int, bool) {
	id, ok := m.objects[key]
	return id, ok
}

// Add binds key to id. Re-adding the same pair is a no-op; binding an
// existing key to a different id fails with ErrKeyReassigned.
func (m *KeyIDMap) Add(key string, id int) error {
	if prev, ok := m.objects[key]; ok {
		if prev == id {
			return nil
		}
		return fmt.Errorf("%w: %q is %d, refusing %d", ErrKeyReassigned, key, prev, id)
	}
	m.objects[key] = id
	return nil
}

// Len returns the number of bound keys.
func (m *KeyIDMap) Len() int {
	return len(m.objects)
}

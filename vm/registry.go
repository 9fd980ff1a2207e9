package vm

// Register records owner for every slot covered by c. Owners are looked up
// by address with Lookup; their concrete type tells callers which kind of
// chunk an address belongs to.
func (s *ChunkStore) Register(c *Chunk, owner any) {
	first := c.Addr.Slot()
	s.regMu.Lock()
	for i := range uint64(c.slots) {
		s.owners[first+i] = owner
	}
	s.regMu.Unlock()
}

// Unregister removes the owner of every slot covered by c.
func (s *ChunkStore) Unregister(c *Chunk) {
	first := c.Addr.Slot()
	s.regMu.Lock()
	for i := range uint64(c.slots) {
		delete(s.owners, first+i)
	}
	s.regMu.Unlock()
}

// Lookup returns the owner registered for the slot containing a, or nil.
func (s *ChunkStore) Lookup(a Addr) any {
	if a == Null {
		return nil
	}
	s.regMu.RLock()
	owner := s.owners[a.Slot()]
	s.regMu.RUnlock()
	return owner
}

// Registered returns the number of registered slots.
func (s *ChunkStore) Registered() int {
	s.regMu.RLock()
	defer s.regMu.RUnlock()
	return len(s.owners)
}

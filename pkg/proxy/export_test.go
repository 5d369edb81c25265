package proxy

// HeldLocks exposes the number of live path locks to tests.
func (p *Proxy) HeldLocks() int {
	return p.locks.Len()
}

package symbol

// Context records the load-address translation between a module's
// link-time (relative) addresses and the addresses the process actually
// mapped it at. The zero Context performs no translation, which is what
// target-level resolution uses when no process exists yet.
type Context struct {
	LoadAddress uint64
}

// RelToAbs translates a module-relative address to an absolute one.
func (c Context) RelToAbs(rel uint64) uint64 {
	return c.LoadAddress + rel
}

// AbsToRel translates an absolute address back into module-relative form.
func (c Context) AbsToRel(abs uint64) uint64 {
	return abs - c.LoadAddress
}

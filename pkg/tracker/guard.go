package tracker

// Guard gates access to tracked objects: any operation about to touch an
// object goes through it, and released objects are reported together with
// the record of where they died.
type Guard struct {
	set *Set
}

// NewGuard creates a guard over set
func NewGuard(set *Set) *Guard {
	return &Guard{set: set}
}

// Set returns the guarded tracker set
func (g *Guard) Set() *Set {
	return g.set
}

// Check fails with UseAfterDestroyError if obj was released. Objects the
// tracker has never seen pass.
func (g *Guard) Check(kind Kind, obj any) error {
	t, err := g.set.Tracker(kind)
	if err != nil {
		return err
	}
	h, ok := t.Lookup(obj)
	if !ok {
		return nil
	}
	return g.checkHandle(t, h)
}

// CheckHandle fails if h was released or never assigned.
func (g *Guard) CheckHandle(kind Kind, h Handle) error {
	_, err := g.Resolve(kind, h)
	return err
}

// Resolve returns the live object for h.
func (g *Guard) Resolve(kind Kind, h Handle) (any, error) {
	t, err := g.set.Tracker(kind)
	if err != nil {
		return nil, err
	}
	if err := g.checkHandle(t, h); err != nil {
		return nil, err
	}
	return t.ObjectFor(h), nil
}

func (g *Guard) checkHandle(t *Tracker, h Handle) error {
	switch obj := t.ObjectFor(h); obj {
	case nil:
		return &UnresolvedHandleError{Kind: t.kind, Handle: h}
	case Dead:
		rec, _ := t.Destruction(h)
		return &UseAfterDestroyError{Record: rec}
	}
	return nil
}

// Release is the destruction notification entry point. It must be called
// synchronously when the runtime destroys obj. Repeated notifications are
// ignored.
func (g *Guard) Release(kind Kind, obj any, note string) (bool, error) {
	t, err := g.set.Tracker(kind)
	if err != nil {
		return false, err
	}
	return t.Release(obj, note), nil
}

package vfs

// LockDirectories locks a and b the way Move does and returns their
// children snapshots with the matching unlock.
func LockDirectories(a, b *Directory) (aIDs, bIDs []FileID, unlock func(), err error) {
	ar, err := a.resolve()
	if err != nil {
		return nil, nil, nil, err
	}
	br, err := b.resolve()
	if err != nil {
		return nil, nil, nil, err
	}
	first, second := ar.st.dir, br.st.dir
	if b.id < a.id {
		first, second = second, first
	}
	first.mu.Lock()
	second.mu.Lock()
	unlock = func() {
		second.mu.Unlock()
		first.mu.Unlock()
	}
	return ar.st.dir.Children().IDs(), br.st.dir.Children().IDs(), unlock, nil
}

// TransplantRecord runs the locked step of Move for h, from oldParent to
// newParent.
func TransplantRecord(h Handle, oldParent, newParent *Directory) error {
	_, _, unlock, err := LockDirectories(oldParent, newParent)
	if err != nil {
		return err
	}
	defer unlock()
	_, _, err = oldParent.v.transplantLocked(h.ID(), oldParent.id, newParent.id)
	return err
}

// SetNameID overwrites the name id cached in h's slot and returns the
// previous one.
func SetNameID(h Handle, nameID int32) int32 {
	e := entryOf(h)
	old := e.seg.nameID(e.id)
	e.seg.setNameID(e.id, nameID)
	return old
}

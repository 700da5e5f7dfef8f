package protocol

// Guard predicates. They are checked before any state is touched and must be
// called with l.mu held.

func (l *Ledger) requireOwner(caller Account) error {
	if caller != l.owner {
		return ErrNotOwner
	}
	return nil
}

func (l *Ledger) requireProvider(caller Account) error {
	if !l.providers[caller] {
		return ErrNotProvider
	}
	return nil
}

func (l *Ledger) requireNotPaused() error {
	if l.paused {
		return ErrPaused
	}
	return nil
}

// TransferOwnership hands the ledger to newOwner.
func (l *Ledger) TransferOwnership(caller, newOwner Account) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireOwner(caller); err != nil {
		return callError("transferOwnership", err, caller, newOwner)
	}
	if newOwner == (Account{}) {
		return callError("transferOwnership", ErrInvalidArgument, caller, newOwner)
	}

	old := l.owner
	l.owner = newOwner
	l.emit(Event{
		Kind:          EventOwnershipChanged,
		PreviousOwner: accountPtr(old),
		Account:       accountPtr(newOwner),
	})
	return nil
}

// AddProvider grants account the provider role. Adding a member is a no-op.
func (l *Ledger) AddProvider(caller, account Account) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireOwner(caller); err != nil {
		return callError("addProvider", err, caller, account)
	}
	if l.providers[account] {
		return nil
	}

	l.providers[account] = true
	l.emit(Event{Kind: EventProviderAdded, Account: accountPtr(account)})
	return nil
}

// RemoveProvider revokes the provider role. Removing a non-member is a no-op.
// Cooldown stamps of the account are kept.
func (l *Ledger) RemoveProvider(caller, account Account) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireOwner(caller); err != nil {
		return callError("removeProvider", err, caller, account)
	}
	if !l.providers[account] {
		return nil
	}

	delete(l.providers, account)
	l.emit(Event{Kind: EventProviderRemoved, Account: accountPtr(account)})
	return nil
}

// SetPaused sets the pause flag. An event is emitted on every call.
func (l *Ledger) SetPaused(caller Account, paused bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireOwner(caller); err != nil {
		return callError("setPaused", err, caller, paused)
	}

	l.paused = paused
	l.emit(Event{Kind: EventPauseToggled, Paused: &paused})
	return nil
}

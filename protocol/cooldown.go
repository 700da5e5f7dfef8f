package protocol

type cooldownKey struct {
	account Account
	kind    ActionKind
}

// checkAndStamp rejects the action if the account acted in the same lane less
// than cooldownSeconds ago, otherwise records now as its last action.
// The stamp is not rolled back if the surrounding operation fails afterwards.
func (l *Ledger) checkAndStamp(account Account, kind ActionKind) error {
	now := l.unixNow()
	key := cooldownKey{account, kind}
	if last, ok := l.lastAction[key]; ok && (now < last || now-last < l.cooldownSeconds) {
		return ErrCooldownActive
	}
	l.lastAction[key] = now
	return nil
}

// SetCooldown changes the spacing between same-lane actions. The new value
// applies to existing stamps as well.
func (l *Ledger) SetCooldown(caller Account, seconds uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireOwner(caller); err != nil {
		return callError("setCooldown", err, caller, seconds)
	}

	l.cooldownSeconds = seconds
	l.emit(Event{Kind: EventCooldownChanged, CooldownSeconds: &seconds})
	return nil
}

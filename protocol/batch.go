package protocol

// OpenBatch opens the current batch, or advances to a new one if a batch is
// already open. The implicitly closed batch emits no close event.
func (l *Ledger) OpenBatch(caller Account) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireOwner(caller); err != nil {
		return callError("openBatch", err, caller)
	}
	if err := l.requireNotPaused(); err != nil {
		return callError("openBatch", err, caller)
	}

	if l.batchOpen {
		l.batchID++
	}
	l.batchOpen = true
	l.emit(Event{Kind: EventBatchOpened, BatchID: l.batchID})
	return nil
}

// CloseBatch closes the open batch. Closing a closed batch is a no-op.
func (l *Ledger) CloseBatch(caller Account) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireOwner(caller); err != nil {
		return callError("closeBatch", err, caller)
	}
	if err := l.requireNotPaused(); err != nil {
		return callError("closeBatch", err, caller)
	}
	if !l.batchOpen {
		return nil
	}

	l.batchOpen = false
	l.emit(Event{Kind: EventBatchClosed, BatchID: l.batchID})
	return nil
}

func (l *Ledger) requireBatchOpen() error {
	if !l.batchOpen {
		return ErrBatchNotOpen
	}
	return nil
}

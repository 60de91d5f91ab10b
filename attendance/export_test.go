package attendance

// Sizes of the in-process lock and memo tables, for tests.

func (e *Engine) LiveEmployeeLocks() int { return e.employees.size() }

func (l *NotificationLedger) LiveLocks() int { return l.keys.size() }

func (l *NotificationLedger) MemoLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.memo)
}

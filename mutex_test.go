package threading

import (
	"errors"
	"testing"
	"time"
)

func TestMutex_lockUnlock(t *testing.T) {
	m := NewMutex()
	if err := m.Lock(); err != nil {
		t.Fatal(err)
	}
	if err := m.Unlock(); err != nil {
		t.Fatal(err)
	}
}

func TestMutex_tryLockBusy(t *testing.T) {
	m := NewMutex()
	if err := m.TryLock(); err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() {
		done <- m.TryLock()
	}()
	if err := <-done; !errors.Is(err, ErrBusy) {
		t.Errorf(`expected ErrBusy, got %v`, err)
	}
	if err := m.Unlock(); err != nil {
		t.Fatal(err)
	}
	go func() {
		done <- m.TryLock()
	}()
	if err := <-done; err != nil {
		t.Errorf(`expected success after unlock, got %v`, err)
	}
}

func TestMutex_lockTimeout(t *testing.T) {
	m := NewMutex()
	if err := m.Lock(); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		done <- m.LockTimeout(time.Millisecond * 20)
	}()
	if err := <-done; !errors.Is(err, ErrTimeout) {
		t.Errorf(`expected ErrTimeout, got %v`, err)
	}

	go func() {
		done <- m.LockTimeout(time.Second * 5)
	}()
	if err := m.Unlock(); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Errorf(`expected success, got %v`, err)
	}
}

func TestMutex_lockTimeoutNonPositive(t *testing.T) {
	m := NewMutex()
	if err := m.LockTimeout(0); err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() {
		done <- m.LockTimeout(-time.Second)
	}()
	if err := <-done; !errors.Is(err, ErrTimeout) {
		t.Errorf(`expected ErrTimeout, got %v`, err)
	}
}

func TestMutex_recursiveReentry(t *testing.T) {
	m := NewRecursiveMutex()
	if !m.IsRecursive() {
		t.Fatal(`expected recursive`)
	}
	if err := m.Lock(); err != nil {
		t.Fatal(err)
	}
	if err := m.Lock(); err != nil {
		t.Fatal(err)
	}
	if err := m.TryLock(); err != nil {
		t.Fatal(err)
	}

	// still held until unlocks match locks
	busy := make(chan error, 1)
	go func() {
		busy <- m.TryLock()
	}()
	if err := <-busy; !errors.Is(err, ErrBusy) {
		t.Fatalf(`expected ErrBusy, got %v`, err)
	}

	for i := 0; i < 3; i++ {
		if err := m.Unlock(); err != nil {
			t.Fatal(err)
		}
	}
	go func() {
		busy <- m.TryLock()
	}()
	if err := <-busy; err != nil {
		t.Fatalf(`expected success after final unlock, got %v`, err)
	}
}

func TestMutex_recursiveUnlockNotOwner(t *testing.T) {
	m := NewRecursiveMutex()
	if err := m.Lock(); err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() {
		done <- m.Unlock()
	}()
	if err := <-done; !errors.Is(err, ErrMisc) {
		t.Errorf(`expected ErrMisc, got %v`, err)
	}
}

func TestMutex_unlockUnlocked(t *testing.T) {
	m := NewMutex()
	if err := m.Unlock(); !errors.Is(err, ErrMisc) {
		t.Errorf(`expected ErrMisc, got %v`, err)
	}
}

func TestMutex_scopeReleasesOnPanic(t *testing.T) {
	m := NewMutex()
	func() {
		defer func() {
			if recover() == nil {
				t.Error(`expected panic`)
			}
		}()
		_ = m.Scope(func() {
			panic(`boom`)
		})
	}()
	if err := m.TryLock(); err != nil {
		t.Errorf(`expected mutex released after panic, got %v`, err)
	}
}

func TestMutex_recreateIfLocked(t *testing.T) {
	m := NewMutex()
	if m.RecreateIfLocked() {
		t.Error(`expected no replacement of an unlocked mutex`)
	}
	if err := m.TryLock(); err != nil {
		t.Fatal(err)
	}
	if !m.RecreateIfLocked() {
		t.Error(`expected replacement of a locked mutex`)
	}
	if err := m.TryLock(); err != nil {
		t.Errorf(`expected fresh mutex acquirable, got %v`, err)
	}
}

func TestMutex_zeroValueInvalid(t *testing.T) {
	var m Mutex
	if err := m.Lock(); !errors.Is(err, ErrInvalid) {
		t.Errorf(`expected ErrInvalid, got %v`, err)
	}
	if err := m.TryLock(); !errors.Is(err, ErrInvalid) {
		t.Errorf(`expected ErrInvalid, got %v`, err)
	}
	if err := m.Unlock(); !errors.Is(err, ErrInvalid) {
		t.Errorf(`expected ErrInvalid, got %v`, err)
	}
	if (*Mutex)(nil).IsRecursive() {
		t.Error(`expected nil mutex not recursive`)
	}
}

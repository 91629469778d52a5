package app

import (
	"context"
	"log"
	"time"
)

// The autosave scheduler is a plain debounce: every mutation re-arms a
// one-shot timer, so a burst of edits produces a single round-trip after
// the quiet period. A manual save bypasses the timer entirely.

// armAutosaveLocked (re)starts the session's debounce timer. Caller holds
// session.mu.
func (s *Service) armAutosaveLocked(session *editSession) {
	if session.timer != nil {
		session.timer.Stop()
	}
	delay := s.cfg.AutosaveDelay
	if delay <= 0 {
		delay = 3 * time.Second
	}
	session.timer = time.AfterFunc(delay, func() {
		s.autosaveFire(session)
	})
}

// autosaveFire runs when the quiet period elapses. A fire during an
// in-flight save coalesces into the depth-one pending slot instead of
// launching a second round-trip.
func (s *Service) autosaveFire(session *editSession) {
	session.mu.Lock()
	if !session.doc.Dirty {
		session.mu.Unlock()
		return
	}
	if session.saving {
		session.pending = true
		session.mu.Unlock()
		return
	}
	session.mu.Unlock()

	if err := s.performSave(context.Background(), session); err != nil {
		log.Printf("app: autosave for session %s: %v", session.id, err)
	}
}

// Save is the manual trigger (keyboard shortcut, save button). It cancels
// any pending autosave so the round-trip is not duplicated, and coalesces
// with an in-flight save rather than running alongside it.
func (s *Service) Save(ctx context.Context, sessionID string) (State, error) {
	session, err := s.session(sessionID)
	if err != nil {
		return State{}, err
	}

	session.mu.Lock()
	if session.timer != nil {
		session.timer.Stop()
		session.timer = nil
	}
	session.mu.Unlock()

	err = s.performSave(ctx, session)
	return s.stateOf(session), err
}

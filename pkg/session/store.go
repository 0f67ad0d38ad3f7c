package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/quota-bridge/portal/pkg/auth"
	"github.com/quota-bridge/portal/pkg/kv"
)

// ErrNoSession is returned by UpdateIdentity when the realm has no identity
// to update.
var ErrNoSession = errors.New("session: realm has no identity")

type slot struct {
	identity auth.Identity
	session  auth.Session
}

// Store is the authoritative record of which identity, if any, is signed in
// to each realm. It is safe for concurrent use.
type Store struct {
	backend kv.Store
	logger  *slog.Logger

	// writeMu serializes mutations so a persisted write and its in-memory
	// swap are never interleaved with another mutation.
	writeMu sync.Mutex

	mu    sync.RWMutex
	slots map[auth.Realm]slot

	onChange func(realm auth.Realm)
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithChangeHook registers fn to run after every successful mutation of a realm.
func WithChangeHook(fn func(realm auth.Realm)) StoreOption {
	return func(s *Store) {
		s.onChange = fn
	}
}

// NewStore creates a Store persisting to backend. The store starts empty;
// call Restore to load persisted slots.
func NewStore(backend kv.Store, logger *slog.Logger, opts ...StoreOption) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		backend: backend,
		logger:  logger.With("component", "session_store"),
		slots:   make(map[auth.Realm]slot, 2),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetIdentity records identity and session for session.Realm.
// The slot is persisted first; the in-memory pair changes only if that write
// succeeds, so the store holds both or neither.
func (s *Store) SetIdentity(ctx context.Context, identity auth.Identity, sess auth.Session) error {
	if err := auth.Check(identity, sess); err != nil {
		return err
	}

	data, err := encodeSlot(identity, sess)
	if err != nil {
		return fmt.Errorf("failed to encode %s slot: %w", sess.Realm, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.backend.Set(ctx, sess.Realm.StorageKey(), data); err != nil {
		return fmt.Errorf("failed to persist %s slot: %w", sess.Realm, err)
	}

	s.mu.Lock()
	s.slots[sess.Realm] = slot{identity: identity, session: sess}
	s.mu.Unlock()

	s.logger.Debug("identity set",
		"realm", sess.Realm,
		"subject_id", identity.SubjectID,
		"cookie_session", sess.UsesCookie())
	s.changed(sess.Realm)
	return nil
}

// UpdateIdentity replaces the identity of an existing slot, keeping its
// session. The subject and role must not change.
func (s *Store) UpdateIdentity(ctx context.Context, identity auth.Identity) error {
	realm := identity.Role.Realm()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	cur, ok := s.slots[realm]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSession, realm)
	}
	if cur.identity.SubjectID != identity.SubjectID {
		return fmt.Errorf("%w: subject changed from %q to %q", auth.ErrInvalidIdentity, cur.identity.SubjectID, identity.SubjectID)
	}
	if err := auth.Check(identity, cur.session); err != nil {
		return err
	}

	data, err := encodeSlot(identity, cur.session)
	if err != nil {
		return fmt.Errorf("failed to encode %s slot: %w", realm, err)
	}
	if err := s.backend.Set(ctx, realm.StorageKey(), data); err != nil {
		return fmt.Errorf("failed to persist %s slot: %w", realm, err)
	}

	s.mu.Lock()
	s.slots[realm] = slot{identity: identity, session: cur.session}
	s.mu.Unlock()

	s.logger.Debug("identity updated", "realm", realm, "subject_id", identity.SubjectID)
	s.changed(realm)
	return nil
}

// Clear removes the identity of one realm from memory and from durable
// storage. The other realm is never touched. The in-memory slot is dropped
// even when the durable delete fails; that failure is returned.
func (s *Store) Clear(ctx context.Context, realm auth.Realm) error {
	if !realm.Valid() {
		return fmt.Errorf("session: unknown realm %q", realm)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	_, had := s.slots[realm]
	delete(s.slots, realm)
	s.mu.Unlock()

	err := s.backend.Delete(ctx, realm.StorageKey())
	if err != nil {
		s.logger.Warn("failed to delete persisted slot", "realm", realm, "error", err)
		err = fmt.Errorf("failed to delete %s slot: %w", realm, err)
	}

	if had {
		s.logger.Debug("identity cleared", "realm", realm)
	}
	s.changed(realm)
	return err
}

// Restore replaces the in-memory slots with what durable storage holds.
// Corrupt slots are purged and treated as absent. Backend read failures leave
// that realm absent and are returned joined. Restore is idempotent.
func (s *Store) Restore(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	restored := make(map[auth.Realm]slot, 2)
	var errs []error

	for _, realm := range auth.Realms {
		data, err := s.backend.Get(ctx, realm.StorageKey())
		if err != nil {
			s.logger.Warn("failed to read persisted slot", "realm", realm, "error", err)
			errs = append(errs, fmt.Errorf("failed to read %s slot: %w", realm, err))
			continue
		}
		if data == nil {
			continue
		}

		identity, sess, err := decodeSlot(realm, data)
		if err != nil {
			s.logger.Warn("purging corrupt session slot", "realm", realm, "error", err)
			if derr := s.backend.Delete(ctx, realm.StorageKey()); derr != nil {
				s.logger.Warn("failed to purge corrupt slot", "realm", realm, "error", derr)
			}
			continue
		}
		restored[realm] = slot{identity: identity, session: sess}
	}

	s.mu.Lock()
	s.slots = restored
	s.mu.Unlock()

	s.logger.Debug("session slots restored", "realms", len(restored))
	return errors.Join(errs...)
}

// IsAuthenticated reports whether realm holds a non-empty identity and session.
func (s *Store) IsAuthenticated(realm auth.Realm) bool {
	_, _, ok := s.Get(realm)
	return ok
}

// Get returns a snapshot of realm's identity and session.
func (s *Store) Get(realm auth.Realm) (auth.Identity, auth.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sl, ok := s.slots[realm]
	if !ok || sl.identity.SubjectID == "" || sl.session.Token == "" {
		return auth.Identity{}, auth.Session{}, false
	}
	return sl.identity, sl.session, true
}

// Active returns the identity that applies to a navigation whose target
// belongs to preferred: that realm's identity if present, else the other
// realm's.
func (s *Store) Active(preferred auth.Realm) (auth.Identity, auth.Session, bool) {
	if id, sess, ok := s.Get(preferred); ok {
		return id, sess, true
	}
	return s.Get(preferred.Other())
}

// Realms returns the realms that currently hold an identity.
func (s *Store) Realms() []auth.Realm {
	var out []auth.Realm
	for _, realm := range auth.Realms {
		if s.IsAuthenticated(realm) {
			out = append(out, realm)
		}
	}
	return out
}

func (s *Store) changed(realm auth.Realm) {
	if s.onChange != nil {
		s.onChange(realm)
	}
}

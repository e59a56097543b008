// Package keystore holds the transport keys of every paired contact and
// recognises incoming connections by their tags.
//
// For each (contact, transport) the store keeps the previous, current and
// next rotation windows and, per window and direction, the tags of the
// ReorderingWindow streams it expects next. Those tags sit in one map, so
// recognising a tag is a single lookup however many contacts there are. All
// state is guarded by one lock: a rotation never runs in the middle of a
// recognition.
package keystore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"e2e_pairing/internal/cryptographic"
	"e2e_pairing/internal/model"
	"e2e_pairing/internal/protocol/transportkeys"
	"e2e_pairing/internal/utils/log"
)

var (
	ErrUnknownKeys    = errors.New("no transport keys for contact and transport")
	ErrInvalidKeys    = errors.New("transport keys must hold three windows")
	ErrInvalidContact = errors.New("contact id must be non-empty and must not contain '/'")
)

type (
	Tag [transportkeys.TagLength]byte

	// TagContext describes a recognised incoming tag.
	TagContext struct {
		ContactID    model.ContactID
		TransportID  model.TransportID
		Period       uint64
		StreamNumber uint64
		SentByAlice  bool
		// Reflected is set when the tag is one we would send ourselves.
		Reflected bool
		// FrameKey decrypts the stream. It is erased when the window rotates out.
		FrameKey model.SecretKey
	}

	// StreamContext is everything needed to open an outgoing stream.
	StreamContext struct {
		ContactID    model.ContactID
		TransportID  model.TransportID
		Period       uint64
		StreamNumber uint64
		Tag          Tag
		FrameKey     model.SecretKey
	}

	entryKey struct {
		contact   model.ContactID
		transport model.TransportID
	}

	entry struct {
		contact  model.ContactID
		keys     *model.TransportKeys
		outgoing uint64
		// incoming reordering windows by period, indexed by direction
		// (1 for streams sent by alice)
		incoming map[uint64]*[2]reorderingWindow
		tags     []Tag
	}

	tagRef struct {
		e           *entry
		period      uint64
		sentByAlice bool
		stream      uint64
	}

	Store struct {
		crypto    *cryptographic.Component
		persister Persister
		sealKey   model.SecretKey

		mu      sync.RWMutex
		entries map[entryKey]*entry
		tags    map[Tag]tagRef
	}
)

// NewStore returns an empty store. With a nil persister the store lives in
// memory only; otherwise every change is sealed under sealKey and saved.
func NewStore(c *cryptographic.Component, persister Persister, sealKey model.SecretKey) *Store {
	return &Store{
		crypto:    c,
		persister: persister,
		sealKey:   sealKey,
		entries:   make(map[entryKey]*entry),
		tags:      make(map[Tag]tagRef),
	}
}

// CheckContactID reports whether id can name a stored key set. The contact
// id is the part of the record name before the first '/'.
func CheckContactID(id model.ContactID) error {
	if id == "" || strings.Contains(string(id), "/") {
		return fmt.Errorf("%w: %q", ErrInvalidContact, id)
	}
	return nil
}

// AddKeys installs keys for contact, replacing and erasing any keys already
// held for the same transport. The store takes ownership of keys, and erases
// them if they are rejected.
func (s *Store) AddKeys(ctx context.Context, contact model.ContactID, keys *model.TransportKeys) error {
	if keys == nil || keys.Previous == nil || keys.Current == nil || keys.Next == nil {
		keys.Erase()
		return ErrInvalidKeys
	}
	if err := CheckContactID(contact); err != nil {
		keys.Erase()
		return err
	}
	e := &entry{
		contact:  contact,
		keys:     keys,
		incoming: make(map[uint64]*[2]reorderingWindow),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := entryKey{contact, keys.TransportID}
	if old, ok := s.entries[k]; ok {
		s.unindex(old)
		if old.keys != keys {
			old.keys.Erase()
		}
	}
	s.entries[k] = e
	if err := s.index(e); err != nil {
		return err
	}
	log.Info("transport keys added",
		zap.String("contact", string(contact)),
		zap.String("transport", string(keys.TransportID)),
		zap.Uint64("period", keys.Period()))
	return s.save(ctx, e)
}

// Rotate advances every key set to period. Key sets already at or past
// period are left alone. It returns how many key sets moved.
func (s *Store) Rotate(ctx context.Context, period uint64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rotated := 0
	var errs []error
	for _, e := range s.entries {
		if !transportkeys.RotateTransportKeys(s.crypto, e.keys, period) {
			continue
		}
		rotated++
		e.outgoing = 0
		s.unindex(e)
		for p := range e.incoming {
			if p < e.keys.Previous.Period {
				delete(e.incoming, p)
			}
		}
		if err := s.index(e); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.save(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	if rotated > 0 {
		log.Debug("transport keys rotated", zap.Int("count", rotated), zap.Uint64("period", period))
	}
	return rotated, errors.Join(errs...)
}

// Recognize looks tag up among the expected tags of every window and
// direction. A match is consumed: the same tag is not recognised twice.
func (s *Store) Recognize(tag []byte) (TagContext, bool) {
	if len(tag) < transportkeys.TagLength {
		return TagContext{}, false
	}
	var t Tag
	copy(t[:], tag)

	s.mu.Lock()
	defer s.mu.Unlock()

	ref, ok := s.tags[t]
	if !ok {
		return TagContext{}, false
	}
	e := ref.e
	w := windowFor(e.keys, ref.period)
	if w == nil {
		return TagContext{}, false
	}
	s.incomingFor(e, ref.period)[direction(ref.sentByAlice)].markSeen(ref.stream)
	s.unindex(e)
	if err := s.index(e); err != nil {
		log.Error("reindex tags", zap.Error(err))
	}
	return TagContext{
		ContactID:    e.contact,
		TransportID:  e.keys.TransportID,
		Period:       ref.period,
		StreamNumber: ref.stream,
		SentByAlice:  ref.sentByAlice,
		Reflected:    ref.sentByAlice == e.keys.Alice,
		FrameKey:     w.FrameKey(ref.sentByAlice),
	}, true
}

// NextOutgoing allocates the next stream number in the current window and
// returns the tag and frame key for it. The counter is saved before the
// stream is handed out so a number is never reused after a restart.
func (s *Store) NextOutgoing(ctx context.Context, contact model.ContactID, transport model.TransportID) (*StreamContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[entryKey{contact, transport}]
	if !ok {
		return nil, ErrUnknownKeys
	}
	curr := e.keys.Current
	sc := &StreamContext{
		ContactID:    contact,
		TransportID:  transport,
		Period:       curr.Period,
		StreamNumber: e.outgoing,
		FrameKey:     curr.FrameKey(e.keys.Alice),
	}
	if err := transportkeys.EncodeTag(sc.Tag[:], curr.TagKey, e.keys.Alice, e.outgoing); err != nil {
		return nil, err
	}
	e.outgoing++
	if err := s.save(ctx, e); err != nil {
		e.outgoing--
		return nil, err
	}
	return sc, nil
}

// RemoveContact erases and forgets every key set of contact.
func (s *Store) RemoveContact(ctx context.Context, contact model.ContactID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for k, e := range s.entries {
		if k.contact != contact {
			continue
		}
		s.unindex(e)
		e.keys.Erase()
		delete(s.entries, k)
		if s.persister != nil {
			if err := s.persister.Delete(ctx, recordKey(k)); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Keys returns a view of the key set for (contact, transport). The view
// shares key buffers with the store and must not be erased by the caller.
func (s *Store) Keys(contact model.ContactID, transport model.TransportID) (*model.TransportKeys, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[entryKey{contact, transport}]
	if !ok {
		return nil, false
	}
	view := *e.keys
	prev, curr, next := *e.keys.Previous, *e.keys.Current, *e.keys.Next
	view.Previous, view.Current, view.Next = &prev, &curr, &next
	return &view, true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close erases every key held.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		e.keys.Erase()
		delete(s.entries, k)
	}
	clear(s.tags)
}

func (s *Store) incomingFor(e *entry, period uint64) *[2]reorderingWindow {
	w, ok := e.incoming[period]
	if !ok {
		w = &[2]reorderingWindow{}
		e.incoming[period] = w
	}
	return w
}

// index computes the expected tags of e. Must hold s.mu.
func (s *Store) index(e *entry) error {
	e.tags = e.tags[:0]
	for _, w := range e.keys.Windows() {
		windows := s.incomingFor(e, w.Period)
		for _, sentByAlice := range []bool{false, true} {
			for _, n := range windows[direction(sentByAlice)].unseen() {
				var t Tag
				if err := transportkeys.EncodeTag(t[:], w.TagKey, sentByAlice, n); err != nil {
					return fmt.Errorf("encode tag: %w", err)
				}
				s.tags[t] = tagRef{e: e, period: w.Period, sentByAlice: sentByAlice, stream: n}
				e.tags = append(e.tags, t)
			}
		}
	}
	return nil
}

func (s *Store) unindex(e *entry) {
	for _, t := range e.tags {
		if ref, ok := s.tags[t]; ok && ref.e == e {
			delete(s.tags, t)
		}
	}
	e.tags = e.tags[:0]
}

func windowFor(keys *model.TransportKeys, period uint64) *model.RotationPeriodKeys {
	for _, w := range keys.Windows() {
		if w != nil && w.Period == period {
			return w
		}
	}
	return nil
}

func direction(sentByAlice bool) int {
	if sentByAlice {
		return 1
	}
	return 0
}

package keystore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"e2e_pairing/internal/cryptographic/encryption"
	"e2e_pairing/internal/cryptographic/kdf"
	"e2e_pairing/internal/model"
	"e2e_pairing/internal/utils/log"
	"e2e_pairing/internal/utils/memzero"
)

const sealKeyInfo = "e2e_pairing/keystore/SEAL_KEY"

// Persister stores sealed key sets by name. Implementations never see key
// material in the clear.
type Persister interface {
	Save(ctx context.Context, name string, blob []byte) error
	Load(ctx context.Context) (map[string][]byte, error)
	Delete(ctx context.Context, name string) error
}

type (
	windowRecord struct {
		Period     uint64 `cbor:"1,keyasint"`
		TagKey     []byte `cbor:"2,keyasint"`
		AliceFrame []byte `cbor:"3,keyasint"`
		BobFrame   []byte `cbor:"4,keyasint"`
	}

	incomingRecord struct {
		Period  uint64              `cbor:"1,keyasint"`
		Windows [2]reorderingWindow `cbor:"2,keyasint"`
	}

	keySetRecord struct {
		Contact   string           `cbor:"1,keyasint"`
		Transport string           `cbor:"2,keyasint"`
		Alice     bool             `cbor:"3,keyasint"`
		Windows   [3]windowRecord  `cbor:"4,keyasint"`
		Outgoing  uint64           `cbor:"5,keyasint"`
		Incoming  []incomingRecord `cbor:"6,keyasint"`
	}
)

// DeriveSealKey derives the key that seals persisted key sets from the
// configured storage secret.
func DeriveSealKey(secret []byte) (model.SecretKey, error) {
	if len(secret) == 0 {
		return model.SecretKey{}, errors.New("empty storage secret")
	}
	buf := make([]byte, model.SecretKeyLength)
	defer memzero.Zero(buf)
	if _, err := kdf.HKDF(secret, nil, []byte(sealKeyInfo), buf); err != nil {
		return model.SecretKey{}, fmt.Errorf("derive seal key: %w", err)
	}
	return model.NewSecretKey(buf)
}

func recordKey(k entryKey) string {
	return string(k.contact) + "/" + string(k.transport)
}

// save seals e and hands it to the persister. Must hold s.mu.
func (s *Store) save(ctx context.Context, e *entry) error {
	if s.persister == nil {
		return nil
	}
	rec := keySetRecord{
		Contact:   string(e.contact),
		Transport: string(e.keys.TransportID),
		Alice:     e.keys.Alice,
		Outgoing:  e.outgoing,
	}
	for i, w := range e.keys.Windows() {
		rec.Windows[i] = windowRecord{
			Period:     w.Period,
			TagKey:     w.TagKey.Bytes(),
			AliceFrame: w.AliceFrameKey.Bytes(),
			BobFrame:   w.BobFrameKey.Bytes(),
		}
	}
	for p, w := range e.incoming {
		rec.Incoming = append(rec.Incoming, incomingRecord{Period: p, Windows: *w})
	}

	plain, err := cbor.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode key set: %w", err)
	}
	defer memzero.Zero(plain)

	name := recordKey(entryKey{e.contact, e.keys.TransportID})
	sealed, err := encryption.Seal(s.sealKey.Bytes(), plain, []byte(name))
	if err != nil {
		return fmt.Errorf("seal key set: %w", err)
	}
	if err := s.persister.Save(ctx, name, sealed); err != nil {
		return fmt.Errorf("save key set %s: %w", name, err)
	}
	return nil
}

// Load restores every key set from the persister, replacing what the store
// holds for the same (contact, transport). A blob that fails to open is
// skipped and reported in the returned error.
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	blobs, err := s.persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("load key sets: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for name, blob := range blobs {
		e, err := s.open(name, blob)
		if err != nil {
			errs = append(errs, fmt.Errorf("key set %s: %w", name, err))
			continue
		}
		k := entryKey{e.contact, e.keys.TransportID}
		if old, ok := s.entries[k]; ok {
			s.unindex(old)
			old.keys.Erase()
		}
		s.entries[k] = e
		if err := s.index(e); err != nil {
			errs = append(errs, err)
		}
	}
	log.Info("transport keys loaded", zap.Int("count", len(blobs)-len(errs)))
	return errors.Join(errs...)
}

func (s *Store) open(name string, blob []byte) (*entry, error) {
	plain, err := encryption.Open(s.sealKey.Bytes(), blob, []byte(name))
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(plain)

	var rec keySetRecord
	if err := cbor.Unmarshal(plain, &rec); err != nil {
		return nil, fmt.Errorf("decode key set: %w", err)
	}
	if name != rec.Contact+"/"+rec.Transport || strings.Contains(rec.Contact, "/") {
		return nil, errors.New("key set name mismatch")
	}

	keys := &model.TransportKeys{
		TransportID: model.TransportID(rec.Transport),
		Alice:       rec.Alice,
	}
	var windows [3]*model.RotationPeriodKeys
	for i, w := range rec.Windows {
		rw, err := restoreWindow(w)
		if err != nil {
			for _, done := range windows[:i] {
				done.Erase()
			}
			return nil, err
		}
		windows[i] = rw
	}
	keys.Previous, keys.Current, keys.Next = windows[0], windows[1], windows[2]

	e := &entry{
		contact:  model.ContactID(rec.Contact),
		keys:     keys,
		outgoing: rec.Outgoing,
		incoming: make(map[uint64]*[2]reorderingWindow),
	}
	for _, in := range rec.Incoming {
		w := in.Windows
		e.incoming[in.Period] = &w
	}
	return e, nil
}

func restoreWindow(w windowRecord) (*model.RotationPeriodKeys, error) {
	defer func() {
		memzero.Zero(w.TagKey)
		memzero.Zero(w.AliceFrame)
		memzero.Zero(w.BobFrame)
	}()
	tag, err := model.NewSecretKey(w.TagKey)
	if err != nil {
		return nil, err
	}
	alice, err := model.NewSecretKey(w.AliceFrame)
	if err != nil {
		tag.Erase()
		return nil, err
	}
	bob, err := model.NewSecretKey(w.BobFrame)
	if err != nil {
		tag.Erase()
		alice.Erase()
		return nil, err
	}
	return &model.RotationPeriodKeys{Period: w.Period, TagKey: tag, AliceFrameKey: alice, BobFrameKey: bob}, nil
}

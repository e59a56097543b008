package pairing

import (
	"context"
	"errors"
	"fmt"

	"e2e_pairing/internal/cryptographic"
	"e2e_pairing/internal/model"
	"e2e_pairing/internal/protocol/transportkeys"
	"e2e_pairing/internal/service/keystore"
)

// InstallKeys derives the first transport keys for every transport from the
// handshake's master key, hands them to store and erases the master key. If
// any transport fails, the keys already installed for contact are removed.
func InstallKeys(ctx context.Context, c *cryptographic.Component, store *keystore.Store,
	contact model.ContactID, result *model.KeyAgreementResult, period uint64,
	transports []model.TransportID) error {
	defer result.MasterKey.Erase()

	if len(transports) == 0 {
		return errors.New("no transports to derive keys for")
	}
	for _, id := range transports {
		keys, err := transportkeys.DeriveTransportKeys(c, id, result.MasterKey, period, result.Alice)
		if err == nil {
			err = store.AddKeys(ctx, contact, keys)
		}
		if err != nil {
			if rmErr := store.RemoveContact(ctx, contact); rmErr != nil {
				err = errors.Join(err, rmErr)
			}
			return fmt.Errorf("install keys for %s: %w", id, err)
		}
	}
	return nil
}

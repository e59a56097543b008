package transportkeys

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"e2e_pairing/internal/service/keystore"
)

var _ keystore.Persister = (*MongoRepo)(nil)

func TestMongoRepo(t *testing.T) {
	uri := os.Getenv("E2E_PAIRING_MONGO_URI")
	if uri == "" {
		t.Skip("E2E_PAIRING_MONGO_URI not set")
	}
	ctx := context.Background()
	client, err := Connect(ctx, uri)
	require.NoError(t, err)
	defer client.Disconnect(ctx)

	db := client.Database("e2e_pairing_test")
	defer db.Drop(ctx)
	repo := NewMongoRepo(db)

	require.NoError(t, repo.Save(ctx, "alice/lan", []byte{1}))
	require.NoError(t, repo.Save(ctx, "alice/lan", []byte{2}))
	require.NoError(t, repo.Save(ctx, "bob/ws", []byte{3}))

	blobs, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"alice/lan": {2}, "bob/ws": {3}}, blobs)

	require.NoError(t, repo.Delete(ctx, "alice/lan"))
	blobs, err = repo.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, blobs, 1)
}

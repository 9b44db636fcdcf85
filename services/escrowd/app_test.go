package escrowd

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"juryledger/config"
	"juryledger/native/bank"
	"juryledger/storage"
)

func TestOpenDatabaseEngines(t *testing.T) {
	db, err := OpenDatabase(config.EngineMemory, "")
	require.NoError(t, err)
	require.IsType(t, &storage.MemDB{}, db)
	db.Close()

	dir := t.TempDir()
	db, err = OpenDatabase(config.EngineBolt, filepath.Join(dir, "bolt"))
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte("k"), []byte("v")))
	db.Close()
	require.FileExists(t, filepath.Join(dir, "bolt", "state.bolt"))

	_, err = OpenDatabase("rocks", dir)
	require.Error(t, err)
}

func TestNewTransfererModes(t *testing.T) {
	transferer, err := NewTransferer(config.Payout{}, false)
	require.NoError(t, err)
	require.IsType(t, &bank.Vault{}, transferer)

	transferer, err = NewTransferer(config.Payout{Mode: config.PayoutWebhook, URL: "http://payout.invalid/v1/payouts"}, true)
	require.NoError(t, err)
	require.IsType(t, &bank.HTTPTransferer{}, transferer)

	_, err = NewTransferer(config.Payout{Mode: config.PayoutWebhook}, false)
	require.Error(t, err)

	_, err = NewTransferer(config.Payout{Mode: "carrier-pigeon"}, false)
	require.Error(t, err)
}

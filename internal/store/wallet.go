package store

import (
	"context"
	"fmt"
	"sync"
)

type walletEntry struct {
	payloadHash string
	txID        string
}

// MemoryWallet implements the wallet collaborator's documented idempotency
// contract in process: the same key with the same payload hash replays the
// original transaction ID; the same key with a different hash is a conflict.
type MemoryWallet struct {
	mu       sync.Mutex
	entries  map[string]walletEntry
	balances map[int64]int64
	txSeq    int64
}

// NewMemoryWallet returns an empty wallet.
func NewMemoryWallet() *MemoryWallet {
	return &MemoryWallet{
		entries:  map[string]walletEntry{},
		balances: map[int64]int64{},
	}
}

// Credit implements Wallet.
func (w *MemoryWallet) Credit(ctx context.Context, driverID, amountCents int64, idempotencyKey, payloadHash string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if entry, ok := w.entries[idempotencyKey]; ok {
		if entry.payloadHash != payloadHash {
			return "", fmt.Errorf("%w: key %s", ErrLedgerConflict, idempotencyKey)
		}
		return entry.txID, nil
	}

	w.txSeq++
	txID := fmt.Sprintf("ltx-%d", w.txSeq)
	w.entries[idempotencyKey] = walletEntry{payloadHash: payloadHash, txID: txID}
	w.balances[driverID] += amountCents
	return txID, nil
}

// Balance returns the driver's credited total in cents.
func (w *MemoryWallet) Balance(driverID int64) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[driverID]
}

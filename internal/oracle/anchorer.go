package oracle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"norruva.org/internal/domain"
)

// MockAnchorer simulates a ledger. The transaction hash is derived from the
// data hash, so re-anchoring the same data yields the same transaction.
type MockAnchorer struct {
	ExplorerBase string
	Latency      time.Duration

	mu     sync.Mutex
	height uint64
	seen   map[string]domain.BlockchainProof
}

func NewMockAnchorer(explorerBase string) *MockAnchorer {
	if explorerBase == "" {
		explorerBase = "https://explorer.example.org/tx/"
	}
	return &MockAnchorer{ExplorerBase: explorerBase, height: 1_000_000, seen: make(map[string]domain.BlockchainProof)}
}

func (a *MockAnchorer) Anchor(ctx context.Context, dataHash string) (domain.BlockchainProof, error) {
	if len(dataHash) != 64 {
		return domain.BlockchainProof{}, fmt.Errorf("anchor: malformed data hash %q", dataHash)
	}
	if a.Latency > 0 {
		select {
		case <-time.After(a.Latency):
		case <-ctx.Done():
			return domain.BlockchainProof{}, ctx.Err()
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if proof, ok := a.seen[dataHash]; ok {
		return proof, nil
	}
	sum := sha256.Sum256([]byte("norruva-anchor:" + dataHash))
	tx := "0x" + hex.EncodeToString(sum[:])
	a.height++
	proof := domain.BlockchainProof{
		DataHash:    dataHash,
		TxHash:      tx,
		ExplorerURL: a.ExplorerBase + tx,
		BlockHeight: a.height,
		AnchoredAt:  time.Now().UTC(),
	}
	a.seen[dataHash] = proof
	return proof, nil
}

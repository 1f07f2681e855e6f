package witness

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/djkazic/zkrollup-go/internal/keeper"
)

type memStore struct {
	mu        sync.Mutex
	witnesses []*BlockWitness
}

func (m *memStore) SaveWitness(w *BlockWitness) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.witnesses = append(m.witnesses, w)
	return nil
}

func TestServiceConsumesQueueInOrder(t *testing.T) {
	st := fixtureState(t)
	b := fixtureBuilder(t)

	queue := keeper.NewBlockQueue()
	requests := make(chan keeper.Request, 8)
	k := keeper.New(st, keeper.Config{
		FeeAccount:     0,
		CapacityChunks: 4,
		Clock:          func() uint64 { return 1700000000 },
	}, requests, queue, zap.NewNop())

	requests <- keeper.ExecuteMiniBlockRequest{}
	requests <- keeper.SealBlockRequest{}
	requests <- keeper.ExecuteMiniBlockRequest{}
	requests <- keeper.SealBlockRequest{}
	close(requests)
	if err := k.Run(context.Background()); err != nil {
		t.Fatalf("keeper run: %v", err)
	}
	queue.Close()

	store := &memStore{}
	svc := NewService(b, queue, store, zap.NewNop())
	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("service run: %v", err)
	}

	if len(store.witnesses) != 2 {
		t.Fatalf("witnesses = %d, want 2", len(store.witnesses))
	}
	if store.witnesses[0].BlockNumber != 1 || store.witnesses[1].BlockNumber != 2 {
		t.Errorf("block order = %d, %d", store.witnesses[0].BlockNumber, store.witnesses[1].BlockNumber)
	}
	// Roots chain: block 2 starts where block 1 ended.
	if !store.witnesses[1].InitialRoot.Equal(&store.witnesses[0].FinalRoot) {
		t.Error("witness roots do not chain across blocks")
	}
}

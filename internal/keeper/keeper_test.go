package keeper

import (
	"context"
	"math/big"
	"testing"

	"go.uber.org/zap"

	"github.com/djkazic/zkrollup-go/internal/state"
	"github.com/djkazic/zkrollup-go/internal/types"
	"github.com/djkazic/zkrollup-go/testutil"
)

const (
	feeSeed uint64 = 200
	aSeed   uint64 = 201
	bSeed   uint64 = 202
)

func newTestKeeper(t *testing.T, capacity int) (*StateKeeper, *BlockQueue) {
	t.Helper()

	accounts := map[types.AccountID]*types.Account{}
	fee := types.NewAccount(testutil.TestAddress(feeSeed))
	accounts[0] = fee

	a := types.NewAccount(testutil.TestAddress(aSeed))
	a.PubKeyHash = testutil.TestPubKeyHash(aSeed)
	a.SetBalance(5, big.NewInt(100))
	accounts[1] = a

	b := types.NewAccount(testutil.TestAddress(bSeed))
	b.PubKeyHash = testutil.TestPubKeyHash(bSeed)
	accounts[2] = b

	st := state.NewFromAccounts(accounts, 1)
	queue := NewBlockQueue()
	requests := make(chan Request)
	k := New(st, Config{
		FeeAccount:     0,
		CapacityChunks: capacity,
		Clock:          func() uint64 { return 1700000000 },
	}, requests, queue, zap.NewNop())
	return k, queue
}

func popBlock(t *testing.T, q *BlockQueue) *CommitRequest {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, ok := q.Pop(ctx)
	if !ok {
		t.Fatal("no sealed block in queue")
	}
	return req
}

func TestSealPadsToExactCapacity(t *testing.T) {
	k, q := newTestKeeper(t, 10)

	deposit := types.PriorityOp{
		SerialID: 0,
		Data: &types.Deposit{
			To:     testutil.TestAddress(77),
			Token:  5,
			Amount: big.NewInt(1000),
		},
	}
	transfer := testutil.SignedTransfer(aSeed, 1, 2, 5, 30, 3, 0)

	if err := k.executeMiniBlock(ProposedBlock{
		PriorityOps: []types.PriorityOp{deposit},
		Txs:         []types.Tx{transfer},
	}); err != nil {
		t.Fatalf("executeMiniBlock: %v", err)
	}
	if err := k.sealPendingBlock(); err != nil {
		t.Fatalf("sealPendingBlock: %v", err)
	}

	req := popBlock(t, q)
	block := req.Block

	// Transfer (2) + Deposit (6) with capacity 10 leaves exactly 2 Noops.
	noops := 0
	for _, op := range block.Ops {
		if op.Noop {
			noops++
		}
	}
	if noops != 2 {
		t.Errorf("block has %d noops, want 2", noops)
	}
	if got := block.ChunksUsed(); got != 10 {
		t.Errorf("chunks used = %d, want exact capacity 10", got)
	}
	if block.PriorityOpsCount() != 1 {
		t.Errorf("priority ops = %d, want 1", block.PriorityOpsCount())
	}
}

func TestOpThatDoesNotFitSealsAndRetries(t *testing.T) {
	k, q := newTestKeeper(t, 8)

	// Three deposits of 6 chunks each: every one after the first forces a
	// seal of the previous block.
	var priority []types.PriorityOp
	for i := 0; i < 3; i++ {
		priority = append(priority, types.PriorityOp{
			SerialID: uint64(i),
			Data: &types.Deposit{
				To:     testutil.TestAddress(uint64(300 + i)),
				Token:  1,
				Amount: big.NewInt(10),
			},
		})
	}

	if err := k.executeMiniBlock(ProposedBlock{PriorityOps: priority}); err != nil {
		t.Fatalf("executeMiniBlock: %v", err)
	}
	if err := k.sealPendingBlock(); err != nil {
		t.Fatalf("seal: %v", err)
	}

	var blocks []*types.Block
	for i := 0; i < 3; i++ {
		blocks = append(blocks, popBlock(t, q).Block)
	}

	// Priority ordering: serial ids ascend across blocks and block numbers
	// are strictly monotonic.
	lastSerial := int64(-1)
	for i, b := range blocks {
		if i > 0 && b.Number <= blocks[i-1].Number {
			t.Fatalf("block numbers not monotonic: %d then %d", blocks[i-1].Number, b.Number)
		}
		for _, op := range b.Ops {
			if op.Priority == nil {
				continue
			}
			serial := int64(op.Priority.Priority.SerialID)
			if serial <= lastSerial {
				t.Fatalf("priority serial %d out of order", serial)
			}
			lastSerial = serial
			lo, hi := b.ProcessedPriorityOps[0], b.ProcessedPriorityOps[1]
			if uint64(serial) < lo || uint64(serial) >= hi {
				t.Errorf("serial %d outside block interval [%d,%d)", serial, lo, hi)
			}
		}
	}
	if lastSerial != 2 {
		t.Errorf("last executed serial = %d, want 2", lastSerial)
	}
}

func TestExactFitSealsImmediately(t *testing.T) {
	k, q := newTestKeeper(t, 2)

	tx := testutil.SignedTransfer(aSeed, 1, 2, 5, 10, 0, 0)
	if err := k.executeMiniBlock(ProposedBlock{Txs: []types.Tx{tx}}); err != nil {
		t.Fatalf("executeMiniBlock: %v", err)
	}

	// The transfer filled the block exactly; it seals without padding.
	if q.Len() != 1 {
		t.Fatalf("queue len = %d, want 1", q.Len())
	}
	block := popBlock(t, q).Block
	if got := block.ChunksUsed(); got != 2 {
		t.Errorf("chunks used = %d, want 2", got)
	}
	for _, op := range block.Ops {
		if op.Noop {
			t.Error("exact-fit block contains padding")
		}
	}
}

func TestFailedTxRecordedWithoutStateChange(t *testing.T) {
	k, q := newTestKeeper(t, 10)

	bad := testutil.SignedTransfer(aSeed, 1, 2, 5, 1000, 0, 0) // insufficient
	good := testutil.SignedTransfer(aSeed, 1, 2, 5, 10, 0, 0)

	if err := k.executeMiniBlock(ProposedBlock{Txs: []types.Tx{bad, good}}); err != nil {
		t.Fatalf("executeMiniBlock: %v", err)
	}
	if err := k.sealPendingBlock(); err != nil {
		t.Fatalf("seal: %v", err)
	}

	block := popBlock(t, q).Block
	var failed, succeeded int
	for _, op := range block.Ops {
		if op.Tx == nil {
			continue
		}
		if op.Tx.Success {
			succeeded++
		} else {
			failed++
			if op.Tx.FailReason != state.ReasonInsufficientBalance {
				t.Errorf("fail reason = %q", op.Tx.FailReason)
			}
		}
	}
	if failed != 1 || succeeded != 1 {
		t.Errorf("failed=%d succeeded=%d, want 1 and 1", failed, succeeded)
	}
}

func TestIterationCapForcesSeal(t *testing.T) {
	k, q := newTestKeeper(t, 1000)

	// Empty miniblocks do not advance the iteration counter while the
	// pending block holds no operations.
	for i := 0; i < MaxPendingBlockIterations+5; i++ {
		if err := k.executeMiniBlock(ProposedBlock{}); err != nil {
			t.Fatalf("empty miniblock: %v", err)
		}
	}
	if q.Len() != 0 {
		t.Fatal("empty miniblocks sealed a block")
	}

	tx := testutil.SignedTransfer(aSeed, 1, 2, 5, 1, 0, 0)
	if err := k.executeMiniBlock(ProposedBlock{Txs: []types.Tx{tx}}); err != nil {
		t.Fatalf("first miniblock: %v", err)
	}

	// Non-empty miniblocks advance it past the cap.
	for i := 1; q.Len() == 0 && i <= MaxPendingBlockIterations+1; i++ {
		tx := testutil.SignedTransfer(aSeed, 1, 2, 5, 1, 0, types.Nonce(i))
		if err := k.executeMiniBlock(ProposedBlock{Txs: []types.Tx{tx}}); err != nil {
			t.Fatalf("miniblock %d: %v", i, err)
		}
	}
	if q.Len() != 1 {
		t.Fatalf("iteration cap did not seal (queue len %d)", q.Len())
	}
}

func TestCommandLoop(t *testing.T) {
	accounts := map[types.AccountID]*types.Account{
		0: types.NewAccount(testutil.TestAddress(feeSeed)),
	}
	a := types.NewAccount(testutil.TestAddress(aSeed))
	a.PubKeyHash = testutil.TestPubKeyHash(aSeed)
	a.SetBalance(5, big.NewInt(100))
	accounts[1] = a

	st := state.NewFromAccounts(accounts, 1)
	queue := NewBlockQueue()
	requests := make(chan Request)
	k := New(st, Config{
		FeeAccount:     0,
		CapacityChunks: 10,
		Clock:          func() uint64 { return 1 },
	}, requests, queue, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- k.Run(ctx) }()

	reply := make(chan GetAccountReply, 1)
	requests <- GetAccountRequest{Address: testutil.TestAddress(aSeed), Reply: reply}
	got := <-reply
	if !got.Found || got.ID != 1 {
		t.Fatalf("GetAccount = %+v", got)
	}

	serialReply := make(chan uint64, 1)
	requests <- GetLastUnprocessedPriorityOpRequest{Reply: serialReply}
	if serial := <-serialReply; serial != 0 {
		t.Errorf("unprocessed priority op = %d, want 0", serial)
	}

	tx := testutil.SignedTransfer(aSeed, 1, 0, 5, 10, 0, 0)
	requests <- ExecuteMiniBlockRequest{Proposed: ProposedBlock{Txs: []types.Tx{tx}}}

	hash := tx.Hash()
	pendingReply := make(chan ExecutedInPendingReply, 1)
	requests <- GetExecutedInPendingBlockRequest{OpID: ExecutedOpID{TxHash: &hash}, Reply: pendingReply}
	pending := <-pendingReply
	if !pending.Found || !pending.Success {
		t.Fatalf("pending lookup = %+v", pending)
	}

	requests <- SealBlockRequest{}
	block := popBlock(t, queue).Block
	if block.Number != 1 {
		t.Errorf("sealed block number = %d, want 1", block.Number)
	}

	cancel()
	<-done
}

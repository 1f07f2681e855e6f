package keeper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/djkazic/zkrollup-go/internal/metrics"
	"github.com/djkazic/zkrollup-go/internal/state"
	"github.com/djkazic/zkrollup-go/internal/types"
)

// MaxPendingBlockIterations caps how many miniblock rounds a pending block
// may stay open; exceeding it forces a seal so block latency stays bounded.
const MaxPendingBlockIterations = 50

// pendingBlock is the working buffer between block open and seal.
type pendingBlock struct {
	successOps  []*types.ExecutedOperation
	failedTxs   []*types.ExecutedTx
	updates     types.AccountUpdates
	withdrawals []types.WithdrawalRecord

	chunksLeft                  int
	pendingOpIndex              uint32
	unprocessedPriorityOpBefore uint64
	iteration                   int
	timestamp                   uint64
}

func newPendingBlock(capacity int, unprocessedBefore uint64, timestamp uint64) *pendingBlock {
	return &pendingBlock{
		chunksLeft:                  capacity,
		unprocessedPriorityOpBefore: unprocessedBefore,
		timestamp:                   timestamp,
	}
}

// StateKeeper executes operations and forms blocks. It owns the state; all
// access goes through the serialized command stream.
type StateKeeper struct {
	state          *state.State
	feeAccount     types.AccountID
	capacityChunks int

	currentPriorityOp uint64
	pending           *pendingBlock

	requests <-chan Request
	sealed   *BlockQueue

	clock  func() uint64
	logger *zap.Logger
}

// Config carries the keeper's construction parameters.
type Config struct {
	FeeAccount     types.AccountID
	CapacityChunks int

	// UnprocessedPriorityOp is the first priority serial id not yet
	// executed, restored from persistence.
	UnprocessedPriorityOp uint64

	// Clock supplies block timestamps; defaults to the wall clock.
	Clock func() uint64
}

// New creates a state keeper over an initialized state.
func New(st *state.State, cfg Config, requests <-chan Request, sealed *BlockQueue, logger *zap.Logger) *StateKeeper {
	clock := cfg.Clock
	if clock == nil {
		clock = func() uint64 { return uint64(time.Now().Unix()) }
	}
	k := &StateKeeper{
		state:             st,
		feeAccount:        cfg.FeeAccount,
		capacityChunks:    cfg.CapacityChunks,
		currentPriorityOp: cfg.UnprocessedPriorityOp,
		requests:          requests,
		sealed:            sealed,
		clock:             clock,
		logger:            logger,
	}
	k.pending = newPendingBlock(cfg.CapacityChunks, cfg.UnprocessedPriorityOp, clock())
	root := st.RootHash()
	logger.Info("state keeper created",
		zap.Uint32("block", uint32(st.BlockNumber)),
		zap.String("root", root.String()))
	return k
}

// Run processes commands until the context is cancelled or the channel
// closes. A fatal state error stops block production and is returned.
func (k *StateKeeper) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-k.requests:
			if !ok {
				return nil
			}
			if err := k.handle(req); err != nil {
				k.logger.Error("state keeper halted", zap.Error(err))
				return err
			}
		}
	}
}

func (k *StateKeeper) handle(req Request) error {
	switch r := req.(type) {
	case GetAccountRequest:
		id, acc, found := k.state.GetAccountByAddress(r.Address)
		r.Reply <- GetAccountReply{ID: id, Account: acc, Found: found}
	case GetLastUnprocessedPriorityOpRequest:
		r.Reply <- k.currentPriorityOp
	case ExecuteMiniBlockRequest:
		return k.executeMiniBlock(r.Proposed)
	case GetExecutedInPendingBlockRequest:
		r.Reply <- k.checkExecutedInPendingBlock(r.OpID)
	case SealBlockRequest:
		return k.sealPendingBlock()
	default:
		return fmt.Errorf("unknown keeper request %T", req)
	}
	return nil
}

func (k *StateKeeper) executeMiniBlock(proposed ProposedBlock) error {
	priorityQueue := append([]types.PriorityOp(nil), proposed.PriorityOps...)
	for len(priorityQueue) > 0 {
		op := priorityQueue[0]
		fits, err := k.applyPriorityOp(op)
		if err != nil {
			return err
		}
		if !fits {
			// Seal and retry the op in a fresh block.
			if err := k.sealPendingBlock(); err != nil {
				return err
			}
			continue
		}
		priorityQueue = priorityQueue[1:]
		if k.pending.chunksLeft == 0 {
			if err := k.sealPendingBlock(); err != nil {
				return err
			}
		}
	}

	txQueue := append([]types.Tx(nil), proposed.Txs...)
	for len(txQueue) > 0 {
		tx := txQueue[0]
		fits, err := k.applyTx(tx)
		if err != nil {
			return err
		}
		if !fits {
			if err := k.sealPendingBlock(); err != nil {
				return err
			}
			continue
		}
		txQueue = txQueue[1:]
		if k.pending.chunksLeft == 0 {
			if err := k.sealPendingBlock(); err != nil {
				return err
			}
		}
	}

	if len(k.pending.successOps) > 0 {
		k.pending.iteration++
		if k.pending.iteration > MaxPendingBlockIterations {
			k.logger.Debug("pending block exceeded iteration cap, sealing")
			return k.sealPendingBlock()
		}
	}
	return nil
}

// applyPriorityOp executes one priority op. Returns false when the op does
// not fit into the pending block.
func (k *StateKeeper) applyPriorityOp(op types.PriorityOp) (bool, error) {
	chunks := types.ChunksForPriorityOp(op.Data)
	if chunks > k.capacityChunks {
		return false, fmt.Errorf("priority op needs %d chunks, block capacity is %d", chunks, k.capacityChunks)
	}
	if k.pending.chunksLeft < chunks {
		return false, nil
	}
	if op.SerialID != k.currentPriorityOp {
		return false, fmt.Errorf("priority op serial %d, expected %d", op.SerialID, k.currentPriorityOp)
	}

	success, err := k.state.ExecutePriorityOp(op.Data)
	if err != nil {
		return false, fmt.Errorf("priority op %d: %w", op.SerialID, err)
	}
	if err := k.absorb(success, chunks); err != nil {
		return false, err
	}

	blockIndex := k.pending.pendingOpIndex
	k.pending.pendingOpIndex++
	k.pending.successOps = append(k.pending.successOps, &types.ExecutedOperation{
		Priority: &types.ExecutedPriorityOp{
			Priority:   op,
			Op:         success.Executed,
			BlockIndex: blockIndex,
		},
	})
	k.currentPriorityOp++
	return true, nil
}

// applyTx executes one transaction. Returns false when the tx does not fit
// into the pending block.
func (k *StateKeeper) applyTx(tx types.Tx) (bool, error) {
	chunks := types.ChunksForTx(tx)
	if chunks > k.capacityChunks {
		return false, fmt.Errorf("tx needs %d chunks, block capacity is %d", chunks, k.capacityChunks)
	}
	if k.pending.chunksLeft < chunks {
		return false, nil
	}

	success, err := k.state.ExecuteTx(tx, k.pending.timestamp)
	if err != nil {
		if failure, ok := state.IsTxFailure(err); ok {
			k.logger.Debug("transaction failed",
				zap.String("reason", failure.Reason),
				zap.String("detail", failure.Detail))
			k.pending.failedTxs = append(k.pending.failedTxs, &types.ExecutedTx{
				Tx:         tx,
				Success:    false,
				FailReason: failure.Reason,
			})
			return true, nil
		}
		return false, fmt.Errorf("execute tx: %w", err)
	}

	if err := k.absorb(success, chunks); err != nil {
		return false, err
	}
	blockIndex := k.pending.pendingOpIndex
	k.pending.pendingOpIndex++
	k.pending.successOps = append(k.pending.successOps, &types.ExecutedOperation{
		Tx: &types.ExecutedTx{
			Tx:         tx,
			Success:    true,
			Op:         success.Executed,
			BlockIndex: blockIndex,
			HasIndex:   true,
		},
	})
	return true, nil
}

// absorb merges an execution outcome into the pending block, collecting the
// fee right away so the fee account's balance is current for later ops.
func (k *StateKeeper) absorb(success *state.OpSuccess, chunks int) error {
	k.pending.chunksLeft -= chunks
	k.pending.updates = append(k.pending.updates, success.Updates...)
	k.pending.withdrawals = append(k.pending.withdrawals, success.Withdrawals...)
	if success.Fee != nil {
		feeUpdates, err := k.state.CollectFee([]types.CollectedFee{*success.Fee}, k.feeAccount)
		if err != nil {
			return fmt.Errorf("fee collection: %w", err)
		}
		k.pending.updates = append(k.pending.updates, feeUpdates...)
	}
	return nil
}

func (k *StateKeeper) sealPendingBlock() error {
	pending := k.pending
	k.pending = newPendingBlock(k.capacityChunks, k.currentPriorityOp, k.clock())

	ops := make([]*types.ExecutedOperation, 0, len(pending.successOps)+len(pending.failedTxs))
	ops = append(ops, pending.successOps...)
	for _, failed := range pending.failedTxs {
		ops = append(ops, &types.ExecutedOperation{Tx: failed})
	}
	// Pad to exact chunk capacity.
	for i := 0; i < pending.chunksLeft; i++ {
		ops = append(ops, types.NoopExecuted())
	}

	block := &types.Block{
		Number:     k.state.BlockNumber,
		NewRoot:    k.state.RootHash(),
		FeeAccount: k.feeAccount,
		Timestamp:  pending.timestamp,
		Ops:        ops,
		ProcessedPriorityOps: [2]uint64{
			pending.unprocessedPriorityOpBefore,
			k.currentPriorityOp,
		},
		Withdrawals: pending.withdrawals,
	}
	k.state.BlockNumber++

	k.logger.Info("sealing block",
		zap.Uint32("block", uint32(block.Number)),
		zap.Int("operations", len(ops)),
		zap.Int("chunks_left", pending.chunksLeft),
		zap.Int("iterations", pending.iteration))

	k.sealed.Push(&CommitRequest{Block: block, Updates: pending.updates})
	metrics.BlockHeight.Set(float64(block.Number))
	return nil
}

func (k *StateKeeper) checkExecutedInPendingBlock(id ExecutedOpID) ExecutedInPendingReply {
	current := k.state.BlockNumber
	if id.TxHash != nil {
		for _, op := range k.pending.successOps {
			if op.Tx != nil && op.Tx.Tx.Hash() == *id.TxHash {
				return ExecutedInPendingReply{Block: current, Success: true, Found: true}
			}
		}
		for _, failed := range k.pending.failedTxs {
			if failed.Tx.Hash() == *id.TxHash {
				return ExecutedInPendingReply{Block: current, Success: false, Found: true}
			}
		}
	}
	if id.PrioritySerial != nil {
		for _, op := range k.pending.successOps {
			if op.Priority != nil && op.Priority.Priority.SerialID == *id.PrioritySerial {
				return ExecutedInPendingReply{Block: current, Success: true, Found: true}
			}
		}
	}
	return ExecutedInPendingReply{}
}

package prover

import (
	"context"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"github.com/djkazic/zkrollup-go/internal/ff"
	"github.com/djkazic/zkrollup-go/internal/types"
	"github.com/djkazic/zkrollup-go/internal/witness"
)

// witnessRecord is the serialized form a witness takes inside the store and
// inside single-proof job payloads.
type witnessRecord struct {
	BlockNumber uint32
	FeeAccount  uint32
	InitialRoot []byte
	FinalRoot   []byte
	Pubdata     []byte
	Commitment  []byte
}

// SaveWitness implements witness.Store: it persists the witness and makes
// the block eligible for a single-proof job.
func (s *Store) SaveWitness(w *witness.BlockWitness) error {
	initial := ff.ToBytesBE(&w.InitialRoot)
	final := ff.ToBytesBE(&w.FinalRoot)
	commitment := ff.ToBytesBE(&w.Commitment)
	data, err := cbor.Marshal(witnessRecord{
		BlockNumber: uint32(w.BlockNumber),
		FeeAccount:  uint32(w.FeeAccount),
		InitialRoot: initial[:],
		FinalRoot:   final[:],
		Pubdata:     w.Pubdata,
		Commitment:  commitment[:],
	})
	if err != nil {
		return fmt.Errorf("encode witness: %w", err)
	}
	return s.SaveWitnessBytes(w.BlockNumber, data)
}

// Generator turns finished witnesses into single-proof jobs and maximal
// contiguous proven ranges into aggregated-proof jobs.
type Generator struct {
	store        *Store
	pollInterval time.Duration
	maxBatch     int
	logger       *zap.Logger
}

// NewGenerator creates a job generation loop. maxBatch bounds how many
// blocks one aggregated proof may cover.
func NewGenerator(store *Store, pollInterval time.Duration, maxBatch int, logger *zap.Logger) *Generator {
	if maxBatch < 1 {
		maxBatch = 1
	}
	return &Generator{
		store:        store,
		pollInterval: pollInterval,
		maxBatch:     maxBatch,
		logger:       logger,
	}
}

// Run polls until the context is cancelled.
func (g *Generator) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := g.Tick(); err != nil {
				g.logger.Warn("job generation tick failed", zap.Error(err))
			}
		}
	}
}

// Tick runs one generation round.
func (g *Generator) Tick() error {
	if err := g.generateSingleJobs(); err != nil {
		return err
	}
	return g.generateAggregatedJobs()
}

func (g *Generator) generateSingleJobs() error {
	blocks, err := g.store.WitnessedBlocks()
	if err != nil {
		return err
	}
	for _, block := range blocks {
		if _, proven, err := g.store.SingleProofBytes(block); err != nil {
			return err
		} else if proven {
			continue
		}
		payload, ok, err := g.store.WitnessBytes(block)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		id, created, err := g.store.AddJob(JobTypeSingle, block, block, payload, SingleProofJobPriority)
		if err != nil {
			return err
		}
		if created {
			g.logger.Info("enqueued single-proof job",
				zap.Uint64("job", id),
				zap.Uint32("block", uint32(block)))
		}
	}
	return nil
}

func (g *Generator) generateAggregatedJobs() error {
	last, err := g.store.LastAggregatedBlock()
	if err != nil {
		return err
	}

	// Walk the maximal contiguous run of proven blocks above the last
	// aggregated one, splitting it into batches.
	first := last + 1
	var run []types.BlockNumber
	for block := first; ; block++ {
		_, proven, err := g.store.SingleProofBytes(block)
		if err != nil {
			return err
		}
		if !proven {
			break
		}
		run = append(run, block)
	}
	for len(run) > 0 {
		batch := run
		if len(batch) > g.maxBatch {
			batch = batch[:g.maxBatch]
		}
		run = run[len(batch):]

		proofs := make([][]byte, 0, len(batch))
		for _, block := range batch {
			proof, _, err := g.store.SingleProofBytes(block)
			if err != nil {
				return err
			}
			proofs = append(proofs, proof)
		}
		payload, err := cbor.Marshal(proofs)
		if err != nil {
			return err
		}

		id, created, err := g.store.AddJob(
			JobTypeAggregated, batch[0], batch[len(batch)-1], payload, AggregatedProofJobPriority)
		if err != nil {
			return err
		}
		if created {
			g.logger.Info("enqueued aggregated-proof job",
				zap.Uint64("job", id),
				zap.Uint32("first", uint32(batch[0])),
				zap.Uint32("last", uint32(batch[len(batch)-1])))
		}
	}
	return nil
}

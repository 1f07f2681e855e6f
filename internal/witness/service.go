package witness

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/djkazic/zkrollup-go/internal/keeper"
	"github.com/djkazic/zkrollup-go/internal/metrics"
)

// Store persists finished block witnesses for the proof coordinator.
type Store interface {
	SaveWitness(w *BlockWitness) error
}

// Service consumes sealed blocks off the keeper's queue in order and turns
// each into a BlockWitness. Witnesses are not on the latency-critical path;
// the service may lag behind the keeper arbitrarily.
type Service struct {
	builder *Builder
	queue   *keeper.BlockQueue
	store   Store
	logger  *zap.Logger
}

// NewService creates a witness service. The builder must already be seeded
// to the state root preceding the first queued block.
func NewService(builder *Builder, queue *keeper.BlockQueue, store Store, logger *zap.Logger) *Service {
	return &Service{
		builder: builder,
		queue:   queue,
		store:   store,
		logger:  logger,
	}
}

// Run processes sealed blocks until the context is cancelled or the queue
// closes. Witness errors are fatal: they mean the replayed state diverged.
func (s *Service) Run(ctx context.Context) error {
	for {
		req, ok := s.queue.Pop(ctx)
		if !ok {
			if err := ctx.Err(); err != nil {
				return err
			}
			return nil
		}

		w, err := s.builder.ApplyBlock(req.Block)
		if err != nil {
			s.logger.Error("witness generation failed",
				zap.Uint32("block", uint32(req.Block.Number)),
				zap.Error(err))
			return fmt.Errorf("block %d: %w", req.Block.Number, err)
		}
		if err := s.store.SaveWitness(w); err != nil {
			return fmt.Errorf("save witness for block %d: %w", req.Block.Number, err)
		}

		metrics.WitnessesGenerated.Inc()
		metrics.WitnessQueueLength.Set(float64(s.queue.Len()))
		s.logger.Info("witness generated",
			zap.Uint32("block", uint32(w.BlockNumber)),
			zap.Int("operations", len(w.Ops)))
	}
}

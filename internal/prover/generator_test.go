package prover

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/djkazic/zkrollup-go/internal/ff"
	"github.com/djkazic/zkrollup-go/internal/types"
	"github.com/djkazic/zkrollup-go/internal/witness"
)

func saveWitness(t *testing.T, store *Store, block types.BlockNumber) {
	t.Helper()
	w := &witness.BlockWitness{
		BlockNumber: block,
		InitialRoot: ff.FromUint64(uint64(block) * 10),
		FinalRoot:   ff.FromUint64(uint64(block)*10 + 1),
		Pubdata:     []byte{byte(block)},
		Commitment:  ff.FromUint64(uint64(block) * 99),
	}
	if err := store.SaveWitness(w); err != nil {
		t.Fatalf("SaveWitness(%d): %v", block, err)
	}
}

func TestGeneratorEnqueuesSingleJobs(t *testing.T) {
	store := newTestStore(t)
	gen := NewGenerator(store, time.Second, 10, zap.NewNop())

	saveWitness(t, store, 1)
	saveWitness(t, store, 2)

	if err := gen.Tick(); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	job1, ok, err := store.NextIdleJob("w", time.Minute)
	if err != nil || !ok || job1.Type != JobTypeSingle || job1.FirstBlock != 1 {
		t.Fatalf("job1 = %+v ok=%v err=%v", job1, ok, err)
	}
	job2, ok, _ := store.NextIdleJob("w", time.Minute)
	if !ok || job2.FirstBlock != 2 {
		t.Fatalf("job2 = %+v", job2)
	}
	if len(job1.Payload) == 0 {
		t.Error("single job payload is empty")
	}

	// A second tick adds nothing new.
	if err := gen.Tick(); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := store.NextIdleJob("w", time.Minute); ok {
		t.Error("duplicate single jobs enqueued")
	}
}

func TestGeneratorEnqueuesAggregatedRange(t *testing.T) {
	store := newTestStore(t)
	gen := NewGenerator(store, time.Second, 10, zap.NewNop())

	// Witness and prove blocks 1..3 (block 4 witnessed but unproven).
	for b := types.BlockNumber(1); b <= 4; b++ {
		saveWitness(t, store, b)
	}
	if err := gen.Tick(); err != nil {
		t.Fatal(err)
	}
	for b := types.BlockNumber(1); b <= 3; b++ {
		job, ok, err := store.NextIdleJob("w", time.Minute)
		if err != nil || !ok {
			t.Fatalf("assign block %d: %v", b, err)
		}
		if err := store.Publish(job.ID, "w", []byte("proof")); err != nil {
			t.Fatalf("publish block %d: %v", b, err)
		}
	}

	if err := gen.Tick(); err != nil {
		t.Fatal(err)
	}

	// The aggregated job covers the maximal contiguous proven range 1..3
	// and outranks the remaining single job for block 4.
	job, ok, err := store.NextIdleJob("w", time.Minute)
	if err != nil || !ok {
		t.Fatalf("NextIdleJob: %v", err)
	}
	if job.Type != JobTypeAggregated || job.FirstBlock != 1 || job.LastBlock != 3 {
		t.Fatalf("aggregated job = %+v", job)
	}
}

func TestGeneratorSplitsLargeRanges(t *testing.T) {
	store := newTestStore(t)
	gen := NewGenerator(store, time.Second, 2, zap.NewNop())

	for b := types.BlockNumber(1); b <= 5; b++ {
		saveWitness(t, store, b)
	}
	if err := gen.Tick(); err != nil {
		t.Fatal(err)
	}
	for b := types.BlockNumber(1); b <= 5; b++ {
		job, ok, _ := store.NextIdleJob("w", time.Minute)
		if !ok {
			t.Fatalf("no job for block %d", b)
		}
		if err := store.Publish(job.ID, "w", []byte("p")); err != nil {
			t.Fatal(err)
		}
	}
	if err := gen.Tick(); err != nil {
		t.Fatal(err)
	}

	// With max batch 2: ranges [1,2], [3,4], [5,5].
	var ranges [][2]types.BlockNumber
	for {
		job, ok, _ := store.NextIdleJob("w", time.Minute)
		if !ok {
			break
		}
		if job.Type == JobTypeAggregated {
			ranges = append(ranges, [2]types.BlockNumber{job.FirstBlock, job.LastBlock})
		}
	}
	want := [][2]types.BlockNumber{{1, 2}, {3, 4}, {5, 5}}
	if len(ranges) != len(want) {
		t.Fatalf("ranges = %v, want %v", ranges, want)
	}
	for i := range want {
		if ranges[i] != want[i] {
			t.Errorf("range %d = %v, want %v", i, ranges[i], want[i])
		}
	}
}

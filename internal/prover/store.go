package prover

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/djkazic/zkrollup-go/internal/metrics"
	"github.com/djkazic/zkrollup-go/internal/types"
	"github.com/djkazic/zkrollup-go/pkg/util"
)

var (
	bucketJobs       = []byte("jobs")
	bucketWitnesses  = []byte("witnesses")
	bucketSingle     = []byte("single_proofs")
	bucketAggregated = []byte("aggregated_proofs")
)

// Store is the coordinator's job table and proof archive. The job table is
// the only write-shared structure in the coordinator; a single mutex guards
// it and every critical section is short. Lease deadlines are stored as
// wall-clock Unix nanoseconds taken from the store's clock; they carry no
// monotonic clock reading.
type Store struct {
	mu    sync.Mutex
	db    *bolt.DB
	clock func() time.Time

	logger *zap.Logger
}

// NewStore opens (creating if necessary) a store at path.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketJobs, bucketWitnesses, bucketSingle, bucketAggregated} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &Store{db: db, clock: time.Now, logger: logger}, nil
}

// SetClock overrides the lease clock; tests use it to expire leases.
func (s *Store) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func encodeJob(j *Job) ([]byte, error) {
	return cbor.Marshal(j)
}

func decodeJob(data []byte) (*Job, error) {
	var j Job
	if err := cbor.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// AddJob inserts an idle job unless an identical live job already exists.
// Returns the job id and whether a new job was created.
func (s *Store) AddJob(jobType JobType, first, last types.BlockNumber, payload []byte, priority int) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id uint64
	created := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketJobs)
		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			j, err := decodeJob(v)
			if err != nil {
				return err
			}
			if j.Type == jobType && j.FirstBlock == first && j.LastBlock == last {
				id = j.ID
				return nil
			}
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		job := &Job{
			ID:         seq,
			Type:       jobType,
			FirstBlock: first,
			LastBlock:  last,
			Payload:    payload,
			Priority:   priority,
			Status:     JobIdle,
		}
		data, err := encodeJob(job)
		if err != nil {
			return err
		}
		id = seq
		created = true
		return bucket.Put(util.Uint64BE(seq), data)
	})
	if err != nil {
		return 0, false, err
	}
	if created {
		metrics.JobsPending.WithLabelValues(string(jobType)).Inc()
	}
	return id, created, nil
}

// NextIdleJob assigns the best idle job to a worker: lowest priority number
// first, single-proof jobs before aggregated within a priority class, then
// oldest id. Sets the lease to now + leaseDuration.
func (s *Store) NextIdleJob(worker string, leaseDuration time.Duration) (*Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var assigned *Job
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketJobs)
		var idle []*Job
		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			j, err := decodeJob(v)
			if err != nil {
				return err
			}
			if j.Status == JobIdle {
				idle = append(idle, j)
			}
		}
		if len(idle) == 0 {
			return nil
		}

		sort.Slice(idle, func(a, b int) bool {
			if idle[a].Priority != idle[b].Priority {
				return idle[a].Priority < idle[b].Priority
			}
			if idle[a].Type != idle[b].Type {
				return idle[a].Type == JobTypeSingle
			}
			return idle[a].ID < idle[b].ID
		})

		job := idle[0]
		job.Status = JobAssigned
		job.Worker = worker
		job.LeaseExpiry = s.clock().Add(leaseDuration).UnixNano()
		data, err := encodeJob(job)
		if err != nil {
			return err
		}
		if err := bucket.Put(util.Uint64BE(job.ID), data); err != nil {
			return err
		}
		assigned = job
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if assigned == nil {
		return nil, false, nil
	}
	metrics.JobsPending.WithLabelValues(string(assigned.Type)).Dec()
	metrics.JobsAssigned.WithLabelValues(string(assigned.Type)).Inc()
	return assigned, true, nil
}

// Heartbeat extends the lease of a job the worker still holds.
func (s *Store) Heartbeat(jobID uint64, worker string, leaseDuration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketJobs)
		data := bucket.Get(util.Uint64BE(jobID))
		if data == nil {
			return fmt.Errorf("job %d not found", jobID)
		}
		j, err := decodeJob(data)
		if err != nil {
			return err
		}
		if j.Status != JobAssigned || j.Worker != worker || j.LeaseExpiry < s.clock().UnixNano() {
			return ErrLeaseExpired
		}
		j.LeaseExpiry = s.clock().Add(leaseDuration).UnixNano()
		updated, err := encodeJob(j)
		if err != nil {
			return err
		}
		return bucket.Put(util.Uint64BE(jobID), updated)
	})
}

// Publish stores a finished proof. It fails with ErrDuplicateJobResult if
// the job already has a result and with ErrLeaseExpired unless the calling
// worker holds an unexpired lease.
func (s *Store) Publish(jobID uint64, worker string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketJobs)
		raw := bucket.Get(util.Uint64BE(jobID))
		if raw == nil {
			return fmt.Errorf("job %d not found", jobID)
		}
		j, err := decodeJob(raw)
		if err != nil {
			return err
		}
		if j.Status == JobDone {
			return ErrDuplicateJobResult
		}
		if j.Status != JobAssigned || j.Worker != worker || j.LeaseExpiry < s.clock().UnixNano() {
			return ErrLeaseExpired
		}

		var proofBucket []byte
		var key []byte
		switch j.Type {
		case JobTypeSingle:
			proofBucket = bucketSingle
			key = util.Uint32BE(uint32(j.FirstBlock))
		case JobTypeAggregated:
			proofBucket = bucketAggregated
			key = append(util.Uint32BE(uint32(j.FirstBlock)), util.Uint32BE(uint32(j.LastBlock))...)
		default:
			return fmt.Errorf("job %d has unknown type %q", jobID, j.Type)
		}
		if err := tx.Bucket(proofBucket).Put(key, data); err != nil {
			return err
		}

		j.Status = JobDone
		updated, err := encodeJob(j)
		if err != nil {
			return err
		}
		return bucket.Put(util.Uint64BE(jobID), updated)
	})
	if err != nil {
		return err
	}
	return nil
}

// StopWorker returns every job held by the worker to the idle state.
func (s *Store) StopWorker(worker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketJobs)
		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			j, err := decodeJob(v)
			if err != nil {
				return err
			}
			if j.Status == JobAssigned && j.Worker == worker {
				j.Status = JobIdle
				j.Worker = ""
				j.LeaseExpiry = 0
				updated, err := encodeJob(j)
				if err != nil {
					return err
				}
				if err := bucket.Put(util.Uint64BE(j.ID), updated); err != nil {
					return err
				}
				metrics.JobsPending.WithLabelValues(string(j.Type)).Inc()
			}
		}
		return nil
	})
}

// MarkStaleJobsIdle returns assigned jobs with expired leases to idle and
// reports how many were reclaimed.
func (s *Store) MarkStaleJobsIdle() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reclaimed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		now := s.clock().UnixNano()
		bucket := tx.Bucket(bucketJobs)
		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			j, err := decodeJob(v)
			if err != nil {
				return err
			}
			if j.Status == JobAssigned && j.LeaseExpiry < now {
				j.Status = JobIdle
				j.Worker = ""
				j.LeaseExpiry = 0
				updated, err := encodeJob(j)
				if err != nil {
					return err
				}
				if err := bucket.Put(util.Uint64BE(j.ID), updated); err != nil {
					return err
				}
				reclaimed++
				metrics.JobsPending.WithLabelValues(string(j.Type)).Inc()
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		metrics.StaleJobsReclaimed.Add(float64(reclaimed))
		s.logger.Info("reclaimed stale jobs", zap.Int("count", reclaimed))
	}
	return reclaimed, nil
}

// IdleJobCount reports the number of jobs not yet done (idle or assigned),
// used by the scaler oracle as the backlog.
func (s *Store) IdleJobCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(bucketJobs).Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			j, err := decodeJob(v)
			if err != nil {
				return err
			}
			if j.Status != JobDone {
				count++
			}
		}
		return nil
	})
	return count, err
}

// SaveWitnessBytes stores a block's serialized witness.
func (s *Store) SaveWitnessBytes(block types.BlockNumber, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWitnesses).Put(util.Uint32BE(uint32(block)), data)
	})
}

// WitnessBytes loads a block's witness, if present.
func (s *Store) WitnessBytes(block types.BlockNumber) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketWitnesses).Get(util.Uint32BE(uint32(block)))
		if data != nil {
			out = append([]byte(nil), data...)
		}
		return nil
	})
	return out, out != nil, err
}

// WitnessedBlocks lists block numbers with stored witnesses, ascending.
func (s *Store) WitnessedBlocks() ([]types.BlockNumber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.BlockNumber
	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(bucketWitnesses).Cursor()
		for k, _ := cursor.First(); k != nil; k, _ = cursor.Next() {
			out = append(out, types.BlockNumber(binary.BigEndian.Uint32(k)))
		}
		return nil
	})
	return out, err
}

// SingleProofBytes loads a published single proof for a block.
func (s *Store) SingleProofBytes(block types.BlockNumber) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSingle).Get(util.Uint32BE(uint32(block)))
		if data != nil {
			out = append([]byte(nil), data...)
		}
		return nil
	})
	return out, out != nil, err
}

// LastAggregatedBlock returns the highest block covered by any stored
// aggregated proof, zero if none.
func (s *Store) LastAggregatedBlock() (types.BlockNumber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last types.BlockNumber
	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(bucketAggregated).Cursor()
		for k, _ := cursor.First(); k != nil; k, _ = cursor.Next() {
			to := types.BlockNumber(binary.BigEndian.Uint32(k[4:8]))
			if to > last {
				last = to
			}
		}
		return nil
	})
	return last, err
}

// JobByID loads one job table entry.
func (s *Store) JobByID(id uint64) (*Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var job *Job
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketJobs).Get(util.Uint64BE(id))
		if data == nil {
			return nil
		}
		j, err := decodeJob(data)
		if err != nil {
			return err
		}
		job = j
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return job, job != nil, nil
}

// Package prover coordinates external stateless proof workers: it owns the
// job table with its lease protocol, serves the worker HTTP API, generates
// jobs from finished witnesses, and aggregates single proofs recursively.
package prover

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254"

	"github.com/djkazic/zkrollup-go/internal/ff"
	"github.com/djkazic/zkrollup-go/internal/types"
	"github.com/djkazic/zkrollup-go/pkg/util"
)

// Coordinator errors surfaced to workers with specific codes.
var (
	ErrDuplicateJobResult = errors.New("duplicate key: job result already published")
	ErrLeaseExpired       = errors.New("lease expired")
	ErrVerifyKeyMismatch  = errors.New("verifying key mismatch")
	ErrInputsOutOfOrder   = errors.New("proof inputs out of order")
	ErrSerialization      = errors.New("proof serialization error")
)

// JobType distinguishes single-block jobs from aggregation jobs.
type JobType string

const (
	JobTypeSingle     JobType = "single"
	JobTypeAggregated JobType = "aggregated"
)

// Job priorities; a lower number is served first.
const (
	AggregatedProofJobPriority = 0
	SingleProofJobPriority     = 1
)

// JobStatus is the lifecycle state of a job table entry.
type JobStatus string

const (
	JobIdle     JobStatus = "idle"
	JobAssigned JobStatus = "assigned"
	JobDone     JobStatus = "done"
)

// Job is one job table entry.
type Job struct {
	ID         uint64
	Type       JobType
	FirstBlock types.BlockNumber
	LastBlock  types.BlockNumber
	Payload    []byte
	Priority   int

	Status JobStatus
	Worker string
	// LeaseExpiry is UnixNano of the lease deadline while assigned.
	LeaseExpiry int64
}

// proofVersion is the serialization version byte of proof artifacts.
const proofVersion byte = 1

// VerifyingKey pins the pairing points a proof is checked against.
type VerifyingKey struct {
	X bn254.G2Affine
	Y bn254.G2Affine
}

// Hash identifies the key; every proof carries it so mixed-key aggregation
// is rejected.
func (vk *VerifyingKey) Hash() [32]byte {
	xb := vk.X.RawBytes()
	yb := vk.Y.RawBytes()
	return util.Sha256(append(xb[:], yb[:]...))
}

// SingleProof attests one block's state transition. The proof relation is
// e(A, X) == e(B, Y); Input is the block's public-data commitment.
type SingleProof struct {
	Block  types.BlockNumber
	VkHash [32]byte

	A bn254.G1Affine
	B bn254.G1Affine

	Evaluations []ff.Fr
	Input       ff.Fr
}

// Verify checks the pairing relation against a verifying key.
func (p *SingleProof) Verify(vk *VerifyingKey) (bool, error) {
	if p.VkHash != vk.Hash() {
		return false, ErrVerifyKeyMismatch
	}
	var negB bn254.G1Affine
	negB.Neg(&p.B)
	return bn254.PairingCheck(
		[]bn254.G1Affine{p.A, negB},
		[]bn254.G2Affine{vk.X, vk.Y},
	)
}

// Serialize encodes the proof: version byte, block number, key hash, the
// uncompressed group elements, then the evaluation vector and the input as
// big-endian 32-byte field elements.
func (p *SingleProof) Serialize() []byte {
	out := []byte{proofVersion}
	out = append(out, util.Uint32BE(uint32(p.Block))...)
	out = append(out, p.VkHash[:]...)
	a := p.A.RawBytes()
	out = append(out, a[:]...)
	b := p.B.RawBytes()
	out = append(out, b[:]...)
	out = append(out, util.Uint32BE(uint32(len(p.Evaluations)))...)
	for i := range p.Evaluations {
		e := ff.ToBytesBE(&p.Evaluations[i])
		out = append(out, e[:]...)
	}
	in := ff.ToBytesBE(&p.Input)
	out = append(out, in[:]...)
	return out
}

// ParseSingleProof decodes a serialized proof.
func ParseSingleProof(data []byte) (*SingleProof, error) {
	const g1Size = bn254.SizeOfG1AffineUncompressed
	if len(data) < 1+4+32+2*g1Size+4+32 {
		return nil, fmt.Errorf("%w: truncated proof", ErrSerialization)
	}
	if data[0] != proofVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrSerialization, data[0])
	}
	p := &SingleProof{}
	off := 1
	p.Block = types.BlockNumber(binary.BigEndian.Uint32(data[off:]))
	off += 4
	copy(p.VkHash[:], data[off:off+32])
	off += 32
	if _, err := p.A.SetBytes(data[off : off+g1Size]); err != nil {
		return nil, fmt.Errorf("%w: point A: %v", ErrSerialization, err)
	}
	off += g1Size
	if _, err := p.B.SetBytes(data[off : off+g1Size]); err != nil {
		return nil, fmt.Errorf("%w: point B: %v", ErrSerialization, err)
	}
	off += g1Size
	n := int(binary.BigEndian.Uint32(data[off:]))
	off += 4
	if len(data) != off+(n+1)*ff.FrByteSize {
		return nil, fmt.Errorf("%w: wrong length", ErrSerialization)
	}
	p.Evaluations = make([]ff.Fr, n)
	for i := 0; i < n; i++ {
		e, err := ff.FromBytesBE(data[off : off+ff.FrByteSize])
		if err != nil {
			return nil, fmt.Errorf("%w: evaluation %d: %v", ErrSerialization, i, err)
		}
		p.Evaluations[i] = e
		off += ff.FrByteSize
	}
	in, err := ff.FromBytesBE(data[off : off+ff.FrByteSize])
	if err != nil {
		return nil, fmt.Errorf("%w: input: %v", ErrSerialization, err)
	}
	p.Input = in
	return p, nil
}

// MarshalJSON wraps the binary form in base64.
func (p *SingleProof) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", base64.StdEncoding.EncodeToString(p.Serialize()))), nil
}

// UnmarshalJSON inverts MarshalJSON.
func (p *SingleProof) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("%w: expected base64 string", ErrSerialization)
	}
	raw, err := base64.StdEncoding.DecodeString(string(data[1 : len(data)-1]))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	parsed, err := ParseSingleProof(raw)
	if err != nil {
		return err
	}
	*p = *parsed
	return nil
}

// AggregatedProof attests a contiguous range of blocks. Its public input
// commits to the ordered vector of single-block inputs.
type AggregatedProof struct {
	FirstBlock types.BlockNumber
	LastBlock  types.BlockNumber
	VkHash     [32]byte

	A bn254.G1Affine
	B bn254.G1Affine

	Inputs          []ff.Fr
	AggregatedInput ff.Fr
}

// Verify checks the folded pairing relation.
func (p *AggregatedProof) Verify(vk *VerifyingKey) (bool, error) {
	if p.VkHash != vk.Hash() {
		return false, ErrVerifyKeyMismatch
	}
	var negB bn254.G1Affine
	negB.Neg(&p.B)
	return bn254.PairingCheck(
		[]bn254.G1Affine{p.A, negB},
		[]bn254.G2Affine{vk.X, vk.Y},
	)
}

// Serialize encodes the aggregated proof with the same conventions as
// single proofs.
func (p *AggregatedProof) Serialize() []byte {
	out := []byte{proofVersion}
	out = append(out, util.Uint32BE(uint32(p.FirstBlock))...)
	out = append(out, util.Uint32BE(uint32(p.LastBlock))...)
	out = append(out, p.VkHash[:]...)
	a := p.A.RawBytes()
	out = append(out, a[:]...)
	b := p.B.RawBytes()
	out = append(out, b[:]...)
	out = append(out, util.Uint32BE(uint32(len(p.Inputs)))...)
	for i := range p.Inputs {
		e := ff.ToBytesBE(&p.Inputs[i])
		out = append(out, e[:]...)
	}
	in := ff.ToBytesBE(&p.AggregatedInput)
	out = append(out, in[:]...)
	return out
}

// ParseAggregatedProof decodes a serialized aggregated proof.
func ParseAggregatedProof(data []byte) (*AggregatedProof, error) {
	const g1Size = bn254.SizeOfG1AffineUncompressed
	if len(data) < 1+8+32+2*g1Size+4+32 {
		return nil, fmt.Errorf("%w: truncated proof", ErrSerialization)
	}
	if data[0] != proofVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrSerialization, data[0])
	}
	p := &AggregatedProof{}
	off := 1
	p.FirstBlock = types.BlockNumber(binary.BigEndian.Uint32(data[off:]))
	off += 4
	p.LastBlock = types.BlockNumber(binary.BigEndian.Uint32(data[off:]))
	off += 4
	copy(p.VkHash[:], data[off:off+32])
	off += 32
	if _, err := p.A.SetBytes(data[off : off+g1Size]); err != nil {
		return nil, fmt.Errorf("%w: point A: %v", ErrSerialization, err)
	}
	off += g1Size
	if _, err := p.B.SetBytes(data[off : off+g1Size]); err != nil {
		return nil, fmt.Errorf("%w: point B: %v", ErrSerialization, err)
	}
	off += g1Size
	n := int(binary.BigEndian.Uint32(data[off:]))
	off += 4
	if len(data) != off+(n+1)*ff.FrByteSize {
		return nil, fmt.Errorf("%w: wrong length", ErrSerialization)
	}
	p.Inputs = make([]ff.Fr, n)
	for i := 0; i < n; i++ {
		e, err := ff.FromBytesBE(data[off : off+ff.FrByteSize])
		if err != nil {
			return nil, fmt.Errorf("%w: input %d: %v", ErrSerialization, i, err)
		}
		p.Inputs[i] = e
		off += ff.FrByteSize
	}
	in, err := ff.FromBytesBE(data[off : off+ff.FrByteSize])
	if err != nil {
		return nil, fmt.Errorf("%w: aggregated input: %v", ErrSerialization, err)
	}
	p.AggregatedInput = in
	return p, nil
}

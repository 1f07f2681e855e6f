package smt

import (
	"fmt"

	"github.com/djkazic/zkrollup-go/internal/ff"
)

// SparseMerkleTree is a fixed-depth binary Merkle tree that stores only
// populated leaves. Interior hashes are materialized lazily and cached;
// unpopulated subtrees resolve to precomputed zero hashes per level.
//
// Nodes are indexed heap-style starting with index(root) = 1; a leaf i lives
// at node index 2^depth + i.
type SparseMerkleTree[T any] struct {
	depth    int
	hasher   Hasher
	leafHash func(T) ff.Fr

	items     map[uint64]T
	emptyLeaf T

	// prehashed[d] is the hash of an empty subtree rooted at node depth d.
	prehashed []ff.Fr
	cache     map[uint64]ff.Fr
	populated map[uint64]struct{}
}

// Witness is a Merkle path: the leaf plus one sibling hash per level,
// ordered from the leaf to the root.
type Witness[T any] struct {
	Leaf     T
	Siblings []ff.Fr
}

// NewSparseMerkleTree builds an empty tree. leafHash must be a pure function
// of the leaf value; emptyLeaf is the value unpopulated slots decode to.
func NewSparseMerkleTree[T any](depth int, hasher Hasher, leafHash func(T) ff.Fr, emptyLeaf T) *SparseMerkleTree[T] {
	if depth < 1 || depth > 62 {
		panic(fmt.Sprintf("unsupported tree depth %d", depth))
	}

	prehashed := make([]ff.Fr, depth+1)
	cur := leafHash(emptyLeaf)
	prehashed[depth] = cur
	for level := 0; level < depth; level++ {
		cur = hasher.Compress(cur, cur, level)
		prehashed[depth-level-1] = cur
	}

	return &SparseMerkleTree[T]{
		depth:     depth,
		hasher:    hasher,
		leafHash:  leafHash,
		items:     make(map[uint64]T),
		emptyLeaf: emptyLeaf,
		prehashed: prehashed,
		cache:     make(map[uint64]ff.Fr),
		populated: make(map[uint64]struct{}),
	}
}

// Capacity reports how many leaves the tree can hold.
func (t *SparseMerkleTree[T]) Capacity() uint64 {
	return 1 << t.depth
}

// Depth reports the tree depth.
func (t *SparseMerkleTree[T]) Depth() int {
	return t.depth
}

// Get returns the leaf at index i, or the empty leaf if unpopulated.
func (t *SparseMerkleTree[T]) Get(i uint64) (T, bool) {
	item, ok := t.items[i]
	if !ok {
		return t.emptyLeaf, false
	}
	return item, true
}

// Insert overwrites the leaf at index i and invalidates every cached
// ancestor hash along its path.
func (t *SparseMerkleTree[T]) Insert(i uint64, item T) {
	if i >= t.Capacity() {
		panic(fmt.Sprintf("leaf index %d out of range for depth %d", i, t.depth))
	}
	t.items[i] = item

	node := uint64(1)<<t.depth + i
	for node >= 1 {
		delete(t.cache, node)
		t.populated[node] = struct{}{}
		if node == 1 {
			break
		}
		node >>= 1
	}
}

// Remove resets the leaf at index i to the empty leaf.
func (t *SparseMerkleTree[T]) Remove(i uint64) {
	t.Insert(i, t.emptyLeaf)
	delete(t.items, i)
}

// Root returns the tree root, extending the hash cache as needed.
func (t *SparseMerkleTree[T]) Root() ff.Fr {
	return t.hashNode(1, 0)
}

// MerkleWitness returns the leaf at i together with the sibling hash at each
// level of its path. Recomputing the root from the returned witness always
// yields Root().
func (t *SparseMerkleTree[T]) MerkleWitness(i uint64) Witness[T] {
	if i >= t.Capacity() {
		panic(fmt.Sprintf("leaf index %d out of range for depth %d", i, t.depth))
	}

	leaf, _ := t.Get(i)
	siblings := make([]ff.Fr, t.depth)
	node := uint64(1)<<t.depth + i
	for level := 0; level < t.depth; level++ {
		sibling := node ^ 1
		siblings[level] = t.hashNode(sibling, t.depth-level)
		node >>= 1
	}
	return Witness[T]{Leaf: leaf, Siblings: siblings}
}

// hashNode resolves the hash of the node at the given heap index and node
// depth (root depth 0), from the cache, the zero-subtree table, or by
// recursing into populated children.
func (t *SparseMerkleTree[T]) hashNode(node uint64, nodeDepth int) ff.Fr {
	if _, ok := t.populated[node]; !ok {
		return t.prehashed[nodeDepth]
	}
	if h, ok := t.cache[node]; ok {
		return h
	}

	var h ff.Fr
	if nodeDepth == t.depth {
		leaf, ok := t.items[node-uint64(1)<<t.depth]
		if !ok {
			leaf = t.emptyLeaf
		}
		h = t.leafHash(leaf)
	} else {
		left := t.hashNode(2*node, nodeDepth+1)
		right := t.hashNode(2*node+1, nodeDepth+1)
		h = t.hasher.Compress(left, right, t.depth-nodeDepth-1)
	}
	t.cache[node] = h
	return h
}

// VerifyWitness recomputes a root from a leaf hash and sibling path. The
// index selects left/right placement at each level.
func VerifyWitness(hasher Hasher, leafHash ff.Fr, siblings []ff.Fr, index uint64) ff.Fr {
	cur := leafHash
	for level, sibling := range siblings {
		if index&1 == 0 {
			cur = hasher.Compress(cur, sibling, level)
		} else {
			cur = hasher.Compress(sibling, cur, level)
		}
		index >>= 1
	}
	return cur
}

package abitree

import (
	"math/rand"

	"github.com/fuzzland/ityfuzz-go/internal/evmtypes"
)

// Havoc is a byte-level mutator seeded with access-pattern words (VM
// storage slots the contract itself has stored), per spec §4.F "biased
// toward values the contract itself has stored".
type Havoc struct {
	Rand  *rand.Rand
	Seeds [][]byte
}

func (h *Havoc) randomByte() byte { return byte(h.Rand.Intn(256)) }

func (h *Havoc) seededWord() []byte {
	if len(h.Seeds) == 0 {
		return nil
	}
	return h.Seeds[h.Rand.Intn(len(h.Seeds))]
}

// MutateScalar flips, replaces, or seeds a 32-byte scalar word.
func (h *Havoc) MutateScalar(word []byte) []byte {
	out := append([]byte(nil), word...)
	if seed := h.seededWord(); seed != nil && h.Rand.Intn(3) == 0 {
		copy(out, seed)
		return out
	}
	idx := h.Rand.Intn(len(out))
	out[idx] = h.randomByte()
	return out
}

// MutateBytes mutates a variable-length buffer, occasionally expanding it.
func (h *Havoc) MutateBytes(data []byte, allowExpand bool) []byte {
	out := append([]byte(nil), data...)
	if allowExpand && h.Rand.Intn(4) == 0 {
		out = append(out, h.randomByte())
		return out
	}
	if len(out) == 0 {
		return []byte{h.randomByte()}
	}
	idx := h.Rand.Intn(len(out))
	out[idx] = h.randomByte()
	return out
}

// pickCallerOrZero implements the 90/10 address-mutation split from §4.F.
func pickCallerOrZero(r *rand.Rand, callers []evmtypes.Address) evmtypes.Address {
	if len(callers) > 0 && r.Intn(10) < 9 {
		return callers[r.Intn(len(callers))]
	}
	return evmtypes.Address{}
}

// MutateNode mutates one ABI subtree in place per the rules in spec §4.F's
// "ABI-tree mutation" paragraph, given a pool of eligible caller addresses
// for address-typed words and an ABI registry callback for Unknown resample.
func MutateNode(n *Node, r *rand.Rand, h *Havoc, callers []evmtypes.Address, resample func(size int) *Node) *Node {
	switch n.Kind {
	case Word:
		if n.IsAddress {
			addr := pickCallerOrZero(r, callers)
			return NewAddressWord(addr)
		}
		return &Node{Kind: Word, Bytes: h.MutateScalar(n.Bytes), IsAddress: false}

	case Dynamic:
		return &Node{Kind: Dynamic, Bytes: h.MutateBytes(n.Bytes, true), Multiplier: n.Multiplier}

	case Array:
		if len(n.Children) == 0 {
			return n
		}
		children := append([]*Node(nil), n.Children...)
		if n.DynamicSize && r.Intn(5) == 0 {
			// 20%: append a cloned element to grow the array.
			clone := cloneTemplate(children[len(children)-1])
			children = append(children, MutateNode(clone, r, h, callers, resample))
		} else {
			// 80%: mutate one existing element.
			idx := r.Intn(len(children))
			children[idx] = MutateNode(children[idx], r, h, callers, resample)
		}
		return &Node{Kind: Array, Children: children, DynamicSize: n.DynamicSize}

	case Unknown:
		if resample != nil {
			return resample(n.Size)
		}
		return n

	default:
		return n
	}
}

// RandomPath descends into a uniformly random subtree, returning the path
// of indices from the root so the caller can replace it after mutation.
func RandomPath(n *Node, r *rand.Rand) []int {
	var path []int
	cur := n
	for cur.Kind == Array && len(cur.Children) > 0 && r.Intn(2) == 0 {
		idx := r.Intn(len(cur.Children))
		path = append(path, idx)
		cur = cur.Children[idx]
	}
	return path
}

// ReplaceAt returns a copy of root with the subtree at path replaced by
// applying mutate to the node found there.
func ReplaceAt(root *Node, path []int, mutate func(*Node) *Node) *Node {
	if len(path) == 0 {
		return mutate(root)
	}
	cp := *root
	cp.Children = append([]*Node(nil), root.Children...)
	idx := path[0]
	cp.Children[idx] = ReplaceAt(root.Children[idx], path[1:], mutate)
	return &cp
}

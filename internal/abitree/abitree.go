// Package abitree implements the ABI value tree (spec §3 "ABI value tree",
// Glossary): a typed union with canonical Solidity head/tail encoding, and
// the mutation operators the fuzzer's mutator applies to it.
package abitree

import (
	"fmt"

	"github.com/fuzzland/ityfuzz-go/internal/evmtypes"
)

// Kind tags the closed union of ABI node shapes.
type Kind uint8

const (
	Empty Kind = iota
	Word       // static 32-byte word; IsAddress marks it as holding an address
	Dynamic    // bytes/string; Multiplier is the byte-length granularity (1 for bytes/string)
	Array      // tuple or array; Dynamic marks a length-prefixed dynamic array
	Unknown    // unparsed type; kept concrete+size for round-trip fidelity
)

// Node is one ABI tree value. Only the fields relevant to Kind are set.
type Node struct {
	Kind Kind

	// Word
	Bytes     []byte // 32 bytes for Word, raw payload for Dynamic/Unknown
	IsAddress bool

	// Dynamic
	Multiplier int

	// Array
	Children    []*Node
	DynamicSize bool

	// Unknown
	Size int
}

func NewWord(value []byte, isAddress bool) *Node {
	var buf [32]byte
	copy(buf[32-len(value):], value)
	return &Node{Kind: Word, Bytes: buf[:], IsAddress: isAddress}
}

func NewAddressWord(addr evmtypes.Address) *Node {
	return NewWord(addr[:], true)
}

func NewDynamic(data []byte) *Node {
	return &Node{Kind: Dynamic, Bytes: data, Multiplier: 1}
}

func NewArray(children []*Node, dynamicSize bool) *Node {
	return &Node{Kind: Array, Children: children, DynamicSize: dynamicSize}
}

func NewUnknown(concrete []byte, size int) *Node {
	return &Node{Kind: Unknown, Bytes: concrete, Size: size}
}

// IsStatic reports whether n's Solidity ABI encoding has a fixed 32-byte
// multiple size known without inspecting contents (Word, and Array whose
// children are all static and it is not itself dynamic-sized).
func (n *Node) IsStatic() bool {
	switch n.Kind {
	case Word, Empty:
		return true
	case Dynamic:
		return false
	case Array:
		if n.DynamicSize {
			return false
		}
		for _, c := range n.Children {
			if !c.IsStatic() {
				return false
			}
		}
		return true
	case Unknown:
		return n.Size%32 == 0 && n.Size > 0
	}
	return true
}

// HeadSize is the number of 32-byte words n occupies in the head region: a
// static value's full word length (more than 1 for a static array), or 1
// for a dynamic value's offset pointer.
func (n *Node) HeadSize() int {
	if n.IsStatic() {
		return n.wordsLen()
	}
	return 1
}

func (n *Node) wordsLen() int {
	switch n.Kind {
	case Word, Empty:
		return 1
	case Array:
		total := 0
		for _, c := range n.Children {
			total += c.HeadSize()
		}
		if n.DynamicSize {
			total++ // length prefix
		}
		return total
	case Unknown:
		return n.Size / 32
	default:
		return 1
	}
}

// Encode produces the canonical Solidity ABI encoding of n as a top-level
// argument list (n must be an Array of the call's arguments), per spec §3
// "canonical Solidity-style encoding".
func Encode(n *Node) []byte {
	if n.Kind != Array {
		n = NewArray([]*Node{n}, false)
	}
	head, tail := encodeChildren(n.Children)
	return append(head, tail...)
}

func encodeChildren(children []*Node) (head, tail []byte) {
	headSize := 0
	for _, c := range children {
		headSize += 32 * c.HeadSize()
	}
	tailOffset := headSize
	for _, c := range children {
		if c.IsStatic() {
			head = append(head, encodeStatic(c)...)
			continue
		}
		var ptr [32]byte
		putUint64At(ptr[:], uint64(tailOffset))
		head = append(head, ptr[:]...)
		enc := encodeDynamic(c)
		tail = append(tail, enc...)
		tailOffset += len(enc)
	}
	return head, tail
}

func encodeStatic(n *Node) []byte {
	switch n.Kind {
	case Word, Empty:
		if n.Kind == Empty {
			return make([]byte, 32)
		}
		return n.Bytes
	case Array:
		h, t := encodeChildren(n.Children)
		return append(h, t...)
	case Unknown:
		out := make([]byte, n.Size)
		copy(out, n.Bytes)
		return out
	default:
		return make([]byte, 32)
	}
}

func encodeDynamic(n *Node) []byte {
	switch n.Kind {
	case Dynamic:
		var lenWord [32]byte
		putUint64At(lenWord[:], uint64(len(n.Bytes)))
		out := append([]byte{}, lenWord[:]...)
		out = append(out, padTo32(n.Bytes)...)
		return out
	case Array:
		h, t := encodeChildren(n.Children)
		body := append(h, t...)
		if !n.DynamicSize {
			return body
		}
		var lenWord [32]byte
		putUint64At(lenWord[:], uint64(len(n.Children)))
		return append(lenWord[:], body...)
	case Unknown:
		return padTo32(n.Bytes)
	default:
		return nil
	}
}

func padTo32(b []byte) []byte {
	rem := len(b) % 32
	if rem == 0 {
		return b
	}
	return append(append([]byte{}, b...), make([]byte, 32-rem)...)
}

func putUint64At(buf []byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[31-i] = byte(v >> (8 * uint(i)))
	}
}

// Decode reconstructs values against a template tree `t` (whose shape
// encodes the expected types), per the round-trip property in spec §8.1.
// Unknown nodes are not round-trippable and are rejected.
func Decode(data []byte, template *Node) (*Node, error) {
	if hasUnknown(template) {
		return nil, fmt.Errorf("abitree: cannot decode through an Unknown node")
	}
	top := template
	if top.Kind != Array {
		top = NewArray([]*Node{template}, false)
	}
	out, _, err := decodeChildren(data, 0, top.Children)
	if err != nil {
		return nil, err
	}
	if template.Kind != Array {
		return out[0], nil
	}
	return NewArray(out, template.DynamicSize), nil
}

func hasUnknown(n *Node) bool {
	if n.Kind == Unknown {
		return true
	}
	for _, c := range n.Children {
		if hasUnknown(c) {
			return true
		}
	}
	return false
}

func decodeChildren(data []byte, base int, templates []*Node) ([]*Node, int, error) {
	out := make([]*Node, len(templates))
	pos := base
	for i, tmpl := range templates {
		if tmpl.IsStatic() {
			n, consumed, err := decodeStatic(data, pos, tmpl)
			if err != nil {
				return nil, 0, err
			}
			out[i] = n
			pos += consumed
			continue
		}
		if pos+32 > len(data) {
			return nil, 0, fmt.Errorf("abitree: truncated offset word at %d", pos)
		}
		offset := int(beUint64(data[pos : pos+32]))
		n, err := decodeDynamic(data, base+offset, tmpl)
		if err != nil {
			return nil, 0, err
		}
		out[i] = n
		pos += 32
	}
	return out, pos - base, nil
}

func decodeStatic(data []byte, pos int, tmpl *Node) (*Node, int, error) {
	switch tmpl.Kind {
	case Word, Empty:
		if pos+32 > len(data) {
			return nil, 0, fmt.Errorf("abitree: truncated word at %d", pos)
		}
		if tmpl.Kind == Empty {
			return &Node{Kind: Empty}, 32, nil
		}
		return NewWord(data[pos:pos+32], tmpl.IsAddress), 32, nil
	case Array:
		children, consumed, err := decodeChildren(data, pos, tmpl.Children)
		if err != nil {
			return nil, 0, err
		}
		return NewArray(children, false), consumed, nil
	default:
		return nil, 0, fmt.Errorf("abitree: unsupported static kind")
	}
}

func decodeDynamic(data []byte, pos int, tmpl *Node) (*Node, error) {
	switch tmpl.Kind {
	case Dynamic:
		if pos+32 > len(data) {
			return nil, fmt.Errorf("abitree: truncated length word at %d", pos)
		}
		length := int(beUint64(data[pos : pos+32]))
		start := pos + 32
		if start+length > len(data) {
			return nil, fmt.Errorf("abitree: truncated dynamic payload at %d", start)
		}
		return NewDynamic(append([]byte(nil), data[start:start+length]...)), nil
	case Array:
		if !tmpl.DynamicSize {
			children, _, err := decodeChildren(data, pos, tmpl.Children)
			if err != nil {
				return nil, err
			}
			return NewArray(children, false), nil
		}
		if pos+32 > len(data) {
			return nil, fmt.Errorf("abitree: truncated array length at %d", pos)
		}
		n := int(beUint64(data[pos : pos+32]))
		elemTemplates := make([]*Node, n)
		for i := range elemTemplates {
			elemTemplates[i] = cloneTemplate(tmpl.Children[0])
		}
		children, _, err := decodeChildren(data, pos+32, elemTemplates)
		if err != nil {
			return nil, err
		}
		return NewArray(children, true), nil
	default:
		return nil, fmt.Errorf("abitree: unsupported dynamic kind")
	}
}

func cloneTemplate(n *Node) *Node {
	cp := *n
	cp.Children = make([]*Node, len(n.Children))
	for i, c := range n.Children {
		cp.Children[i] = cloneTemplate(c)
	}
	return &cp
}

func beUint64(word []byte) uint64 {
	var v uint64
	for i := len(word) - 8; i < len(word); i++ {
		v = (v << 8) | uint64(word[i])
	}
	return v
}

// Equal performs a structural comparison; Unknown nodes are compared by
// Size only, ignoring their raw bytes.
func Equal(a, b *Node) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case Word:
		return a.IsAddress == b.IsAddress && bytesEqual(a.Bytes, b.Bytes)
	case Dynamic:
		return bytesEqual(a.Bytes, b.Bytes)
	case Array:
		if a.DynamicSize != b.DynamicSize || len(a.Children) != len(b.Children) {
			return false
		}
		for i := range a.Children {
			if !Equal(a.Children[i], b.Children[i]) {
				return false
			}
		}
		return true
	case Unknown:
		return a.Size == b.Size
	default:
		return true
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Package etf implements the subset of the Erlang external term format that
// the gateway exchanges with its backend: integers, atoms, pids, references,
// tuples, lists, char lists, binaries, maps and floats.
//
// Decoded byte data is always copied out of the input buffer, so callers may
// reuse or release frame buffers as soon as Decode returns.
package etf

import (
	"errors"
	"fmt"
)

// Version is the leading byte of every encoded term.
const Version = 131

const (
	tagNewFloat         = 70
	tagNewPid           = 88
	tagNewerReference   = 90
	tagSmallInteger     = 97
	tagInteger          = 98
	tagAtom             = 100
	tagPid              = 103
	tagSmallTuple       = 104
	tagLargeTuple       = 105
	tagNil              = 106
	tagString           = 107
	tagList             = 108
	tagBinary           = 109
	tagSmallBig         = 110
	tagNewReference     = 114
	tagSmallAtom        = 115
	tagMap              = 116
	tagAtomUTF8         = 118
	tagSmallAtomUTF8    = 119
	maxStringExtLength  = 65535
	maxDecodeDepth      = 512
	maxSmallAtomLength  = 255
	maxAtomLength       = 65535
	maxSmallTupleLength = 255
)

var (
	// ErrVersion reports a buffer that does not start with the version byte.
	ErrVersion = errors.New("etf: missing version byte")
	// ErrTruncated reports a buffer that ends in the middle of a term.
	ErrTruncated = errors.New("etf: truncated term")
	// ErrTrailing reports bytes left after a complete term.
	ErrTrailing = errors.New("etf: trailing bytes after term")
	// ErrUnsupported reports a term type outside the supported subset.
	ErrUnsupported = errors.New("etf: unsupported term")
)

// Term is any value this package can encode or decode: Atom, Pid, Ref, Tuple,
// List, CharList, Binary, Map, int64 (and the other Go integer kinds on
// encode), float64.
type Term any

// Atom is an Erlang atom.
type Atom string

// Tuple is an Erlang tuple.
type Tuple []Term

// List is a proper Erlang list. The empty list decodes as a non-nil empty List.
type List []Term

// CharList is an Erlang string: a list of bytes sent as STRING_EXT.
type CharList []byte

// Binary is an Erlang binary.
type Binary []byte

// Pair is one association of a Map.
type Pair struct {
	Key   Term
	Value Term
}

// Map is an Erlang map in wire order.
type Map []Pair

// Pid identifies an Erlang process.
type Pid struct {
	Node     Atom
	ID       uint32
	Serial   uint32
	Creation uint32
}

// Ref is an Erlang reference.
type Ref struct {
	Node     Atom
	Creation uint32
	ID       []uint32
}

func (p Pid) String() string {
	return fmt.Sprintf("<%s.%d.%d>", p.Node, p.ID, p.Serial)
}

// Bytes returns the bytes of a byte-string term: a Binary, a CharList, the
// empty list, or a List of integers in 0..255 (how long strings arrive).
func Bytes(t Term) ([]byte, bool) {
	switch v := t.(type) {
	case Binary:
		return v, true
	case CharList:
		return v, true
	case List:
		out := make([]byte, len(v))
		for i, e := range v {
			n, ok := e.(int64)
			if !ok || n < 0 || n > 255 {
				return nil, false
			}
			out[i] = byte(n)
		}
		return out, true
	}
	return nil, false
}

// Int returns the value of an integer term.
func Int(t Term) (int64, bool) {
	v, ok := t.(int64)
	return v, ok
}

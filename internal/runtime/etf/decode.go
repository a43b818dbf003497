package etf

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Decode decodes a single versioned term that must span all of b.
func Decode(b []byte) (Term, error) {
	t, rest, err := DecodePrefix(b)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrTrailing, len(rest))
	}
	return t, nil
}

// DecodePrefix decodes one versioned term from the front of b and returns the
// bytes that follow it.
func DecodePrefix(b []byte) (Term, []byte, error) {
	if len(b) == 0 || b[0] != Version {
		return nil, nil, ErrVersion
	}
	d := decoder{buf: b, pos: 1}
	t, err := d.term(0)
	if err != nil {
		return nil, nil, err
	}
	return t, b[d.pos:], nil
}

type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) remaining() int { return len(d.buf) - d.pos }

func (d *decoder) take(n int) ([]byte, error) {
	if n < 0 || d.remaining() < n {
		return nil, ErrTruncated
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *decoder) u8() (uint8, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *decoder) u16() (uint16, error) {
	b, err := d.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (d *decoder) u32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (d *decoder) copied(n int) ([]byte, error) {
	b, err := d.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// count reads an element count and rejects counts the remaining input cannot
// possibly hold, before anything is allocated.
func (d *decoder) count(n, minSize int) (int, error) {
	if n < 0 || n > d.remaining()/minSize {
		return 0, ErrTruncated
	}
	return n, nil
}

func (d *decoder) term(depth int) (Term, error) {
	if depth > maxDecodeDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrUnsupported, maxDecodeDepth)
	}
	tag, err := d.u8()
	if err != nil {
		return nil, err
	}

	switch tag {
	case tagSmallInteger:
		v, err := d.u8()
		return int64(v), err
	case tagInteger:
		v, err := d.u32()
		return int64(int32(v)), err
	case tagSmallBig:
		return d.smallBig()
	case tagNewFloat:
		v, err := d.take(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(v)), nil
	case tagAtom, tagAtomUTF8, tagSmallAtom, tagSmallAtomUTF8:
		return d.atomBody(tag)
	case tagNewPid, tagPid:
		return d.pid(tag)
	case tagNewerReference, tagNewReference:
		return d.ref(tag)
	case tagSmallTuple:
		n, err := d.u8()
		if err != nil {
			return nil, err
		}
		return d.tuple(int(n), depth)
	case tagLargeTuple:
		n, err := d.u32()
		if err != nil {
			return nil, err
		}
		return d.tuple(int(n), depth)
	case tagNil:
		return List{}, nil
	case tagString:
		n, err := d.u16()
		if err != nil {
			return nil, err
		}
		b, err := d.copied(int(n))
		return CharList(b), err
	case tagList:
		return d.list(depth)
	case tagBinary:
		n, err := d.u32()
		if err != nil {
			return nil, err
		}
		b, err := d.copied(int(n))
		return Binary(b), err
	case tagMap:
		return d.mapBody(depth)
	default:
		return nil, fmt.Errorf("%w: tag %d", ErrUnsupported, tag)
	}
}

func (d *decoder) smallBig() (Term, error) {
	n, err := d.u8()
	if err != nil {
		return nil, err
	}
	sign, err := d.u8()
	if err != nil {
		return nil, err
	}
	digits, err := d.take(int(n))
	if err != nil {
		return nil, err
	}
	if n > 8 {
		return nil, fmt.Errorf("%w: integer of %d bytes", ErrUnsupported, n)
	}
	var mag uint64
	for i := len(digits) - 1; i >= 0; i-- {
		mag = mag<<8 | uint64(digits[i])
	}
	if sign == 0 {
		if mag > math.MaxInt64 {
			return nil, fmt.Errorf("%w: integer overflows int64", ErrUnsupported)
		}
		return int64(mag), nil
	}
	if mag > 1<<63 {
		return nil, fmt.Errorf("%w: integer overflows int64", ErrUnsupported)
	}
	return -int64(mag-1) - 1, nil
}

func (d *decoder) atom() (Atom, error) {
	tag, err := d.u8()
	if err != nil {
		return "", err
	}
	switch tag {
	case tagAtom, tagAtomUTF8, tagSmallAtom, tagSmallAtomUTF8:
		t, err := d.atomBody(tag)
		if err != nil {
			return "", err
		}
		return t.(Atom), nil
	}
	return "", fmt.Errorf("%w: expected atom, got tag %d", ErrUnsupported, tag)
}

func (d *decoder) atomBody(tag byte) (Term, error) {
	var n int
	if tag == tagSmallAtom || tag == tagSmallAtomUTF8 {
		v, err := d.u8()
		if err != nil {
			return nil, err
		}
		n = int(v)
	} else {
		v, err := d.u16()
		if err != nil {
			return nil, err
		}
		n = int(v)
	}
	b, err := d.take(n)
	if err != nil {
		return nil, err
	}
	if tag == tagAtom || tag == tagSmallAtom {
		return latin1Atom(b), nil
	}
	return Atom(b), nil
}

func latin1Atom(b []byte) Atom {
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return Atom(string(runes))
}

func (d *decoder) pid(tag byte) (Term, error) {
	node, err := d.atom()
	if err != nil {
		return nil, err
	}
	id, err := d.u32()
	if err != nil {
		return nil, err
	}
	serial, err := d.u32()
	if err != nil {
		return nil, err
	}
	var creation uint32
	if tag == tagNewPid {
		creation, err = d.u32()
	} else {
		var c uint8
		c, err = d.u8()
		creation = uint32(c)
	}
	if err != nil {
		return nil, err
	}
	return Pid{Node: node, ID: id, Serial: serial, Creation: creation}, nil
}

func (d *decoder) ref(tag byte) (Term, error) {
	words, err := d.u16()
	if err != nil {
		return nil, err
	}
	node, err := d.atom()
	if err != nil {
		return nil, err
	}
	var creation uint32
	if tag == tagNewerReference {
		creation, err = d.u32()
	} else {
		var c uint8
		c, err = d.u8()
		creation = uint32(c)
	}
	if err != nil {
		return nil, err
	}
	n, err := d.count(int(words), 4)
	if err != nil {
		return nil, err
	}
	ids := make([]uint32, n)
	for i := range ids {
		if ids[i], err = d.u32(); err != nil {
			return nil, err
		}
	}
	return Ref{Node: node, Creation: creation, ID: ids}, nil
}

func (d *decoder) tuple(arity, depth int) (Term, error) {
	n, err := d.count(arity, 1)
	if err != nil {
		return nil, err
	}
	t := make(Tuple, n)
	for i := range t {
		if t[i], err = d.term(depth + 1); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (d *decoder) list(depth int) (Term, error) {
	length, err := d.u32()
	if err != nil {
		return nil, err
	}
	n, err := d.count(int(length), 1)
	if err != nil {
		return nil, err
	}
	l := make(List, n)
	for i := range l {
		if l[i], err = d.term(depth + 1); err != nil {
			return nil, err
		}
	}
	tail, err := d.u8()
	if err != nil {
		return nil, err
	}
	if tail != tagNil {
		return nil, fmt.Errorf("%w: improper list", ErrUnsupported)
	}
	return l, nil
}

func (d *decoder) mapBody(depth int) (Term, error) {
	arity, err := d.u32()
	if err != nil {
		return nil, err
	}
	n, err := d.count(int(arity), 2)
	if err != nil {
		return nil, err
	}
	m := make(Map, n)
	for i := range m {
		if m[i].Key, err = d.term(depth + 1); err != nil {
			return nil, err
		}
		if m[i].Value, err = d.term(depth + 1); err != nil {
			return nil, err
		}
	}
	return m, nil
}

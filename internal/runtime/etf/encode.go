package etf

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encode returns the encoding of t including the version byte.
func Encode(t Term) ([]byte, error) {
	return AppendTerm([]byte{Version}, t)
}

// AppendTerm appends the encoding of t, without a version byte, to buf.
func AppendTerm(buf []byte, t Term) ([]byte, error) {
	switch v := t.(type) {
	case nil:
		return append(buf, tagNil), nil
	case Atom:
		return appendAtom(buf, v)
	case bool:
		if v {
			return appendAtom(buf, "true")
		}
		return appendAtom(buf, "false")
	case int:
		return appendInt(buf, int64(v)), nil
	case int32:
		return appendInt(buf, int64(v)), nil
	case int64:
		return appendInt(buf, v), nil
	case uint8:
		return appendInt(buf, int64(v)), nil
	case uint16:
		return appendInt(buf, int64(v)), nil
	case uint32:
		return appendInt(buf, int64(v)), nil
	case float64:
		buf = append(buf, tagNewFloat)
		return binary.BigEndian.AppendUint64(buf, math.Float64bits(v)), nil
	case Binary:
		return appendBinary(buf, v), nil
	case []byte:
		return appendBinary(buf, v), nil
	case CharList:
		return appendCharList(buf, v), nil
	case string:
		return appendCharList(buf, CharList(v)), nil
	case Tuple:
		return appendTuple(buf, v)
	case List:
		return appendList(buf, v)
	case Map:
		return appendMap(buf, v)
	case Pid:
		return appendPid(buf, v)
	case Ref:
		return appendRef(buf, v)
	default:
		return nil, fmt.Errorf("%w: cannot encode %T", ErrUnsupported, t)
	}
}

func appendAtom(buf []byte, a Atom) ([]byte, error) {
	switch n := len(a); {
	case n <= maxSmallAtomLength:
		buf = append(buf, tagSmallAtomUTF8, byte(n))
	case n <= maxAtomLength:
		buf = append(buf, tagAtomUTF8)
		buf = binary.BigEndian.AppendUint16(buf, uint16(n))
	default:
		return nil, fmt.Errorf("%w: atom of %d bytes", ErrUnsupported, n)
	}
	return append(buf, a...), nil
}

func appendInt(buf []byte, n int64) []byte {
	switch {
	case n >= 0 && n <= 255:
		return append(buf, tagSmallInteger, byte(n))
	case n >= math.MinInt32 && n <= math.MaxInt32:
		buf = append(buf, tagInteger)
		return binary.BigEndian.AppendUint32(buf, uint32(int32(n)))
	}

	sign := byte(0)
	mag := uint64(n)
	if n < 0 {
		sign = 1
		mag = uint64(-(n + 1)) + 1
	}
	var digits []byte
	for mag > 0 {
		digits = append(digits, byte(mag))
		mag >>= 8
	}
	buf = append(buf, tagSmallBig, byte(len(digits)), sign)
	return append(buf, digits...)
}

func appendBinary(buf []byte, b []byte) []byte {
	buf = append(buf, tagBinary)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

// appendCharList mirrors how Erlang encodes strings: empty is NIL, short is
// STRING_EXT, anything past the STRING_EXT length limit is a list of bytes.
func appendCharList(buf []byte, s CharList) []byte {
	switch n := len(s); {
	case n == 0:
		return append(buf, tagNil)
	case n <= maxStringExtLength:
		buf = append(buf, tagString)
		buf = binary.BigEndian.AppendUint16(buf, uint16(n))
		return append(buf, s...)
	default:
		buf = append(buf, tagList)
		buf = binary.BigEndian.AppendUint32(buf, uint32(n))
		for _, c := range s {
			buf = append(buf, tagSmallInteger, c)
		}
		return append(buf, tagNil)
	}
}

func appendTuple(buf []byte, t Tuple) ([]byte, error) {
	if len(t) <= maxSmallTupleLength {
		buf = append(buf, tagSmallTuple, byte(len(t)))
	} else {
		buf = append(buf, tagLargeTuple)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(t)))
	}
	var err error
	for _, e := range t {
		if buf, err = AppendTerm(buf, e); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func appendList(buf []byte, l List) ([]byte, error) {
	if len(l) == 0 {
		return append(buf, tagNil), nil
	}
	buf = append(buf, tagList)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(l)))
	var err error
	for _, e := range l {
		if buf, err = AppendTerm(buf, e); err != nil {
			return nil, err
		}
	}
	return append(buf, tagNil), nil
}

func appendMap(buf []byte, m Map) ([]byte, error) {
	buf = append(buf, tagMap)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(m)))
	var err error
	for _, p := range m {
		if buf, err = AppendTerm(buf, p.Key); err != nil {
			return nil, err
		}
		if buf, err = AppendTerm(buf, p.Value); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func appendPid(buf []byte, p Pid) ([]byte, error) {
	buf = append(buf, tagNewPid)
	buf, err := appendAtom(buf, p.Node)
	if err != nil {
		return nil, err
	}
	buf = binary.BigEndian.AppendUint32(buf, p.ID)
	buf = binary.BigEndian.AppendUint32(buf, p.Serial)
	return binary.BigEndian.AppendUint32(buf, p.Creation), nil
}

func appendRef(buf []byte, r Ref) ([]byte, error) {
	if len(r.ID) == 0 || len(r.ID) > 5 {
		return nil, fmt.Errorf("%w: reference with %d id words", ErrUnsupported, len(r.ID))
	}
	buf = append(buf, tagNewerReference)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(r.ID)))
	buf, err := appendAtom(buf, r.Node)
	if err != nil {
		return nil, err
	}
	buf = binary.BigEndian.AppendUint32(buf, r.Creation)
	for _, w := range r.ID {
		buf = binary.BigEndian.AppendUint32(buf, w)
	}
	return buf, nil
}

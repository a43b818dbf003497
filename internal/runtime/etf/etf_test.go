package etf

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeKnownBytes(t *testing.T) {
	tests := []struct {
		name string
		term Term
		want []byte
	}{
		{"small integer", int64(42), []byte{131, 97, 42}},
		{"integer", int64(1000), []byte{131, 98, 0, 0, 3, 232}},
		{"negative integer", -1, []byte{131, 98, 255, 255, 255, 255}},
		{"atom", Atom("ok"), []byte{131, 119, 2, 'o', 'k'}},
		{"empty string is nil", "", []byte{131, 106}},
		{"string", "GET", []byte{131, 107, 0, 3, 'G', 'E', 'T'}},
		{"binary", Binary("hi"), []byte{131, 109, 0, 0, 0, 2, 'h', 'i'}},
		{"empty list", List{}, []byte{131, 106}},
		{"tuple", Tuple{int64(1), Atom("a")}, []byte{131, 104, 2, 97, 1, 119, 1, 'a'}},
		{"list", List{int64(1)}, []byte{131, 108, 0, 0, 0, 1, 97, 1, 106}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.term)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoundTripStructuredTerms(t *testing.T) {
	pid := Pid{Node: "mochevent@localhost", ID: 1, Serial: 0, Creation: 7}
	ref := Ref{Node: "a@b", Creation: 3, ID: []uint32{1, 2, 3}}
	term := Tuple{
		pid,
		ref,
		int64(math.MaxInt64),
		int64(math.MinInt64),
		int64(-300),
		3.25,
		Map{{Key: Atom("k"), Value: Binary("v")}},
		List{CharList("abc"), Binary{}},
	}

	enc, err := Encode(term)
	require.NoError(t, err)

	dec, err := Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, term, dec)
}

func TestLongStringBecomesByteList(t *testing.T) {
	long := bytes.Repeat([]byte{'x'}, maxStringExtLength+1)

	enc, err := Encode(CharList(long))
	require.NoError(t, err)
	assert.Equal(t, byte(tagList), enc[1])

	dec, err := Decode(enc)
	require.NoError(t, err)
	got, ok := Bytes(dec)
	require.True(t, ok)
	assert.Equal(t, long, got)
}

func TestDecodeLatin1Atoms(t *testing.T) {
	dec, err := Decode([]byte{131, 100, 0, 2, 'o', 0xe9})
	require.NoError(t, err)
	assert.Equal(t, Atom("oé"), dec)

	dec, err = Decode([]byte{131, 115, 1, 'x'})
	require.NoError(t, err)
	assert.Equal(t, Atom("x"), dec)
}

func TestDecodeOldPid(t *testing.T) {
	dec, err := Decode([]byte{131, 103, 115, 1, 'n', 0, 0, 0, 5, 0, 0, 0, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, Pid{Node: "n", ID: 5, Serial: 1, Creation: 2}, dec)
}

func TestDecodeCopiesBytes(t *testing.T) {
	buf := []byte{131, 109, 0, 0, 0, 3, 'a', 'b', 'c'}
	dec, err := Decode(buf)
	require.NoError(t, err)

	buf[6] = 'z'
	assert.Equal(t, Binary("abc"), dec)
}

func TestDecodePrefixReturnsRest(t *testing.T) {
	first, err := Encode(Tuple{int64(2), Atom("")})
	require.NoError(t, err)
	second, err := Encode(Binary("payload"))
	require.NoError(t, err)

	t1, rest, err := DecodePrefix(append(first, second...))
	require.NoError(t, err)
	assert.Equal(t, Tuple{int64(2), Atom("")}, t1)

	t2, err := Decode(rest)
	require.NoError(t, err)
	assert.Equal(t, Binary("payload"), t2)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{"empty", nil, ErrVersion},
		{"wrong version", []byte{130, 97, 1}, ErrVersion},
		{"truncated integer", []byte{131, 98, 0, 0}, ErrTruncated},
		{"truncated binary", []byte{131, 109, 0, 0, 0, 9, 'a'}, ErrTruncated},
		{"huge list header", []byte{131, 108, 0xff, 0xff, 0xff, 0xff}, ErrTruncated},
		{"trailing bytes", []byte{131, 97, 1, 0}, ErrTrailing},
		{"improper list", []byte{131, 108, 0, 0, 0, 1, 97, 1, 97, 2}, ErrUnsupported},
		{"unknown tag", []byte{131, 200}, ErrUnsupported},
		{"oversized big", []byte{131, 110, 9, 0, 1, 1, 1, 1, 1, 1, 1, 1, 1}, ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecodeRejectsDeepNesting(t *testing.T) {
	buf := []byte{131}
	for i := 0; i < maxDecodeDepth+2; i++ {
		buf = append(buf, tagSmallTuple, 1)
	}
	buf = append(buf, tagNil)

	_, err := Decode(buf)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestEncodeUnsupported(t *testing.T) {
	_, err := Encode(struct{}{})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestBytes(t *testing.T) {
	got, ok := Bytes(List{})
	assert.True(t, ok)
	assert.Empty(t, got)

	got, ok = Bytes(List{int64('h'), int64('i')})
	assert.True(t, ok)
	assert.Equal(t, []byte("hi"), got)

	_, ok = Bytes(List{int64(256)})
	assert.False(t, ok)

	_, ok = Bytes(Atom("nope"))
	assert.False(t, ok)
}

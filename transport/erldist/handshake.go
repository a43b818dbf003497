package erldist

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand/v2"
	"strconv"
)

// Distribution capability flags.
const (
	flagPublished          uint64 = 0x1
	flagExtendedReferences uint64 = 0x4
	flagFunTags            uint64 = 0x10
	flagNewFunTags         uint64 = 0x80
	flagExtendedPidsPorts  uint64 = 0x100
	flagExportPtrTag       uint64 = 0x200
	flagBitBinaries        uint64 = 0x400
	flagNewFloats          uint64 = 0x800
	flagUTF8Atoms          uint64 = 0x10000
	flagMapTag             uint64 = 0x20000
	flagBigCreation        uint64 = 0x40000
	flagHandshake23        uint64 = 0x1000000
	flagUnlinkID           uint64 = 0x2000000
	flagV4NC               uint64 = 1 << 34
)

// localFlags is what the gateway advertises. It is a hidden node, so
// flagPublished is left out.
const localFlags = flagExtendedReferences | flagFunTags | flagNewFunTags |
	flagExtendedPidsPorts | flagExportPtrTag | flagBitBinaries | flagNewFloats |
	flagUTF8Atoms | flagMapTag | flagBigCreation | flagHandshake23 |
	flagUnlinkID | flagV4NC

// requiredFlags must be offered by the peer for the terms we exchange.
const requiredFlags = flagExtendedReferences | flagExtendedPidsPorts | flagUTF8Atoms

const (
	protocolVersion = 6

	tagName           = 'N'
	tagOldChallenge   = 'n'
	tagStatus         = 's'
	tagChallengeReply = 'r'
	tagChallengeAck   = 'a'
)

type handshakeResult struct {
	peerName  string
	peerFlags uint64
}

// handshake runs the initiating side of the distribution handshake on rw.
func handshake(rw io.ReadWriter, name, cookie string, creation uint32) (handshakeResult, error) {
	var res handshakeResult

	sendName := make([]byte, 0, 15+len(name))
	sendName = append(sendName, tagName)
	sendName = binary.BigEndian.AppendUint64(sendName, localFlags)
	sendName = binary.BigEndian.AppendUint32(sendName, creation)
	sendName = binary.BigEndian.AppendUint16(sendName, uint16(len(name)))
	sendName = append(sendName, name...)
	if err := writePacket2(rw, sendName); err != nil {
		return res, fmt.Errorf("send name: %w", err)
	}

	status, err := readPacket2(rw)
	if err != nil {
		return res, fmt.Errorf("read status: %w", err)
	}
	if len(status) < 1 || status[0] != tagStatus {
		return res, fmt.Errorf("unexpected status message %q", status)
	}
	switch s := string(status[1:]); s {
	case "ok", "ok_simultaneous":
	default:
		return res, fmt.Errorf("peer refused connection: %s", s)
	}

	msg, err := readPacket2(rw)
	if err != nil {
		return res, fmt.Errorf("read challenge: %w", err)
	}
	peerChallenge, err := parseChallenge(msg, &res)
	if err != nil {
		return res, err
	}
	if res.peerFlags&requiredFlags != requiredFlags {
		return res, fmt.Errorf("peer %s lacks required flags (has %#x)", res.peerName, res.peerFlags)
	}

	ourChallenge := rand.Uint32()
	reply := make([]byte, 0, 21)
	reply = append(reply, tagChallengeReply)
	reply = binary.BigEndian.AppendUint32(reply, ourChallenge)
	d := digest(cookie, peerChallenge)
	reply = append(reply, d[:]...)
	if err := writePacket2(rw, reply); err != nil {
		return res, fmt.Errorf("send challenge reply: %w", err)
	}

	ack, err := readPacket2(rw)
	if err != nil {
		return res, fmt.Errorf("read challenge ack (wrong cookie?): %w", err)
	}
	want := digest(cookie, ourChallenge)
	if len(ack) != 17 || ack[0] != tagChallengeAck || string(ack[1:]) != string(want[:]) {
		return res, fmt.Errorf("peer %s failed cookie check", res.peerName)
	}
	return res, nil
}

func parseChallenge(msg []byte, res *handshakeResult) (uint32, error) {
	if len(msg) == 0 {
		return 0, fmt.Errorf("empty challenge")
	}
	switch msg[0] {
	case tagName:
		// 'N' Flags(8) Challenge(4) Creation(4) NLen(2) Name
		if len(msg) < 19 {
			return 0, fmt.Errorf("short challenge (%d bytes)", len(msg))
		}
		res.peerFlags = binary.BigEndian.Uint64(msg[1:9])
		challenge := binary.BigEndian.Uint32(msg[9:13])
		nlen := int(binary.BigEndian.Uint16(msg[17:19]))
		if len(msg) < 19+nlen {
			return 0, fmt.Errorf("truncated peer name")
		}
		res.peerName = string(msg[19 : 19+nlen])
		return challenge, nil
	case tagOldChallenge:
		// 'n' Version(2) Flags(4) Challenge(4) Name
		if len(msg) < 11 {
			return 0, fmt.Errorf("short challenge (%d bytes)", len(msg))
		}
		res.peerFlags = uint64(binary.BigEndian.Uint32(msg[3:7]))
		challenge := binary.BigEndian.Uint32(msg[7:11])
		res.peerName = string(msg[11:])
		return challenge, nil
	}
	return 0, fmt.Errorf("unexpected challenge tag %q", msg[0])
}

func digest(cookie string, challenge uint32) [16]byte {
	return md5.Sum([]byte(cookie + strconv.FormatUint(uint64(challenge), 10)))
}

func writePacket2(w io.Writer, payload []byte) error {
	buf := make([]byte, 2+len(payload))
	binary.BigEndian.PutUint16(buf, uint16(len(payload)))
	copy(buf[2:], payload)
	_, err := w.Write(buf)
	return err
}

func readPacket2(r io.Reader) ([]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	buf := make([]byte, binary.BigEndian.Uint16(hdr[:]))
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

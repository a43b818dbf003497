package erldist

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

// DefaultEPMDPort is where the Erlang port mapper daemon listens.
const DefaultEPMDPort = 4369

const (
	epmdPortPlease2Req = 122
	epmdPort2Resp      = 119
	epmdLookupTimeout  = 5 * time.Second
)

// lookupPort asks the EPMD on host for the distribution port of alive.
func lookupPort(ctx context.Context, dialer *net.Dialer, host string, epmdPort int, alive string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, epmdLookupTimeout)
	defer cancel()

	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(epmdPort)))
	if err != nil {
		return 0, fmt.Errorf("epmd dial: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	req := make([]byte, 0, 3+len(alive))
	req = binary.BigEndian.AppendUint16(req, uint16(1+len(alive)))
	req = append(req, epmdPortPlease2Req)
	req = append(req, alive...)
	if _, err := conn.Write(req); err != nil {
		return 0, fmt.Errorf("epmd request: %w", err)
	}

	var head [2]byte
	if _, err := io.ReadFull(conn, head[:]); err != nil {
		return 0, fmt.Errorf("epmd response: %w", err)
	}
	if head[0] != epmdPort2Resp {
		return 0, fmt.Errorf("epmd: unexpected response tag %d", head[0])
	}
	if head[1] != 0 {
		return 0, fmt.Errorf("epmd: node %q is not registered on %s", alive, host)
	}

	// PortNo(2) NodeType(1) Protocol(1) HighestVersion(2) LowestVersion(2)
	var body [8]byte
	if _, err := io.ReadFull(conn, body[:]); err != nil {
		return 0, fmt.Errorf("epmd response: %w", err)
	}
	port := int(binary.BigEndian.Uint16(body[0:2]))
	high := binary.BigEndian.Uint16(body[4:6])
	low := binary.BigEndian.Uint16(body[6:8])
	if low > protocolVersion || high < protocolVersion {
		return 0, fmt.Errorf("epmd: node %q speaks distribution versions %d-%d, need %d", alive, low, high, protocolVersion)
	}
	return port, nil
}

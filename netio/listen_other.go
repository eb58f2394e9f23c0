//go:build !linux

// listen_other.go — non-Linux worker socket: plain reuseport UDP only.

package netio

import "net"

// Listen opens this worker's share of the listening port. The core argument
// is accepted for signature parity; there is no ring loop to pin.
func Listen(port, core int) (net.PacketConn, *Stats, error) {
	pc, err := listenReusePort(port)
	if err != nil {
		return nil, nil, err
	}
	return pc, &Stats{}, nil
}

//go:build windows

package artnet

import "net"

// setBroadcast is a no-op; the Go runtime enables SO_BROADCAST on Windows UDP sockets.
func setBroadcast(conn *net.UDPConn) error {
	return nil
}

package node

import (
	"fmt"
	"net"
)

// fdOf extracts the raw file descriptor backing a UDP socket, so the event
// loop can poll(2) it directly alongside the TCP listener and peer
// connections.
func fdOf(conn *net.UDPConn) (int, error) {
	sc, err := conn.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("node: udp syscall conn: %w", err)
	}
	return rawFD(sc)
}

func fdOfListener(ln *net.TCPListener) (int, error) {
	sc, err := ln.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("node: tcp listener syscall conn: %w", err)
	}
	return rawFD(sc)
}

func fdOfConn(conn *net.TCPConn) (int, error) {
	sc, err := conn.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("node: tcp conn syscall conn: %w", err)
	}
	return rawFD(sc)
}

func rawFD(sc interface {
	Control(f func(fd uintptr)) error
}) (int, error) {
	var fd int
	err := sc.Control(func(f uintptr) { fd = int(f) })
	if err != nil {
		return 0, err
	}
	return fd, nil
}

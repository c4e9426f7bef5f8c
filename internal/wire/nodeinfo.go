package wire

import (
	"errors"
	"fmt"
	"net"

	"github.com/kadnet/kad/internal/guid"
)

// NodeInfo is the address book entry exchanged over the wire and persisted
// to disk: an identity plus a reachable (ip, port).
type NodeInfo struct {
	ID   guid.ID
	IP   net.IP
	Port uint16
}

var (
	ErrBadCompactLength = errors.New("wire: compact node-info has wrong length")
	ErrBadIPLength       = errors.New("wire: IP is neither 4 nor 16 bytes")
)

// EncodeCompactNode renders n as BitTorrent-DHT-compatible compact node
// info: id ‖ ipv4(4) ‖ port(2), or id ‖ ipv6(16) ‖ port(2) if n.IP is an
// IPv6 address. Ports are encoded big-endian.
func EncodeCompactNode(n NodeInfo) ([]byte, error) {
	ip4 := n.IP.To4()
	var addr []byte
	if ip4 != nil {
		addr = ip4
	} else {
		ip16 := n.IP.To16()
		if ip16 == nil {
			return nil, ErrBadIPLength
		}
		addr = ip16
	}

	out := make([]byte, 0, len(n.ID.Bytes)+len(addr)+2)
	out = append(out, n.ID.Bytes...)
	out = append(out, addr...)
	out = append(out, byte(n.Port>>8), byte(n.Port))
	return out, nil
}

// DecodeCompactNode parses a single compact node-info record of the given
// id width, inferring IPv4 vs IPv6 from the record's total length.
func DecodeCompactNode(buf []byte, idWidth int) (NodeInfo, error) {
	v4Len := idWidth + 4 + 2
	v6Len := idWidth + 16 + 2

	var addrLen int
	switch len(buf) {
	case v4Len:
		addrLen = 4
	case v6Len:
		addrLen = 16
	default:
		return NodeInfo{}, fmt.Errorf("%w: got %d bytes", ErrBadCompactLength, len(buf))
	}

	id := make([]byte, idWidth)
	copy(id, buf[:idWidth])
	addr := make([]byte, addrLen)
	copy(addr, buf[idWidth:idWidth+addrLen])
	port := uint16(buf[idWidth+addrLen])<<8 | uint16(buf[idWidth+addrLen+1])

	return NodeInfo{ID: guid.New(id), IP: net.IP(addr), Port: port}, nil
}

// EncodeCompactNodeList renders each node in nodes as its own compact
// node-info byte string, one element per node -- the format carried in a
// find_node response's "nodes" field: a bencode LIST of compact node-info
// strings, not a single concatenated string.
func EncodeCompactNodeList(nodes []NodeInfo) ([][]byte, error) {
	items := make([][]byte, 0, len(nodes))
	for _, n := range nodes {
		b, err := EncodeCompactNode(n)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, nil
}

// DecodeCompactNodeList decodes each element of items (one compact
// node-info byte string per list element, as produced by
// EncodeCompactNodeList) into a NodeInfo.
func DecodeCompactNodeList(items [][]byte, idWidth int) ([]NodeInfo, error) {
	nodes := make([]NodeInfo, 0, len(items))
	for _, item := range items {
		ni, err := DecodeCompactNode(item, idWidth)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, ni)
	}
	return nodes, nil
}

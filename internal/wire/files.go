package wire

import (
	"fmt"

	"github.com/kadnet/kad/internal/bencode"
	"github.com/kadnet/kad/internal/guid"
)

// EncodeRoutingState renders a routing table snapshot as a bencode dict:
// {id: <self id>, nodes: <list of compact node-info byte strings>}, encoded
// exactly as the find_node response's "nodes" field. last_seen and
// stale_count are intentionally not persisted -- only identity and address
// survive a restart.
func EncodeRoutingState(self guid.ID, nodes []NodeInfo) ([]byte, error) {
	items, err := EncodeCompactNodeList(nodes)
	if err != nil {
		return nil, err
	}
	vals := make([]bencode.Value, 0, len(items))
	for _, b := range items {
		vals = append(vals, bencode.NewBytes(b))
	}
	v := bencode.NewDict([]bencode.Entry{
		{Key: "id", Value: bencode.NewBytes(self.Bytes)},
		{Key: "nodes", Value: bencode.NewList(vals)},
	})
	return bencode.Encode(v)
}

// DecodeRoutingState parses a routing-state file produced by
// EncodeRoutingState.
func DecodeRoutingState(buf []byte, idWidth int) (self guid.ID, nodes []NodeInfo, err error) {
	v, err := bencode.Decode(buf)
	if err != nil {
		return guid.ID{}, nil, err
	}
	idv, ok := v.Get("id")
	if !ok {
		return guid.ID{}, nil, fmt.Errorf("%w: id", ErrMissingField)
	}
	idb, err := idv.AsBytes()
	if err != nil {
		return guid.ID{}, nil, fmt.Errorf("id: %w", ErrBadType)
	}
	nv, ok := v.Get("nodes")
	if !ok {
		return guid.ID{}, nil, fmt.Errorf("%w: nodes", ErrMissingField)
	}
	list, err := nv.AsList()
	if err != nil {
		return guid.ID{}, nil, fmt.Errorf("nodes: %w", ErrBadType)
	}
	items := make([][]byte, 0, len(list))
	for _, elem := range list {
		b, err := elem.AsBytes()
		if err != nil {
			return guid.ID{}, nil, fmt.Errorf("nodes: %w", ErrBadType)
		}
		items = append(items, b)
	}
	nodes, err = DecodeCompactNodeList(items, idWidth)
	if err != nil {
		return guid.ID{}, nil, err
	}
	return guid.New(idb), nodes, nil
}

// EncodeBootstrapList renders a plain bencode list of compact node-info
// byte strings -- the bootstrap-nodes file format, distinct from the
// routing-state dict format in that it carries no self id.
func EncodeBootstrapList(nodes []NodeInfo) ([]byte, error) {
	items, err := EncodeCompactNodeList(nodes)
	if err != nil {
		return nil, err
	}
	vals := make([]bencode.Value, 0, len(items))
	for _, b := range items {
		vals = append(vals, bencode.NewBytes(b))
	}
	return bencode.Encode(bencode.NewList(vals))
}

// DecodeBootstrapList parses a bootstrap-nodes file.
func DecodeBootstrapList(buf []byte, idWidth int) ([]NodeInfo, error) {
	v, err := bencode.Decode(buf)
	if err != nil {
		return nil, err
	}
	list, err := v.AsList()
	if err != nil {
		return nil, err
	}
	items := make([][]byte, 0, len(list))
	for _, elem := range list {
		b, err := elem.AsBytes()
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return DecodeCompactNodeList(items, idWidth)
}

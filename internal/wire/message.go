// Package wire implements the on-wire RPC message schema and the
// compact node-info / file formats built on top of package bencode.
package wire

import (
	"errors"
	"fmt"

	"github.com/kadnet/kad/internal/bencode"
	"github.com/kadnet/kad/internal/guid"
)

// Message types, matching the 'y' field.
const (
	TypeQuery    = "q"
	TypeResponse = "r"
	TypeError    = "e"
)

// Query methods, matching the 'q' field.
const (
	MethodPing     = "ping"
	MethodFindNode = "find_node"
)

// Error codes, matching the original daemon's error taxonomy.
const (
	ErrCodeGeneric       = 201
	ErrCodeServer        = 202
	ErrCodeProtocol      = 203
	ErrCodeMethodUnknown = 204
)

var (
	ErrMissingField = errors.New("wire: message missing required field")
	ErrBadType      = errors.New("wire: message field has wrong type")
	ErrUnknownType  = errors.New("wire: unknown message type")
)

// Message is the decoded form of an RPC message: a query, a response, or an
// error. Only the fields relevant to the message's Type are meaningful.
type Message struct {
	TxID   []byte
	Type   string // TypeQuery, TypeResponse, TypeError
	Method string // query only

	// Query args / response results share a node id.
	SenderID guid.ID
	Target   guid.ID  // find_node query only
	Nodes    [][]byte // find_node response only: one compact-node-info byte
	// string per node, carried as a bencode list of byte strings.

	ErrCode int    // error only
	ErrMsg  string // error only
}

// Encode renders m into canonical bencode bytes: a dict with key order
// a, e, q, r, t, y (bencode.Encode sorts keys itself; this just builds the
// dict entries).
func Encode(m Message) ([]byte, error) {
	entries := []bencode.Entry{
		{Key: "t", Value: bencode.NewBytes(m.TxID)},
		{Key: "y", Value: bencode.NewString(m.Type)},
	}

	switch m.Type {
	case TypeQuery:
		args := []bencode.Entry{
			{Key: "id", Value: bencode.NewBytes(m.SenderID.Bytes)},
		}
		if m.Method == MethodFindNode {
			args = append(args, bencode.Entry{Key: "target", Value: bencode.NewBytes(m.Target.Bytes)})
		}
		entries = append(entries,
			bencode.Entry{Key: "q", Value: bencode.NewString(m.Method)},
			bencode.Entry{Key: "a", Value: bencode.NewDict(args)},
		)

	case TypeResponse:
		results := []bencode.Entry{
			{Key: "id", Value: bencode.NewBytes(m.SenderID.Bytes)},
		}
		if m.Nodes != nil {
			items := make([]bencode.Value, 0, len(m.Nodes))
			for _, b := range m.Nodes {
				items = append(items, bencode.NewBytes(b))
			}
			results = append(results, bencode.Entry{Key: "nodes", Value: bencode.NewList(items)})
		}
		entries = append(entries, bencode.Entry{Key: "r", Value: bencode.NewDict(results)})

	case TypeError:
		entries = append(entries, bencode.Entry{
			Key: "e",
			Value: bencode.NewList([]bencode.Value{
				bencode.NewInt(int64(m.ErrCode)),
				bencode.NewString(m.ErrMsg),
			}),
		})

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}

	return bencode.Encode(bencode.NewDict(entries))
}

// ExtractTxID makes a best-effort attempt to recover the "t" field from buf
// even though it failed full Decode validation, so a protocol-error reply
// can echo the sender's own transaction id when possible. It reports false
// if buf isn't even valid bencode or carries no usable "t" field.
func ExtractTxID(buf []byte) ([]byte, bool) {
	v, err := bencode.Decode(buf)
	if err != nil {
		return nil, false
	}
	tv, ok := v.Get("t")
	if !ok {
		return nil, false
	}
	txID, err := tv.AsBytes()
	if err != nil {
		return nil, false
	}
	return txID, true
}

// Decode parses buf as a bencoded RPC message.
func Decode(buf []byte) (Message, error) {
	v, err := bencode.Decode(buf)
	if err != nil {
		return Message{}, err
	}

	tv, ok := v.Get("t")
	if !ok {
		return Message{}, fmt.Errorf("%w: t", ErrMissingField)
	}
	txID, err := tv.AsBytes()
	if err != nil {
		return Message{}, fmt.Errorf("t: %w", ErrBadType)
	}

	yv, ok := v.Get("y")
	if !ok {
		return Message{}, fmt.Errorf("%w: y", ErrMissingField)
	}
	yb, err := yv.AsBytes()
	if err != nil {
		return Message{}, fmt.Errorf("y: %w", ErrBadType)
	}
	typ := string(yb)

	m := Message{TxID: txID, Type: typ}

	switch typ {
	case TypeQuery:
		qv, ok := v.Get("q")
		if !ok {
			return Message{}, fmt.Errorf("%w: q", ErrMissingField)
		}
		qb, err := qv.AsBytes()
		if err != nil {
			return Message{}, fmt.Errorf("q: %w", ErrBadType)
		}
		m.Method = string(qb)

		av, ok := v.Get("a")
		if !ok {
			return Message{}, fmt.Errorf("%w: a", ErrMissingField)
		}
		idv, ok := av.Get("id")
		if !ok {
			return Message{}, fmt.Errorf("%w: a.id", ErrMissingField)
		}
		idb, err := idv.AsBytes()
		if err != nil {
			return Message{}, fmt.Errorf("a.id: %w", ErrBadType)
		}
		m.SenderID = guid.New(idb)

		if m.Method == MethodFindNode {
			tgv, ok := av.Get("target")
			if !ok {
				return Message{}, fmt.Errorf("%w: a.target", ErrMissingField)
			}
			tgb, err := tgv.AsBytes()
			if err != nil {
				return Message{}, fmt.Errorf("a.target: %w", ErrBadType)
			}
			m.Target = guid.New(tgb)
		}

	case TypeResponse:
		rv, ok := v.Get("r")
		if !ok {
			return Message{}, fmt.Errorf("%w: r", ErrMissingField)
		}
		idv, ok := rv.Get("id")
		if !ok {
			return Message{}, fmt.Errorf("%w: r.id", ErrMissingField)
		}
		idb, err := idv.AsBytes()
		if err != nil {
			return Message{}, fmt.Errorf("r.id: %w", ErrBadType)
		}
		m.SenderID = guid.New(idb)

		if nv, ok := rv.Get("nodes"); ok {
			list, err := nv.AsList()
			if err != nil {
				return Message{}, fmt.Errorf("r.nodes: %w", ErrBadType)
			}
			items := make([][]byte, 0, len(list))
			for _, elem := range list {
				b, err := elem.AsBytes()
				if err != nil {
					return Message{}, fmt.Errorf("r.nodes: %w", ErrBadType)
				}
				items = append(items, b)
			}
			m.Nodes = items
		}

	case TypeError:
		ev, ok := v.Get("e")
		if !ok {
			return Message{}, fmt.Errorf("%w: e", ErrMissingField)
		}
		list, err := ev.AsList()
		if err != nil || len(list) != 2 {
			return Message{}, fmt.Errorf("e: %w", ErrBadType)
		}
		code, err := list[0].AsInt()
		if err != nil {
			return Message{}, fmt.Errorf("e[0]: %w", ErrBadType)
		}
		msg, err := list[1].AsBytes()
		if err != nil {
			return Message{}, fmt.Errorf("e[1]: %w", ErrBadType)
		}
		m.ErrCode = int(code)
		m.ErrMsg = string(msg)

	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}

	return m, nil
}

// Package rpc implements the RPC dispatcher: decoding inbound datagrams,
// correlating responses and errors against outstanding queries, handling
// ping/find_node queries against the routing table, and composing
// outbound queries.
package rpc

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/kadnet/kad/internal/guid"
	"github.com/kadnet/kad/internal/routing"
	"github.com/kadnet/kad/internal/wire"
	"github.com/kadnet/kad/log"
	"github.com/kadnet/kad/metrics"
)

// Dispatcher decodes inbound bencoded datagrams, dispatches queries against
// the routing table, and correlates responses/errors against the in-flight
// LRU. It is not goroutine-safe: the event loop drives it from a single
// goroutine, per the node's single-threaded design.
type Dispatcher struct {
	self     guid.ID
	table    *routing.Table
	inflight *InFlight
	log      *log.Logger

	queriesRecv        *metrics.Counter
	responsesRecv      *metrics.Counter
	errorsRecv         *metrics.Counter
	correlationMisses  *metrics.Counter
	decodeErrors       *metrics.Counter
	queryLatency       *metrics.Histogram
	datagramRate       *metrics.Meter
}

// New creates a Dispatcher bound to table, reporting as self, using reg for
// metrics (metrics.DefaultRegistry if nil) and l for logging (log.Default()
// if nil).
func New(self guid.ID, table *routing.Table, inflight *InFlight, reg *metrics.Registry, l *log.Logger) *Dispatcher {
	if reg == nil {
		reg = metrics.DefaultRegistry
	}
	if l == nil {
		l = log.Default()
	}
	return &Dispatcher{
		self:              self,
		table:             table,
		inflight:          inflight,
		log:               l.Module("rpc"),
		queriesRecv:       reg.Counter("rpc.queries_recv"),
		responsesRecv:     reg.Counter("rpc.responses_recv"),
		errorsRecv:        reg.Counter("rpc.errors_recv"),
		correlationMisses: reg.Counter("rpc.correlation_misses"),
		decodeErrors:      reg.Counter("rpc.decode_errors"),
		queryLatency:      reg.Histogram("rpc.query_latency_ms"),
		datagramRate:      reg.Meter("rpc.datagrams_recv"),
	}
}

// Outcome is what Handle produces for the event loop: an optional byte
// string to send back to source, and an optional resolved response/error
// for a lookup engine waiting on a correlated transaction.
type Outcome struct {
	Reply    []byte       // non-nil if a response/error should be sent to source
	Resolved *Resolution  // non-nil if buf correlated to an outstanding query
}

// Resolution is handed to whatever owns the lookup that issued the
// original query (method/target identify which lookup).
type Resolution struct {
	Record wire.NodeInfo
	Method string
	Target guid.ID
	Nodes  []wire.NodeInfo
	Err    error // non-nil if the correlated message was an RPC error
}

// Handle decodes buf (received from source) and reacts: queries get routing
// table answers, responses/errors get correlated against the in-flight LRU.
// A decode failure answers the sender with a protocol-error (203) reply
// instead of silently dropping the datagram; correlation misses are logged
// and swallowed, since a hostile or buggy peer's datagram must never crash
// the loop.
func (d *Dispatcher) Handle(source wire.NodeInfo, buf []byte) (Outcome, error) {
	d.datagramRate.Mark(1)

	msg, err := wire.Decode(buf)
	if err != nil {
		d.decodeErrors.Inc()
		d.log.Debug("malformed datagram, replying with protocol error", "source", source.IP, "err", err)
		return d.protocolErrorReply(buf, err)
	}

	switch msg.Type {
	case wire.TypeQuery:
		d.queriesRecv.Inc()
		return d.handleQuery(source, msg)

	case wire.TypeResponse:
		d.responsesRecv.Inc()
		return d.handleResponse(source, msg)

	case wire.TypeError:
		d.errorsRecv.Inc()
		return d.handleError(source, msg)

	default:
		d.decodeErrors.Inc()
		return Outcome{}, nil
	}
}

// protocolErrorReply synthesizes a y=e, e=[203,<msg>] reply for a datagram
// that failed to decode. It echoes the sender's own transaction id when the
// malformed datagram is recoverable enough to contain one, and falls back
// to a freshly generated id otherwise -- the sender has no other way to
// correlate an error reply against the request it sent.
func (d *Dispatcher) protocolErrorReply(buf []byte, decodeErr error) (Outcome, error) {
	txID, ok := wire.ExtractTxID(buf)
	if !ok {
		var err error
		txID, err = NewTxID()
		if err != nil {
			return Outcome{}, nil
		}
	}
	resp := wire.Message{
		TxID:    txID,
		Type:    wire.TypeError,
		ErrCode: wire.ErrCodeProtocol,
		ErrMsg:  fmt.Sprintf("protocol decode error: %s", decodeErr),
	}
	out, err := wire.Encode(resp)
	if err != nil {
		return Outcome{}, nil
	}
	return Outcome{Reply: out}, nil
}

func (d *Dispatcher) handleQuery(source wire.NodeInfo, msg wire.Message) (Outcome, error) {
	if msg.SenderID.Set {
		_ = d.table.Upsert(wire.NodeInfo{ID: msg.SenderID, IP: source.IP, Port: source.Port})
	}

	switch msg.Method {
	case wire.MethodPing:
		resp := wire.Message{TxID: msg.TxID, Type: wire.TypeResponse, SenderID: d.self}
		buf, err := wire.Encode(resp)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Reply: buf}, nil

	case wire.MethodFindNode:
		closest := d.table.FindClosest(msg.Target, routing.DefaultK, msg.SenderID)
		nodeBytes, err := wire.EncodeCompactNodeList(closest)
		if err != nil {
			return Outcome{}, err
		}
		resp := wire.Message{TxID: msg.TxID, Type: wire.TypeResponse, SenderID: d.self, Nodes: nodeBytes}
		buf, err := wire.Encode(resp)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Reply: buf}, nil

	default:
		resp := wire.Message{
			TxID:    msg.TxID,
			Type:    wire.TypeError,
			ErrCode: wire.ErrCodeMethodUnknown,
			ErrMsg:  fmt.Sprintf("unknown method %q", msg.Method),
		}
		buf, err := wire.Encode(resp)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Reply: buf}, nil
	}
}

func (d *Dispatcher) handleResponse(source wire.NodeInfo, msg wire.Message) (Outcome, error) {
	rec, ok := d.inflight.Take(string(msg.TxID))
	if !ok {
		d.correlationMisses.Inc()
		d.log.Warn("response with no matching in-flight query", "tx", msg.TxID)
		return Outcome{}, nil
	}
	d.queryLatency.Observe(float64(time.Since(rec.SentAt).Milliseconds()))

	if msg.SenderID.Set {
		_ = d.table.Upsert(wire.NodeInfo{ID: msg.SenderID, IP: source.IP, Port: source.Port})
	}

	var nodes []wire.NodeInfo
	if msg.Nodes != nil {
		var err error
		nodes, err = wire.DecodeCompactNodeList(msg.Nodes, d.self.Width())
		if err != nil {
			d.log.Warn("malformed nodes field in response", "err", err)
		}
	}

	return Outcome{Resolved: &Resolution{
		Record: wire.NodeInfo{ID: msg.SenderID, IP: source.IP, Port: source.Port},
		Method: rec.Method,
		Target: rec.Target,
		Nodes:  nodes,
	}}, nil
}

func (d *Dispatcher) handleError(source wire.NodeInfo, msg wire.Message) (Outcome, error) {
	rec, ok := d.inflight.Take(string(msg.TxID))
	if !ok {
		d.correlationMisses.Inc()
		d.log.Warn("error with no matching in-flight query", "tx", msg.TxID, "code", msg.ErrCode)
		return Outcome{}, nil
	}
	return Outcome{Resolved: &Resolution{
		Method: rec.Method,
		Target: rec.Target,
		Err:    fmt.Errorf("rpc: peer returned error %d: %s", msg.ErrCode, msg.ErrMsg),
	}}, nil
}

// NewTxID generates a fresh random transaction id. 8 bytes gives a
// collision probability negligible against the 1024-entry in-flight cap.
func NewTxID() ([]byte, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("rpc: transaction id generation failed: %w", err)
	}
	return b, nil
}

// Query composes an outbound query message and registers it in the
// in-flight LRU under a freshly generated transaction id, returned alongside
// the encoded datagram so a caller whose send fails can roll the
// registration back via AbandonQuery.
func (d *Dispatcher) Query(method string, target guid.ID, dest wire.NodeInfo) (buf []byte, txID []byte, err error) {
	txID, err = NewTxID()
	if err != nil {
		return nil, nil, err
	}
	msg := wire.Message{TxID: txID, Type: wire.TypeQuery, Method: method, SenderID: d.self, Target: target}
	buf, err = wire.Encode(msg)
	if err != nil {
		return nil, nil, err
	}
	if err := d.inflight.Insert(string(txID), QueryRecord{
		Method:   method,
		Target:   target,
		SentAt:   time.Now(),
		DestID:   dest.ID,
		DestAddr: dest.IP.String(),
	}); err != nil {
		return nil, nil, err
	}
	return buf, txID, nil
}

// AbandonQuery discards the in-flight record for txID without resolving it,
// for a caller whose outbound send failed outright: the query never reached
// the wire, so no response will ever correlate against it, and the record
// must not linger in the LRU until it ages out on its own.
func (d *Dispatcher) AbandonQuery(txID []byte) {
	d.inflight.Take(string(txID))
}

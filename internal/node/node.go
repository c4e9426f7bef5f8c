// Package node wires together the routing table, RPC dispatcher, iterative
// lookup engine, and single-threaded event loop into a runnable DHT node,
// the way p2p.Server wires together the dialer, listener, and peer set for
// the ancillary TCP protocol.
package node

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/kadnet/kad/config"
	"github.com/kadnet/kad/internal/bootstrap"
	"github.com/kadnet/kad/internal/eventloop"
	"github.com/kadnet/kad/internal/guid"
	"github.com/kadnet/kad/internal/lookup"
	"github.com/kadnet/kad/internal/routing"
	"github.com/kadnet/kad/internal/rpc"
	"github.com/kadnet/kad/internal/tcppeer"
	"github.com/kadnet/kad/internal/wire"
	"github.com/kadnet/kad/log"
	"github.com/kadnet/kad/metrics"
)

// Node is a single DHT participant: it owns the routing table, the RPC
// dispatcher, and the event loop that drives both from one goroutine.
type Node struct {
	cfg config.Config
	log *log.Logger
	reg *metrics.Registry

	self  guid.ID
	table *routing.Table

	udpConn *net.UDPConn
	tcpLn   *net.TCPListener

	dispatcher *rpc.Dispatcher
	inflight   *rpc.InFlight

	loop *eventloop.Loop

	metricsReporter *metrics.MetricsReporter

	peerParsers map[int]*tcppeer.Parser
	peerConns   map[int]*net.TCPConn
}

// New constructs a Node from cfg, loading or minting the self id and the
// persisted routing table, opening the UDP socket and TCP listener, and
// assembling the event loop. It does not yet start serving; call Run.
func New(cfg config.Config, l *log.Logger, reg *metrics.Registry) (*Node, error) {
	if l == nil {
		l = log.Default()
	}
	if reg == nil {
		reg = metrics.DefaultRegistry
	}
	nlog := l.Module("node")

	confDir, err := cfg.ResolveConfDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(confDir, 0o755); err != nil {
		return nil, fmt.Errorf("node: creating conf dir: %w", err)
	}

	statePath, err := cfg.RoutingStatePath()
	if err != nil {
		return nil, err
	}

	self, table, err := loadOrCreateTable(cfg, statePath, reg)
	if err != nil {
		return nil, err
	}
	nlog.Info("routing table ready", "self", self.String(), "occupancy", table.BucketOccupancy())

	udpAddr := &net.UDPAddr{IP: net.ParseIP(cfg.BindAddr), Port: cfg.BindPort}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("node: udp listen: %w", err)
	}

	tcpAddr := &net.TCPAddr{IP: net.ParseIP(cfg.BindAddr), Port: cfg.BindPort}
	tcpLn, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("node: tcp listen: %w", err)
	}

	inflight, err := rpc.NewInFlight(rpc.DefaultInFlightCapacity)
	if err != nil {
		udpConn.Close()
		tcpLn.Close()
		return nil, err
	}
	dispatcher := rpc.New(self, table, inflight, reg, l)

	n := &Node{
		cfg:         cfg,
		log:         nlog,
		reg:         reg,
		self:        self,
		table:       table,
		udpConn:     udpConn,
		tcpLn:       tcpLn,
		dispatcher:  dispatcher,
		inflight:    inflight,
		peerParsers: make(map[int]*tcppeer.Parser),
		peerConns:   make(map[int]*net.TCPConn),
	}

	udpFD, err := fdOf(udpConn)
	if err != nil {
		return nil, err
	}
	tcpFD, err := fdOfListener(tcpLn)
	if err != nil {
		return nil, err
	}
	n.loop = eventloop.New(udpFD, tcpFD, n.handleEvent, reg, l)
	n.loop.AddPeriodicTimer(mustParseDuration(cfg.RepingInterval), n.repingOldestBucket)
	n.loop.AddPeriodicTimer(5*time.Minute, n.persist)

	n.metricsReporter = metrics.NewMetricsReporter(time.Minute)
	n.metricsReporter.RegisterBackend("log", &logReportBackend{log: nlog})
	n.loop.AddPeriodicTimer(time.Minute, n.sampleMetrics)
	n.metricsReporter.Start()

	return n, nil
}

// logReportBackend implements metrics.ReportBackend by writing the metric
// snapshot to the node's logger, the simplest export path for a standalone
// node with no external metrics collector configured.
type logReportBackend struct {
	log *log.Logger
}

func (b *logReportBackend) Report(snapshot map[string]float64) error {
	args := make([]any, 0, len(snapshot)*2)
	for k, v := range snapshot {
		args = append(args, k, v)
	}
	b.log.Debug("metrics snapshot", args...)
	return nil
}

// sampleMetrics copies counter and gauge values from the registry into the
// reporter so its next periodic Report call has fresh data. Histograms
// aren't representable as a single float64 and are left to direct registry
// inspection.
func (n *Node) sampleMetrics() {
	for name, v := range n.reg.Snapshot() {
		if fv, ok := v.(int64); ok {
			n.metricsReporter.RecordMetric(name, float64(fv))
		}
	}
}

// SelfID returns the node's own identifier.
func (n *Node) SelfID() guid.ID { return n.self }

// Addr returns the bound UDP/TCP address.
func (n *Node) Addr() net.Addr { return n.udpConn.LocalAddr() }

// Bootstrap seeds the routing table by inserting every node in the bootstrap
// list (no ping is sent to them first) and then running an iterative lookup
// for the node's own id, the
// standard Kademlia join procedure. It is run before Run enters the event
// loop's main poll cycle.
func (n *Node) Bootstrap() error {
	path, err := n.cfg.BootstrapNodesPath()
	if err != nil {
		return err
	}
	seeds, err := bootstrap.LoadNodes(path, n.self.Width())
	if err != nil {
		return err
	}
	if len(seeds) == 0 {
		n.log.Warn("no bootstrap nodes configured, joining as a fresh network")
		return nil
	}
	for _, s := range seeds {
		if err := n.table.Upsert(s); err != nil {
			n.log.Debug("skipping bootstrap seed", "err", err)
		}
	}
	return n.lookupSelf()
}

// lookupSelf drives one synchronous iterative lookup for the node's own id
// against the freshest routing table contents, using the UDP socket's
// blocking send/recv with short deadlines. This runs only during the
// bootstrap phase, before the single-threaded event loop takes over.
func (n *Node) lookupSelf() error {
	seed := n.table.FindClosest(n.self, routing.DefaultK, guid.ID{})
	state := lookup.New(n.self, n.cfg.K, n.cfg.Alpha, seed, n.reg)

	for !state.Done() {
		batch := state.NextBatch()
		if len(batch) == 0 {
			break
		}
		for _, target := range batch {
			nodes, err := n.syncFindNode(target, n.self)
			if err != nil {
				state.RecordFailure(target)
				continue
			}
			for _, disc := range nodes {
				_ = n.table.Upsert(disc)
			}
			state.RecordResponse(target, nodes)
		}
	}
	n.log.Info("bootstrap lookup complete", "results", len(state.Results()))
	return nil
}

// syncFindNode sends a find_node query to dest and blocks for the matching
// response, bounded by a fixed timeout. Used only during bootstrap.
func (n *Node) syncFindNode(dest wire.NodeInfo, target guid.ID) ([]wire.NodeInfo, error) {
	buf, txID, err := n.dispatcher.Query(wire.MethodFindNode, target, dest)
	if err != nil {
		return nil, err
	}
	addr := &net.UDPAddr{IP: dest.IP, Port: int(dest.Port)}
	if _, err := n.udpConn.WriteToUDP(buf, addr); err != nil {
		n.dispatcher.AbandonQuery(txID)
		return nil, err
	}

	deadline := time.Now().Add(2 * time.Second)
	recvBuf := make([]byte, MaxDatagramSize)
	for time.Now().Before(deadline) {
		n.udpConn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		nr, raddr, err := n.udpConn.ReadFromUDP(recvBuf)
		if err != nil {
			continue
		}
		outcome, err := n.dispatcher.Handle(wire.NodeInfo{IP: raddr.IP, Port: uint16(raddr.Port)}, recvBuf[:nr])
		if err != nil {
			continue
		}
		if outcome.Reply != nil {
			n.udpConn.WriteToUDP(outcome.Reply, raddr)
		}
		if outcome.Resolved != nil && outcome.Resolved.Err == nil {
			return outcome.Resolved.Nodes, nil
		}
	}
	return nil, fmt.Errorf("node: find_node to %s timed out", dest.IP)
}

// Run enters the event loop's poll cycle and blocks until Stop is called.
func (n *Node) Run() error {
	n.log.Info("entering event loop", "addr", n.Addr())
	return n.loop.Run()
}

// Stop signals the event loop to exit and persists the routing table.
func (n *Node) Stop() error {
	n.loop.Shutdown()
	n.metricsReporter.Stop()
	n.persist()
	n.udpConn.Close()
	n.tcpLn.Close()
	for _, c := range n.peerConns {
		c.Close()
	}
	return nil
}

func (n *Node) persist() {
	buf, err := n.table.WriteFile()
	if err != nil {
		n.log.Error("failed to serialize routing table", "err", err)
		return
	}
	path, err := n.cfg.RoutingStatePath()
	if err != nil {
		n.log.Error("failed to resolve routing state path", "err", err)
		return
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		n.log.Error("failed to persist routing table", "err", err)
	}
}

// MaxDatagramSize bounds how much of an inbound UDP datagram is read; the
// wire format never produces a legitimate message larger than this.
const MaxDatagramSize = 1400

// maxStaleCount is how many consecutive missed re-pings a node tolerates
// before repingOldestBucket evicts it, freeing its slot for a replacement.
const maxStaleCount = 5

// repingOldestBucket is the periodic housekeeping timer: it fires a ping at
// every entry whose LastSeen is older than the re-ping interval. Replies
// arrive asynchronously through handleUDPReadable, which refreshes the
// entry via table.Upsert; entries that accumulate too many missed re-pings
// without a reply are evicted outright. A full production node would stage
// this per-bucket; pinging everyone on one timer keeps the node package's
// scope within the event loop's single-threaded model.
func (n *Node) repingOldestBucket() {
	threshold := time.Now().Add(-mustParseDuration(n.cfg.RepingInterval))
	for _, e := range n.table.Entries() {
		if e.LastSeen.After(threshold) {
			continue
		}
		if e.StaleCount >= maxStaleCount {
			_ = n.table.Delete(e.Node.ID)
			continue
		}
		_ = n.table.MarkStale(e.Node.ID)
		buf, txID, err := n.dispatcher.Query(wire.MethodPing, n.self, e.Node)
		if err != nil {
			continue
		}
		addr := &net.UDPAddr{IP: e.Node.IP, Port: int(e.Node.Port)}
		if _, err := n.udpConn.WriteToUDP(buf, addr); err != nil {
			n.dispatcher.AbandonQuery(txID)
		}
	}
}

func mustParseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 15 * time.Minute
	}
	return d
}

func loadOrCreateTable(cfg config.Config, statePath string, reg *metrics.Registry) (guid.ID, *routing.Table, error) {
	buf, err := os.ReadFile(statePath)
	if err == nil {
		self, nodes, derr := wire.DecodeRoutingState(buf, cfg.IDWidthBytes())
		if derr != nil {
			return guid.ID{}, nil, fmt.Errorf("node: decoding persisted routing state: %w", derr)
		}
		table := routing.New(self, cfg.K, routing.DefaultReplacementCap, reg)
		for _, ni := range nodes {
			_ = table.Upsert(ni)
		}
		return self, table, nil
	}
	if !os.IsNotExist(err) {
		return guid.ID{}, nil, fmt.Errorf("node: reading persisted routing state: %w", err)
	}

	self, err := guid.Random(cfg.IDWidthBytes())
	if err != nil {
		return guid.ID{}, nil, err
	}
	return self, routing.New(self, cfg.K, routing.DefaultReplacementCap, reg), nil
}

// handleEvent is the eventloop.Handler: it reacts to a readable UDP socket,
// an acceptable TCP listener, or a readable TCP peer connection.
func (n *Node) handleEvent(ev eventloop.Event) {
	switch ev.Kind {
	case eventloop.EventUDPReadable:
		n.handleUDPReadable()
	case eventloop.EventTCPAcceptable:
		n.handleTCPAcceptable()
	case eventloop.EventPeerReadable:
		n.handlePeerReadable(ev.FD)
	}
}

func (n *Node) handleUDPReadable() {
	buf := make([]byte, MaxDatagramSize)
	nr, raddr, err := n.udpConn.ReadFromUDP(buf)
	if err != nil {
		return
	}
	source := wire.NodeInfo{IP: raddr.IP, Port: uint16(raddr.Port)}
	outcome, err := n.dispatcher.Handle(source, buf[:nr])
	if err != nil {
		n.log.Warn("dispatcher error", "err", err)
		return
	}
	if outcome.Reply != nil {
		n.udpConn.WriteToUDP(outcome.Reply, raddr)
	}
}

func (n *Node) handleTCPAcceptable() {
	conn, err := n.tcpLn.AcceptTCP()
	if err != nil {
		return
	}
	fd, err := fdOfConn(conn)
	if err != nil {
		conn.Close()
		return
	}
	n.peerConns[fd] = conn
	n.peerParsers[fd] = &tcppeer.Parser{}
	n.loop.AddPeerFD(fd)
}

func (n *Node) handlePeerReadable(fd int) {
	conn, ok := n.peerConns[fd]
	if !ok {
		return
	}
	buf := make([]byte, 4096)
	nr, err := conn.Read(buf)
	if err != nil || nr == 0 {
		n.closePeer(fd)
		return
	}
	parser := n.peerParsers[fd]
	frames, err := parser.Feed(buf[:nr])
	if err != nil {
		n.log.Warn("tcp peer framing error, closing", "err", err)
		n.closePeer(fd)
		return
	}
	for _, f := range frames {
		tcppeer.Handle(n.log, f)
	}
}

func (n *Node) closePeer(fd int) {
	n.loop.RemovePeerFD(fd)
	if c, ok := n.peerConns[fd]; ok {
		c.Close()
		delete(n.peerConns, fd)
	}
	delete(n.peerParsers, fd)
}

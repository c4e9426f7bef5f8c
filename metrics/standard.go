package metrics

// Pre-defined metrics for the kadnet DHT node. All metrics live in
// DefaultRegistry so they are globally accessible without passing a
// registry around; subsystems that need isolation (tests) create their
// own Registry instead.

var (
	// ---- Routing table metrics ----

	// RoutingUpserts counts successful routing table upserts (new or refreshed entries).
	RoutingUpserts = DefaultRegistry.Counter("routing.upserts")
	// RoutingStaleMarks counts mark_stale calls against bucket entries.
	RoutingStaleMarks = DefaultRegistry.Counter("routing.stale_marks")
	// RoutingDeletes counts explicit entry deletions.
	RoutingDeletes = DefaultRegistry.Counter("routing.deletes")
	// RoutingNodes tracks the total number of nodes currently held across all buckets.
	RoutingNodes = DefaultRegistry.Gauge("routing.nodes")

	// ---- RPC dispatcher metrics ----

	// RPCQueriesRecv counts incoming y=q messages.
	RPCQueriesRecv = DefaultRegistry.Counter("rpc.queries_recv")
	// RPCResponsesRecv counts incoming y=r messages.
	RPCResponsesRecv = DefaultRegistry.Counter("rpc.responses_recv")
	// RPCErrorsRecv counts incoming y=e messages.
	RPCErrorsRecv = DefaultRegistry.Counter("rpc.errors_recv")
	// RPCCorrelationMisses counts responses with no matching in-flight query.
	RPCCorrelationMisses = DefaultRegistry.Counter("rpc.correlation_misses")
	// RPCDecodeErrors counts datagrams that failed to decode.
	RPCDecodeErrors = DefaultRegistry.Counter("rpc.decode_errors")
	// RPCQueryLatency records round-trip time for query/response pairs, in milliseconds.
	RPCQueryLatency = DefaultRegistry.Histogram("rpc.query_latency_ms")

	// ---- Lookup engine metrics ----

	// LookupsStarted counts iterative lookups initiated.
	LookupsStarted = DefaultRegistry.Counter("lookup.started")
	// LookupsCompleted counts iterative lookups that reached termination.
	LookupsCompleted = DefaultRegistry.Counter("lookup.completed")
	// LookupRounds records the number of progress rounds per completed lookup.
	LookupRounds = DefaultRegistry.Histogram("lookup.rounds")

	// ---- Event loop metrics ----

	// EventQueueDepth tracks the number of events currently queued.
	EventQueueDepth = DefaultRegistry.Gauge("eventloop.queue_depth")
	// EventsDropped counts events dropped because the queue was full.
	EventsDropped = DefaultRegistry.Counter("eventloop.events_dropped")
	// TimersFired counts timer expirations dispatched.
	TimersFired = DefaultRegistry.Counter("eventloop.timers_fired")
	// PollCycles counts completed poll cycles.
	PollCycles = DefaultRegistry.Counter("eventloop.poll_cycles")
)

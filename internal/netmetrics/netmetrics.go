// Package netmetrics exposes the counters the transport, channel, and
// session layers update, collected with VictoriaMetrics/metrics.
package netmetrics

import "github.com/VictoriaMetrics/metrics"

var (
	DatagramsSent         = metrics.NewCounter("netcode_datagrams_sent_total")
	DatagramsReceived     = metrics.NewCounter("netcode_datagrams_received_total")
	DroppedSendNoPeer     = metrics.NewCounter("netcode_dropped_send_no_peer_total")
	DroppedRingOverflow   = metrics.NewCounter("netcode_dropped_ring_overflow_total")
	DroppedMalformed      = metrics.NewCounter("netcode_dropped_malformed_total")
	DroppedReplay         = metrics.NewCounter("netcode_dropped_replay_total")
	DroppedDuplicate      = metrics.NewCounter("netcode_dropped_duplicate_reliable_total")
	DroppedSaltMismatch   = metrics.NewCounter("netcode_dropped_salt_mismatch_total")
	ReliableRetransmitted = metrics.NewCounter("netcode_reliable_retransmitted_total")
	ReliableDelivered     = metrics.NewCounter("netcode_reliable_delivered_total")
	ServerSlotTimeouts    = metrics.NewCounter("netcode_server_slot_timeouts_total")
	ServerSlotsFull       = metrics.NewCounter("netcode_server_slots_full_total")
	ServerConnects        = metrics.NewCounter("netcode_server_connects_total")
	ServerDisconnects     = metrics.NewCounter("netcode_server_disconnects_total")
)

// WritePrometheus exposes the module's counters in the Prometheus text
// format, e.g. for an HTTP /metrics handler in the enclosing program.
var WritePrometheus = metrics.WritePrometheus

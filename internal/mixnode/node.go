package mixnode

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/rawblock/mixsim/internal/queue"
	"github.com/rawblock/mixsim/pkg/models"
)

// NodeID identifies a mix node. Node ids are dense and equal to the node's
// position in the simulation's node list.
type NodeID = uint32

// ReceiverNodeID is the sentinel id of the virtual receiver. Edges leading
// to it are terminal: the relay phase treats them as data sinks instead of
// forwarding to another node.
const ReceiverNodeID NodeID = math.MaxUint32

// Relay is one message popped towards one peer during a slot.
type Relay struct {
	PeerID NodeID
	Msg    queue.Message
}

// Config describes a mix node.
type Config struct {
	QueueType    models.QueueType
	QueueSeed    int64 // seeds the per-peer queue seeder
	MinQueueSize uint16
	// PeeringDegree is the expected peer count; the dedup cache evicts an
	// entry once a message has been sighted this many times.
	PeeringDegree uint32
	// EnableCache turns on at-most-once forwarding. Striped topologies
	// disable it: with a single inbound path per message, every arrival is
	// first-seen anyway.
	EnableCache bool
}

// Node is a single mix. It keeps one transmission queue per connected peer
// in a flat list sorted by peer id; determinism of the whole simulation
// rests on that traversal order, and mutation only happens at connect time,
// so the insertion cost is irrelevant.
type Node struct {
	ID NodeID

	cfg       Config
	queueSeed *rand.Rand
	queues    []peerQueue
	connected map[NodeID]bool
	// receivedMsgs counts sightings per message; nil when the cache is
	// disabled. An entry is evicted as soon as its count reaches the
	// peering degree, since no remaining neighbor can deliver the message
	// for the first time. This keeps per-node memory bounded by the
	// messages still in flight.
	receivedMsgs map[models.DataMessage]uint32
}

type peerQueue struct {
	peerID NodeID
	q      *queue.Queue
}

// New creates a disconnected mix node.
func New(id NodeID, cfg Config) *Node {
	n := &Node{
		ID:        id,
		cfg:       cfg,
		queueSeed: rand.New(rand.NewSource(cfg.QueueSeed)),
		connected: make(map[NodeID]bool),
	}
	if cfg.EnableCache {
		n.receivedMsgs = make(map[models.DataMessage]uint32)
	}
	return n
}

// PeeringDegree is the configured expected peer count.
func (n *Node) PeeringDegree() uint32 {
	return n.cfg.PeeringDegree
}

// Connect adds a peer with its own independently seeded queue, keeping the
// queue list sorted by peer id. Connecting an already-connected peer is a
// no-op.
func (n *Node) Connect(peerID NodeID) {
	if n.connected[peerID] {
		return
	}
	n.connected[peerID] = true

	pq := peerQueue{
		peerID: peerID,
		q: queue.New(queue.Config{
			Type:         n.cfg.QueueType,
			Seed:         int64(n.queueSeed.Uint64()),
			MinQueueSize: n.cfg.MinQueueSize,
		}),
	}
	pos := sort.Search(len(n.queues), func(i int) bool { return n.queues[i].peerID >= peerID })
	n.queues = append(n.queues, peerQueue{})
	copy(n.queues[pos+1:], n.queues[pos:])
	n.queues[pos] = pq
}

// Send originates a message at this node: it is marked as seen and pushed
// into every peer queue. Sending the same message twice on one node is a
// contract violation (the simulator guarantees unique message ids).
func (n *Node) Send(msg models.DataMessage) {
	if !n.checkAndUpdateCache(msg, true) {
		panic(fmt.Sprintf("mixnode %d: duplicate send of %v", n.ID, msg))
	}
	for i := range n.queues {
		n.queues[i].q.Push(msg)
	}
}

// Receive handles a message arriving from a peer (or from a sender, when
// from is nil). It returns true iff this is the first sighting, in which
// case the message is pushed into every peer queue except the one pointing
// back at the relayer.
func (n *Node) Receive(msg models.DataMessage, from *NodeID) bool {
	firstReceived := n.checkAndUpdateCache(msg, false)
	if !firstReceived {
		return false
	}
	for i := range n.queues {
		if from != nil && n.queues[i].peerID == *from {
			continue
		}
		n.queues[i].q.Push(msg)
	}
	return true
}

// ReadQueues pops exactly one message from each peer queue, in queue-list
// (ascending peer id) order.
func (n *Node) ReadQueues() []Relay {
	relays := make([]Relay, 0, len(n.queues))
	for i := range n.queues {
		relays = append(relays, Relay{PeerID: n.queues[i].peerID, Msg: n.queues[i].q.Pop()})
	}
	return relays
}

// QueueDataMsgCounts reports the buffered data count of each peer queue in
// queue-list order.
func (n *Node) QueueDataMsgCounts() []int {
	counts := make([]int, 0, len(n.queues))
	for i := range n.queues {
		counts = append(counts, n.queues[i].q.DataCount())
	}
	return counts
}

func (n *Node) checkAndUpdateCache(msg models.DataMessage, sending bool) bool {
	if n.receivedMsgs == nil {
		return true
	}
	var firstReceived bool
	if _, ok := n.receivedMsgs[msg]; ok {
		n.receivedMsgs[msg]++
	} else {
		if sending {
			n.receivedMsgs[msg] = 0
		} else {
			n.receivedMsgs[msg] = 1
		}
		firstReceived = true
	}
	// Once the message has been sighted from all connected peers it can
	// never be seen for the first time again, so the entry is dropped.
	if n.receivedMsgs[msg] == n.cfg.PeeringDegree {
		delete(n.receivedMsgs, msg)
	}
	return firstReceived
}

// CachedMsgCount is the number of live dedup-cache entries. It exists for
// bounded-memory checks in tests; nodes without a cache report 0.
func (n *Node) CachedMsgCount() int {
	return len(n.receivedMsgs)
}

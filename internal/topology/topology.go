package topology

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/rawblock/mixsim/internal/mixnode"
	"github.com/rawblock/mixsim/pkg/models"
)

// Topology is the adjacency structure of the mix graph: one sorted peer-id
// list per node.
type Topology [][]mixnode.NodeID

// Build samples a random connected graph in which node i has
// peeringDegrees[i] peers (degrees must be sorted in descending order).
// Sampling retries until the graph is connected; with the degree schedules
// the sweeps use, a handful of attempts suffice.
func Build(numNodes uint32, peeringDegrees []uint32, seed int64) (Topology, error) {
	if int(numNodes) != len(peeringDegrees) {
		return nil, fmt.Errorf("topology: %d nodes but %d degrees", numNodes, len(peeringDegrees))
	}
	for i := 1; i < len(peeringDegrees); i++ {
		if peeringDegrees[i-1] < peeringDegrees[i] {
			return nil, fmt.Errorf("topology: peering degrees must be sorted in descending order")
		}
	}

	rng := rand.New(rand.NewSource(seed))
	for {
		adj := make([]map[mixnode.NodeID]bool, numNodes)
		for i := range adj {
			adj[i] = make(map[mixnode.NodeID]bool)
		}

		for node := uint32(0); node < numNodes; node++ {
			// Nodes that can still accept a connection from this node.
			var others []mixnode.NodeID
			for other := uint32(0); other < numNodes; other++ {
				if other == node {
					continue
				}
				if !adj[node][other] && len(adj[other]) < int(peeringDegrees[other]) {
					others = append(others, other)
				}
			}

			numNeeds := int(peeringDegrees[node]) - len(adj[node])
			if numNeeds <= 0 {
				continue
			}
			rng.Shuffle(len(others), func(i, j int) {
				others[i], others[j] = others[j], others[i]
			})
			if numNeeds > len(others) {
				numNeeds = len(others)
			}
			for _, peer := range others[:numNeeds] {
				adj[node][peer] = true
				adj[peer][node] = true
			}
		}

		if allNodesConnected(adj) {
			topo := make(Topology, numNodes)
			for i, peers := range adj {
				sorted := make([]mixnode.NodeID, 0, len(peers))
				for p := range peers {
					sorted = append(sorted, p)
				}
				sort.Slice(sorted, func(a, b int) bool { return sorted[a] < sorted[b] })
				topo[i] = sorted
			}
			return topo, nil
		}
	}
}

func allNodesConnected(adj []map[mixnode.NodeID]bool) bool {
	if len(adj) == 0 {
		return true
	}
	visited := make(map[mixnode.NodeID]bool)
	stack := []mixnode.NodeID{0}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		visited[node] = true
		for peer := range adj[node] {
			if !visited[peer] {
				stack = append(stack, peer)
			}
		}
	}
	return len(visited) == len(adj)
}

// ReceiverPeers maps the mixes whose outgoing edge points at the virtual
// receiver to their receiver-connection index. Indices are assigned in the
// order the inbound edges are discovered, which the builders keep
// deterministic (ascending peer id for random topologies, path order for
// striped ones).
type ReceiverPeers struct {
	ids     []mixnode.NodeID
	connIdx map[mixnode.NodeID]int
}

// NewReceiverPeers returns an empty index.
func NewReceiverPeers() *ReceiverPeers {
	return &ReceiverPeers{connIdx: make(map[mixnode.NodeID]int)}
}

// Add registers a mix as the next receiver connection.
func (r *ReceiverPeers) Add(id mixnode.NodeID) {
	if _, ok := r.connIdx[id]; ok {
		return
	}
	r.connIdx[id] = len(r.ids)
	r.ids = append(r.ids, id)
}

// ConnIdx resolves a relayer id to its receiver-connection index.
func (r *ReceiverPeers) ConnIdx(id mixnode.NodeID) (int, bool) {
	idx, ok := r.connIdx[id]
	return idx, ok
}

// IDs lists the receiver-adjacent mixes in connection-index order.
func (r *ReceiverPeers) IDs() []mixnode.NodeID {
	return r.ids
}

// Len is the number of receiver connections.
func (r *ReceiverPeers) Len() int {
	return len(r.ids)
}

// Network is a fully wired mix network for one iteration.
type Network struct {
	Nodes []*mixnode.Node
	// SenderPeers[s] lists the mixes adjacent to logical sender s.
	SenderPeers [][]mixnode.NodeID
	// ReceiverPeers indexes the mixes adjacent to the virtual receiver.
	ReceiverPeers *ReceiverPeers
	// Adjacency is the mix-to-mix topology (nil for striped networks,
	// where the paths are implicit in the node order).
	Adjacency Topology
}

// BuildStriped lays out num_paths parallel linear paths of num_mixes hops
// each. Every sender feeds the head of every path; every path tail feeds
// the receiver. The dedup cache stays disabled: each message has exactly
// one inbound route per node.
func BuildStriped(p *models.ParamSet, seed int64) (*Network, error) {
	if p.RandomTopology {
		return nil, fmt.Errorf("topology: striped builder called with random_topology set")
	}
	queueSeedRng := rand.New(rand.NewSource(seed))

	numNodes := int(p.NumPaths) * int(p.NumMixes)
	nodes := make([]*mixnode.Node, 0, numNodes)
	paths := make([][]mixnode.NodeID, 0, p.NumPaths)
	var nextNodeID mixnode.NodeID
	for path := 0; path < int(p.NumPaths); path++ {
		ids := make([]mixnode.NodeID, 0, p.NumMixes)
		for hop := 0; hop < int(p.NumMixes); hop++ {
			id := nextNodeID
			nextNodeID++
			nodes = append(nodes, mixnode.New(id, mixnode.Config{
				QueueType:     p.QueueType,
				QueueSeed:     int64(queueSeedRng.Uint64()),
				MinQueueSize:  p.MinQueueSize,
				PeeringDegree: p.PeeringDegree.Fixed,
				EnableCache:   false,
			}))
			ids = append(ids, id)
		}
		paths = append(paths, ids)
	}

	receiverPeers := NewReceiverPeers()
	for _, path := range paths {
		for i, id := range path {
			if i != len(path)-1 {
				nodes[id].Connect(path[i+1])
			} else {
				nodes[id].Connect(mixnode.ReceiverNodeID)
				receiverPeers.Add(id)
			}
		}
	}

	heads := make([]mixnode.NodeID, 0, len(paths))
	for _, path := range paths {
		heads = append(heads, path[0])
	}
	senderPeers := make([][]mixnode.NodeID, p.NumSenders)
	for s := range senderPeers {
		senderPeers[s] = heads
	}

	return &Network{Nodes: nodes, SenderPeers: senderPeers, ReceiverPeers: receiverPeers}, nil
}

// BuildRandom realizes the degree schedule, samples a connected mix graph,
// and attaches senders and the receiver to uniformly chosen mixes. The
// dedup cache is enabled: random graphs give a message multiple inbound
// routes to the same node.
func BuildRandom(p *models.ParamSet, seed int64) (*Network, error) {
	if !p.RandomTopology {
		return nil, fmt.Errorf("topology: random builder called without random_topology")
	}
	degrees := p.PeeringDegree.Realize(p.NumMixes)

	queueSeedRng := rand.New(rand.NewSource(seed))
	nodes := make([]*mixnode.Node, 0, p.NumMixes)
	for id := mixnode.NodeID(0); id < p.NumMixes; id++ {
		nodes = append(nodes, mixnode.New(id, mixnode.Config{
			QueueType:     p.QueueType,
			QueueSeed:     int64(queueSeedRng.Uint64()),
			MinQueueSize:  p.MinQueueSize,
			PeeringDegree: degrees[id],
			EnableCache:   true,
		}))
	}

	// Sender and receiver attachment points are sampled independently of
	// the mix graph itself.
	peersRng := rand.New(rand.NewSource(seed))
	candidates := make([]mixnode.NodeID, p.NumMixes)
	for i := range candidates {
		candidates[i] = mixnode.NodeID(i)
	}
	numConns := p.NumSenderOrReceiverConns()
	if numConns > len(candidates) {
		return nil, fmt.Errorf("topology: %d sender/receiver connections exceed %d mixes",
			numConns, len(candidates))
	}

	senderPeers := make([][]mixnode.NodeID, 0, p.NumSenders)
	for s := 0; s < int(p.NumSenders); s++ {
		peersRng.Shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})
		peers := make([]mixnode.NodeID, numConns)
		copy(peers, candidates[:numConns])
		sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
		senderPeers = append(senderPeers, peers)
	}
	peersRng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	receiverIDs := make([]mixnode.NodeID, numConns)
	copy(receiverIDs, candidates[:numConns])
	sort.Slice(receiverIDs, func(i, j int) bool { return receiverIDs[i] < receiverIDs[j] })

	adjacency, err := Build(p.NumMixes, degrees, seed)
	if err != nil {
		return nil, err
	}
	for nodeID, peers := range adjacency {
		for _, peerID := range peers {
			nodes[nodeID].Connect(peerID)
		}
	}

	receiverPeers := NewReceiverPeers()
	for _, id := range receiverIDs {
		nodes[id].Connect(mixnode.ReceiverNodeID)
		receiverPeers.Add(id)
	}

	return &Network{
		Nodes:         nodes,
		SenderPeers:   senderPeers,
		ReceiverPeers: receiverPeers,
		Adjacency:     adjacency,
	}, nil
}

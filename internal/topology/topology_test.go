package topology

import (
	"reflect"
	"testing"

	"github.com/rawblock/mixsim/internal/mixnode"
	"github.com/rawblock/mixsim/pkg/models"
)

func TestBuildConnectedGraph(t *testing.T) {
	const numNodes = 10
	degrees := make([]uint32, numNodes)
	for i := range degrees {
		degrees[i] = 3
	}

	topo, err := Build(numNodes, degrees, 0)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(topo) != numNodes {
		t.Fatalf("Expected %d adjacency lists. Got: %d", numNodes, len(topo))
	}

	for node, peers := range topo {
		if len(peers) == 0 {
			t.Errorf("Node %d has no peers", node)
		}
		if len(peers) > int(degrees[node])+1 {
			t.Errorf("Node %d has %d peers, far above degree %d", node, len(peers), degrees[node])
		}
		for i := 1; i < len(peers); i++ {
			if peers[i-1] >= peers[i] {
				t.Errorf("Node %d peer list not strictly sorted: %v", node, peers)
			}
		}
		// Symmetry
		for _, p := range peers {
			found := false
			for _, back := range topo[p] {
				if back == mixnode.NodeID(node) {
					found = true
				}
			}
			if !found {
				t.Errorf("Edge %d->%d not symmetric", node, p)
			}
		}
	}
}

func TestBuildDeterministic(t *testing.T) {
	degrees := []uint32{3, 3, 3, 3, 3, 3, 3, 3}
	a, err := Build(8, degrees, 42)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	b, err := Build(8, degrees, 42)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("Expected identical topologies for identical seeds")
	}
}

func TestBuildRejectsUnsortedDegrees(t *testing.T) {
	if _, err := Build(3, []uint32{1, 2, 1}, 0); err == nil {
		t.Error("Expected error for ascending degree schedule")
	}
}

func TestBuildStripedLayout(t *testing.T) {
	p := &models.ParamSet{
		ID:               1,
		NumMixes:         3,
		NumPaths:         2,
		PeeringDegree:    models.FixedDegree(1),
		MinQueueSize:     10,
		TransmissionRate: 1,
		NumSenders:       2,
		QueueType:        models.NonMix,
	}
	net, err := BuildStriped(p, 0)
	if err != nil {
		t.Fatalf("BuildStriped failed: %v", err)
	}
	if len(net.Nodes) != 6 {
		t.Fatalf("Expected 6 nodes. Got: %d", len(net.Nodes))
	}

	// Each sender is wired to the head of every path.
	for s, peers := range net.SenderPeers {
		want := []mixnode.NodeID{0, 3}
		if !reflect.DeepEqual(peers, want) {
			t.Errorf("Sender %d peers: expected %v. Got: %v", s, want, peers)
		}
	}

	// Path tails are the receiver connections in path order.
	if got := net.ReceiverPeers.IDs(); !reflect.DeepEqual(got, []mixnode.NodeID{2, 5}) {
		t.Errorf("Expected receiver peers [2 5]. Got: %v", got)
	}
	if idx, ok := net.ReceiverPeers.ConnIdx(5); !ok || idx != 1 {
		t.Errorf("Expected conn index 1 for node 5. Got: %d (ok=%v)", idx, ok)
	}
}

func TestBuildRandomNetwork(t *testing.T) {
	p := &models.ParamSet{
		ID:               1,
		NumMixes:         10,
		RandomTopology:   true,
		PeeringDegree:    models.FixedDegree(2),
		MinQueueSize:     10,
		TransmissionRate: 1,
		NumSenders:       1,
		QueueType:        models.NonMix,
	}
	net, err := BuildRandom(p, 0)
	if err != nil {
		t.Fatalf("BuildRandom failed: %v", err)
	}
	if len(net.Nodes) != 10 {
		t.Fatalf("Expected 10 nodes. Got: %d", len(net.Nodes))
	}
	if len(net.SenderPeers) != 1 || len(net.SenderPeers[0]) != 2 {
		t.Errorf("Expected 1 sender with 2 peers. Got: %v", net.SenderPeers)
	}
	if net.ReceiverPeers.Len() != 2 {
		t.Errorf("Expected 2 receiver connections. Got: %d", net.ReceiverPeers.Len())
	}
	if len(net.Adjacency) != 10 {
		t.Errorf("Expected adjacency for 10 nodes. Got: %d", len(net.Adjacency))
	}
}

func TestRealizeDegreeDistribution(t *testing.T) {
	pd := models.RandomDegree(
		models.DegreeProb{Degree: 4, Prob: 0.87},
		models.DegreeProb{Degree: 12, Prob: 0.123},
		models.DegreeProb{Degree: 24, Prob: 0.007},
	)
	degrees := pd.Realize(32)
	if len(degrees) != 32 {
		t.Fatalf("Expected 32 degrees. Got: %d", len(degrees))
	}
	counts := map[uint32]int{}
	for _, d := range degrees {
		counts[d]++
	}
	// ceil(0.007*32)=1 node of degree 24, ceil(0.123*32)=4 of degree 12,
	// remainder (27) of degree 4.
	if counts[24] != 1 || counts[12] != 4 || counts[4] != 27 {
		t.Errorf("Expected degree counts 24:1 12:4 4:27. Got: %v", counts)
	}
	for i := 1; i < len(degrees); i++ {
		if degrees[i-1] < degrees[i] {
			t.Fatalf("Degrees not sorted descending: %v", degrees)
		}
	}
}

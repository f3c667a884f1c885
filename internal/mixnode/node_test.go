package mixnode

import (
	"testing"

	"github.com/rawblock/mixsim/pkg/models"
)

func cfg(enableCache bool, degree uint32) Config {
	return Config{
		QueueType:     models.NonMix,
		QueueSeed:     0,
		PeeringDegree: degree,
		EnableCache:   enableCache,
	}
}

func msg(id uint32) models.DataMessage {
	return models.DataMessage{Sender: 0, MsgID: id}
}

func TestConnectKeepsQueuesSorted(t *testing.T) {
	n := New(0, cfg(true, 3))
	n.Connect(5)
	n.Connect(1)
	n.Connect(9)
	n.Connect(1) // idempotent

	relays := n.ReadQueues()
	if len(relays) != 3 {
		t.Fatalf("Expected 3 queues. Got: %d", len(relays))
	}
	want := []NodeID{1, 5, 9}
	for i, r := range relays {
		if r.PeerID != want[i] {
			t.Errorf("Queue %d: expected peer %d. Got: %d", i, want[i], r.PeerID)
		}
	}
}

func TestReceiveForwardsToAllButSender(t *testing.T) {
	n := New(0, cfg(true, 2))
	n.Connect(1)
	n.Connect(2)

	from := NodeID(1)
	if !n.Receive(msg(0), &from) {
		t.Fatal("Expected first receive to report first-seen")
	}

	counts := n.QueueDataMsgCounts()
	if counts[0] != 0 || counts[1] != 1 {
		t.Errorf("Expected counts [0 1] (no echo to relayer). Got: %v", counts)
	}
}

func TestReceiveDeduplicates(t *testing.T) {
	n := New(0, cfg(true, 3))
	n.Connect(1)
	n.Connect(2)
	n.Connect(3)

	from1, from2 := NodeID(1), NodeID(2)
	if !n.Receive(msg(0), &from1) {
		t.Fatal("Expected first receive to report first-seen")
	}
	if n.Receive(msg(0), &from2) {
		t.Error("Expected duplicate receive to report already-seen")
	}

	// Pushed only on the first sighting: to peers 2 and 3.
	counts := n.QueueDataMsgCounts()
	if counts[0] != 0 || counts[1] != 1 || counts[2] != 1 {
		t.Errorf("Expected counts [0 1 1]. Got: %v", counts)
	}
}

func TestCacheEvictionAtPeeringDegree(t *testing.T) {
	n := New(0, cfg(true, 2))
	n.Connect(1)
	n.Connect(2)

	from1, from2 := NodeID(1), NodeID(2)
	n.Receive(msg(0), &from1)
	if n.CachedMsgCount() != 1 {
		t.Fatalf("Expected 1 cache entry after first sighting. Got: %d", n.CachedMsgCount())
	}
	n.Receive(msg(0), &from2)
	if n.CachedMsgCount() != 0 {
		t.Errorf("Expected cache entry evicted at peering degree. Got: %d entries", n.CachedMsgCount())
	}
}

func TestSendPushesEverywhereAndCounts(t *testing.T) {
	n := New(0, cfg(true, 2))
	n.Connect(1)
	n.Connect(2)

	n.Send(msg(0))
	counts := n.QueueDataMsgCounts()
	if counts[0] != 1 || counts[1] != 1 {
		t.Errorf("Expected send to push to every peer queue. Got: %v", counts)
	}

	// Two sightings after the send reach the peering degree and evict.
	from := NodeID(1)
	if n.Receive(msg(0), &from) {
		t.Error("Expected receive of own sent message to report already-seen")
	}
	from2 := NodeID(2)
	n.Receive(msg(0), &from2)
	if n.CachedMsgCount() != 0 {
		t.Errorf("Expected cache entry evicted after degree sightings. Got: %d", n.CachedMsgCount())
	}
}

func TestDuplicateSendPanics(t *testing.T) {
	n := New(0, cfg(true, 2))
	n.Connect(1)
	n.Send(msg(0))

	defer func() {
		if recover() == nil {
			t.Error("Expected duplicate send to panic")
		}
	}()
	n.Send(msg(0))
}

func TestDisabledCacheTreatsEveryArrivalAsFirstSeen(t *testing.T) {
	n := New(0, cfg(false, 1))
	n.Connect(1)

	from := NodeID(2)
	for i := 0; i < 3; i++ {
		if !n.Receive(msg(0), &from) {
			t.Fatalf("Expected arrival %d to be first-seen with cache disabled", i)
		}
	}
	if got := n.QueueDataMsgCounts()[0]; got != 3 {
		t.Errorf("Expected 3 pushes with cache disabled. Got: %d", got)
	}
}

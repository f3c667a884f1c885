package sim

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/rawblock/mixsim/internal/mixnode"
	"github.com/rawblock/mixsim/internal/ordering"
	"github.com/rawblock/mixsim/internal/topology"
	"github.com/rawblock/mixsim/pkg/models"
)

// queueDepthSampleInterval is how far virtual time must advance between two
// queue-depth samples, in simulated time units.
const queueDepthSampleInterval float32 = 100.0

// Iteration runs one simulation of a parameter set under one seed.
type Iteration struct {
	ParamSet models.ParamSet
	// Seed drives every random decision of the iteration: queue seeding via
	// the topology builders and the sender/mix emission RNG. The sweep
	// runner passes the iteration index.
	Seed int64
	// Dir is the existing directory the iteration writes its artifacts to.
	Dir string
	// SkipCoeff disables the ordering-coefficient output.
	SkipCoeff bool
}

// Result carries the measurements the sweep runner aggregates across
// iterations.
type Result struct {
	VTime     float32
	Latencies []float64
	Strong    []float64
	Causal    []float64
	Weak      []float64
}

// Run executes the iteration to completion and commits its output files.
func (it *Iteration) Run() (*Result, error) {
	p := &it.ParamSet
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var net *topology.Network
	var err error
	if p.RandomTopology {
		net, err = topology.BuildRandom(p, it.Seed)
	} else {
		net, err = topology.BuildStriped(p, it.Seed)
	}
	if err != nil {
		return nil, err
	}

	outputs, err := NewOutputs(it.Dir, int(p.NumSenders), net.ReceiverPeers.Len())
	if err != nil {
		return nil, err
	}
	if p.RandomTopology {
		if err := outputs.WriteTopology(net); err != nil {
			return nil, err
		}
	}

	result, err := it.run(net, outputs)
	if err != nil {
		return nil, err
	}

	if !it.SkipCoeff {
		if err := outputs.WriteCoefficients(); err != nil {
			return nil, err
		}
		collectCoefficients(outputs, result)
	}
	if err := outputs.Close(); err != nil {
		return nil, err
	}
	if err := outputs.RenamePaths(); err != nil {
		return nil, err
	}
	return result, nil
}

func (it *Iteration) run(net *topology.Network, outputs *Outputs) (*Result, error) {
	p := &it.ParamSet
	nodes := net.Nodes

	// One generator slot per sender plus one shared by every mix for
	// cover data.
	msgGen := models.NewDataMessageGenerator(p.NumSenders + 1)
	mixMsgSenderID := models.SenderIdx(p.NumSenders)

	var vtime float32
	var lastSampleVtime float32
	transmissionInterval := 1.0 / float32(p.TransmissionRate)

	allSentCount := 0
	allSentCountTarget := int(p.NumSenderMsgs) * int(p.NumSenders)
	sentDataMsgs := make(map[models.DataMessage]float32)
	recvDataMsgs := make(map[models.DataMessage]float32)
	result := &Result{}

	if err := outputs.WriteQueueCountsHeader(nodes); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(it.Seed))
	for {
		// Sender emission: every sender fills one slot, with data or noise.
		if allSentCount < allSentCountTarget {
			for senderIdx, senderPeers := range net.SenderPeers {
				if tryProbability(rng, p.SenderDataMsgProb) {
					msg := msgGen.Next(models.SenderIdx(senderIdx))
					for _, peerID := range senderPeers {
						nodes[peerID].Receive(msg, nil)
					}
					sentDataMsgs[msg] = vtime
					if err := outputs.AddSentMsg(msg); err != nil {
						return nil, err
					}
				} else {
					// Noise fills the slot in the sender's sequence but is
					// never delivered: a mix would only drop it.
					outputs.AddSentNoise(models.SenderIdx(senderIdx))
				}
				allSentCount++
			}
		}

		// Mix cover data: a deterministic subset of mixes may originate a
		// cover message each. Cover messages never enter sentDataMsgs or
		// any sender sequence.
		if p.MixDataMsgProb > 0 {
			for _, idx := range it.coverMixes(rng, len(nodes)) {
				if tryProbability(rng, p.MixDataMsgProb) {
					nodes[idx].Send(msgGen.Next(mixMsgSenderID))
				}
			}
		}

		// Relay: snapshot one pop per queue per mix, then deliver in node
		// and queue-list order.
		type relaySet struct {
			nodeID mixnode.NodeID
			relays []mixnode.Relay
		}
		allRelays := make([]relaySet, 0, len(nodes))
		for _, node := range nodes {
			allRelays = append(allRelays, relaySet{nodeID: node.ID, relays: node.ReadQueues()})
		}
		for _, rs := range allRelays {
			for _, relay := range rs.relays {
				if relay.PeerID == mixnode.ReceiverNodeID {
					connIdx, ok := net.ReceiverPeers.ConnIdx(rs.nodeID)
					if !ok {
						panic(fmt.Sprintf("sim: relayer %d has no receiver connection", rs.nodeID))
					}
					if relay.Msg.Noise {
						outputs.AddRecvNoise(connIdx)
						continue
					}
					msg := relay.Msg.Data
					// Latency is recorded once, for sender-originated
					// messages only; cover data still lands in the
					// connection's sequence.
					if sentTime, sent := sentDataMsgs[msg]; sent {
						if _, seen := recvDataMsgs[msg]; !seen {
							recvDataMsgs[msg] = vtime
							result.Latencies = append(result.Latencies, float64(vtime-sentTime))
							if err := outputs.AddLatency(msg, sentTime, vtime); err != nil {
								return nil, err
							}
						}
					}
					if err := outputs.AddRecvMsg(msg, connIdx); err != nil {
						return nil, err
					}
				} else if !relay.Msg.Noise {
					nodes[relay.PeerID].Receive(relay.Msg.Data, &rs.nodeID)
				}
				// Noise relayed between mixes is dropped.
			}
		}

		// Queue-depth sampling.
		if vtime == 0 || vtime-lastSampleVtime >= queueDepthSampleInterval {
			if err := outputs.AddQueueDataMsgCounts(vtime, nodes); err != nil {
				return nil, err
			}
			lastSampleVtime = vtime
		}

		if allSentCount == allSentCountTarget && len(sentDataMsgs) == len(recvDataMsgs) {
			break
		}
		vtime += transmissionInterval
	}

	result.VTime = vtime
	return result, nil
}

// coverMixes picks which mixes get an emission opportunity this slot. When
// every mix participates the sampler is skipped entirely so node order is
// preserved; otherwise a uniform without-replacement sample is drawn from
// the iteration RNG and processed in ascending id order.
func (it *Iteration) coverMixes(rng *rand.Rand, numNodes int) []int {
	k := int(it.ParamSet.NumMixesSendingData)
	if k >= numNodes {
		indices := make([]int, numNodes)
		for i := range indices {
			indices[i] = i
		}
		return indices
	}
	indices := rng.Perm(numNodes)[:k]
	sort.Ints(indices)
	return indices
}

func tryProbability(rng *rand.Rand, prob float32) bool {
	if prob < 0 || prob > 1 {
		panic(fmt.Sprintf("sim: probability %v out of [0, 1]", prob))
	}
	return rng.Float32() < prob
}

// collectCoefficients mirrors the coefficient file into the result, one
// value per (sender, receiver connection) pair, for sweep-level stats.
func collectCoefficients(outputs *Outputs, result *Result) {
	recvEntries := outputs.RecvEntries()
	for _, sent := range outputs.SentEntries() {
		for _, recv := range recvEntries {
			strong, causal := ordering.StrongAndCausalCoeff(sent, recv)
			result.Strong = append(result.Strong, float64(strong))
			result.Causal = append(result.Causal, float64(causal))
			result.Weak = append(result.Weak, float64(ordering.WeakCoeff(sent, recv)))
		}
	}
}

package models

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

// QueueType selects one of the six release policies a mix queue can run.
type QueueType uint8

const (
	NonMix QueueType = iota
	PureCoinFlipping
	PureRandomSampling
	PermutedCoinFlipping
	NoisyCoinFlipping
	NoisyCoinFlippingRandomRelease
)

// AllQueueTypes lists every policy in enumeration order.
var AllQueueTypes = []QueueType{
	NonMix,
	PureCoinFlipping,
	PureRandomSampling,
	PermutedCoinFlipping,
	NoisyCoinFlipping,
	NoisyCoinFlippingRandomRelease,
}

func (q QueueType) String() string {
	switch q {
	case NonMix:
		return "NonMix"
	case PureCoinFlipping:
		return "PureCoinFlipping"
	case PureRandomSampling:
		return "PureRandomSampling"
	case PermutedCoinFlipping:
		return "PermutedCoinFlipping"
	case NoisyCoinFlipping:
		return "NoisyCoinFlipping"
	case NoisyCoinFlippingRandomRelease:
		return "NoisyCoinFlippingRandomRelease"
	default:
		return fmt.Sprintf("QueueType(%d)", uint8(q))
	}
}

// ParseQueueType maps the canonical policy name back to its QueueType.
func ParseQueueType(s string) (QueueType, error) {
	for _, q := range AllQueueTypes {
		if q.String() == s {
			return q, nil
		}
	}
	return 0, fmt.Errorf("unknown queue type: %s", s)
}

// IsMinQueueSizeApplicable reports whether the policy maintains a minimum
// pool and therefore consumes the min_queue_size parameter. Enumeration
// still advances the running paramset id for inapplicable combinations so
// that ids line up across queue types.
func (q QueueType) IsMinQueueSizeApplicable() bool {
	switch q {
	case PureCoinFlipping, PureRandomSampling, PermutedCoinFlipping:
		return true
	default:
		return false
	}
}

// DegreeProb is one (degree, probability) component of a peering-degree
// distribution.
type DegreeProb struct {
	Degree uint32  `json:"degree"`
	Prob   float32 `json:"prob"`
}

// PeeringDegree is either a fixed degree for every mix or a distribution
// realized over the mix population.
type PeeringDegree struct {
	Fixed  uint32       `json:"fixed,omitempty"`
	Random []DegreeProb `json:"random,omitempty"`
}

// FixedDegree builds a fixed peering degree.
func FixedDegree(c uint32) PeeringDegree {
	return PeeringDegree{Fixed: c}
}

// RandomDegree builds a distribution peering degree.
func RandomDegree(probs ...DegreeProb) PeeringDegree {
	return PeeringDegree{Random: probs}
}

func (p PeeringDegree) IsRandom() bool {
	return len(p.Random) > 0
}

func (p PeeringDegree) String() string {
	if !p.IsRandom() {
		return strconv.FormatUint(uint64(p.Fixed), 10)
	}
	s := "["
	for i, dp := range p.Random {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("(%d, %v)", dp.Degree, dp.Prob)
	}
	return s + "]"
}

// MinDegree returns the smallest degree the schedule can assign. It bounds
// how many distinct sender/receiver connections a topology can support.
func (p PeeringDegree) MinDegree() uint32 {
	if !p.IsRandom() {
		return p.Fixed
	}
	min := p.Random[0].Degree
	for _, dp := range p.Random[1:] {
		if dp.Degree < min {
			min = dp.Degree
		}
	}
	return min
}

// Realize expands the schedule into one degree per mix node. For a
// distribution, each component except the last (in ascending-probability
// order) claims ceil(prob*numMixes) nodes; the remainder takes the last
// degree. The resulting slice is sorted in descending order, which the
// random-graph builder requires.
func (p PeeringDegree) Realize(numMixes uint32) []uint32 {
	degrees := make([]uint32, 0, numMixes)
	if !p.IsRandom() {
		for i := uint32(0); i < numMixes; i++ {
			degrees = append(degrees, p.Fixed)
		}
		return degrees
	}

	probs := make([]DegreeProb, len(p.Random))
	copy(probs, p.Random)
	sort.SliceStable(probs, func(i, j int) bool { return probs[i].Prob < probs[j].Prob })

	for i, dp := range probs {
		var count uint32
		if i < len(probs)-1 {
			count = uint32(math.Ceil(float64(dp.Prob) * float64(numMixes)))
		} else {
			count = numMixes - uint32(len(degrees))
		}
		for j := uint32(0); j < count; j++ {
			degrees = append(degrees, dp.Degree)
		}
	}
	sort.Slice(degrees, func(i, j int) bool { return degrees[i] > degrees[j] })
	return degrees
}

// ParamSetCSVColumns is the header of paramset.csv.
var ParamSetCSVColumns = []string{
	"paramset",
	"num_mixes",
	"num_paths",
	"random_topology",
	"peering_degree",
	"min_queue_size",
	"transmission_rate",
	"num_senders",
	"num_sender_msgs",
	"sender_data_msg_prob",
	"mix_data_msg_prob",
	"num_mixes_sending_data",
	"queue_type",
	"num_iterations",
}

// ParamSet is one fully-specified point in the sweep space.
type ParamSet struct {
	ID                  uint16        `json:"id"`
	NumMixes            uint32        `json:"numMixes"`
	NumPaths            uint16        `json:"numPaths"`
	RandomTopology      bool          `json:"randomTopology"`
	PeeringDegree       PeeringDegree `json:"peeringDegree"`
	MinQueueSize        uint16        `json:"minQueueSize"`
	TransmissionRate    uint16        `json:"transmissionRate"`
	NumSenders          uint8         `json:"numSenders"`
	NumSenderMsgs       uint32        `json:"numSenderMsgs"`
	SenderDataMsgProb   float32       `json:"senderDataMsgProb"`
	MixDataMsgProb      float32       `json:"mixDataMsgProb"`
	NumMixesSendingData uint32        `json:"numMixesSendingData"`
	QueueType           QueueType     `json:"queueType"`
	NumIterations       int           `json:"numIterations"`
}

// Validate rejects parameter sets before an iteration ever starts.
func (p *ParamSet) Validate() error {
	if p.SenderDataMsgProb < 0 || p.SenderDataMsgProb > 1 {
		return fmt.Errorf("paramset %d: sender_data_msg_prob %v out of [0,1]", p.ID, p.SenderDataMsgProb)
	}
	if p.MixDataMsgProb < 0 || p.MixDataMsgProb > 1 {
		return fmt.Errorf("paramset %d: mix_data_msg_prob %v out of [0,1]", p.ID, p.MixDataMsgProb)
	}
	if p.NumSenders == 0 {
		return fmt.Errorf("paramset %d: num_senders must be >= 1", p.ID)
	}
	if p.TransmissionRate == 0 {
		return fmt.Errorf("paramset %d: transmission_rate must be >= 1", p.ID)
	}
	if p.NumIterations <= 0 {
		return fmt.Errorf("paramset %d: num_iterations must be >= 1", p.ID)
	}
	if p.QueueType.IsMinQueueSizeApplicable() && p.MinQueueSize == 0 {
		return fmt.Errorf("paramset %d: %s requires min_queue_size >= 1", p.ID, p.QueueType)
	}
	if p.RandomTopology {
		if conns := p.NumSenderOrReceiverConns(); uint32(conns) > p.NumMixes {
			return fmt.Errorf("paramset %d: %d sender/receiver connections exceed %d mixes",
				p.ID, conns, p.NumMixes)
		}
		if p.NumMixesSendingData > p.NumMixes {
			return fmt.Errorf("paramset %d: num_mixes_sending_data %d exceeds %d mixes",
				p.ID, p.NumMixesSendingData, p.NumMixes)
		}
	} else {
		if p.NumPaths == 0 {
			return fmt.Errorf("paramset %d: striped topology needs num_paths >= 1", p.ID)
		}
		if p.PeeringDegree.IsRandom() {
			return fmt.Errorf("paramset %d: striped topology needs a fixed peering degree", p.ID)
		}
	}
	return nil
}

// NumSenderOrReceiverConns is how many mix nodes each sender (and the
// receiver) connects to. For striped topologies it is the path count; for
// random topologies it is bounded by the smallest peering degree so the
// schedule is always realizable.
func (p *ParamSet) NumSenderOrReceiverConns() int {
	if p.RandomTopology {
		return int(p.PeeringDegree.MinDegree())
	}
	return int(p.NumPaths)
}

// AsCSVRecord renders the paramset as one row under ParamSetCSVColumns.
func (p *ParamSet) AsCSVRecord() []string {
	return []string{
		strconv.FormatUint(uint64(p.ID), 10),
		strconv.FormatUint(uint64(p.NumMixes), 10),
		strconv.FormatUint(uint64(p.NumPaths), 10),
		strconv.FormatBool(p.RandomTopology),
		p.PeeringDegree.String(),
		strconv.FormatUint(uint64(p.MinQueueSize), 10),
		strconv.FormatUint(uint64(p.TransmissionRate), 10),
		strconv.FormatUint(uint64(p.NumSenders), 10),
		strconv.FormatUint(uint64(p.NumSenderMsgs), 10),
		strconv.FormatFloat(float64(p.SenderDataMsgProb), 'g', -1, 32),
		strconv.FormatFloat(float64(p.MixDataMsgProb), 'g', -1, 32),
		strconv.FormatUint(uint64(p.NumMixesSendingData), 10),
		p.QueueType.String(),
		strconv.Itoa(p.NumIterations),
	}
}

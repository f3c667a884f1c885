package models

import "fmt"

// Experiment sweep grids. Each (experiment, session, queue type) triple
// expands into a list of parameter sets with stable ids: a combination that
// is inapplicable for the given queue type (a min_queue_size variation on a
// policy without a pool) still advances the running id, so paramset N means
// the same sweep point for every queue type.

// ExperimentID selects which dimensions of the mixnet are swept.
type ExperimentID uint8

const (
	Experiment1 ExperimentID = 1 + iota // single sender, no mix cover traffic
	Experiment2                         // single sender, mixes emit cover data
	Experiment3                         // two senders, no mix cover traffic
	Experiment4                         // two senders, mixes emit cover data
	Experiment5                         // random topology, no mix cover traffic
	Experiment6                         // random topology, mixes emit cover data
)

// ParseExperimentID parses "1".."6".
func ParseExperimentID(s string) (ExperimentID, error) {
	switch s {
	case "1", "2", "3", "4", "5", "6":
		return ExperimentID(s[0] - '0'), nil
	default:
		return 0, fmt.Errorf("invalid experiment id: %s", s)
	}
}

// SessionID selects the peering-degree regime.
type SessionID uint8

const (
	Session1 SessionID = 1 // fixed peering degrees
	Session3 SessionID = 3 // degree distribution over the population
)

// ParseSessionID parses "1" or "3".
func ParseSessionID(s string) (SessionID, error) {
	switch s {
	case "1":
		return Session1, nil
	case "3":
		return Session3, nil
	default:
		return 0, fmt.Errorf("invalid session id: %s", s)
	}
}

// NewAllParamSets expands the full grid for one experiment/session pair and
// queue type.
func NewAllParamSets(exp ExperimentID, session SessionID, queueType QueueType) ([]ParamSet, error) {
	switch session {
	case Session1:
		return newSession1ParamSets(exp, queueType)
	case Session3:
		return newSession3ParamSets(exp, queueType)
	default:
		return nil, fmt.Errorf("invalid session id: %d", session)
	}
}

func senderDataMsgProbs(exp ExperimentID) []float32 {
	if exp == Experiment6 {
		return []float32{0.01, 0.1, 0.5}
	}
	return []float32{0.01, 0.1, 0.5, 0.9, 0.99, 1.0}
}

func mixDataMsgProbs(exp ExperimentID, numMixes uint32) []float32 {
	switch exp {
	case Experiment1, Experiment3, Experiment5:
		return []float32{0.0}
	case Experiment2, Experiment4:
		return []float32{0.001, 0.01, 0.1}
	default: // Experiment6
		g := float32(numMixes)
		return []float32{1.0 / (2.0 * g), 1.0 / g, 2.0 / g}
	}
}

func numSendersFor(exp ExperimentID) uint8 {
	if exp == Experiment3 || exp == Experiment4 {
		return 2
	}
	return 1
}

func numSenderMsgsFor(exp ExperimentID) uint32 {
	if exp == Experiment6 {
		return 10_000
	}
	return 1_000_000
}

var minQueueSizes = []uint16{10, 50, 100}

func newSession1ParamSets(exp ExperimentID, queueType QueueType) ([]ParamSet, error) {
	numSenders := numSendersFor(exp)
	numSenderMsgs := numSenderMsgsFor(exp)

	id := uint16(1)
	var paramsets []ParamSet

	switch exp {
	case Experiment1, Experiment2, Experiment3, Experiment4:
		// Striped topologies: paths x path length x traffic probabilities.
		for _, numPaths := range []uint16{1, 2, 3, 4} {
			for _, numMixes := range []uint32{1, 2, 3, 4} {
				for _, senderProb := range senderDataMsgProbs(exp) {
					for _, mixProb := range mixDataMsgProbs(exp, numMixes) {
						paramsets = append(paramsets, ParamSet{
							ID:                  id,
							NumMixes:            numMixes,
							NumPaths:            numPaths,
							RandomTopology:      false,
							PeeringDegree:       FixedDegree(1),
							MinQueueSize:        10,
							TransmissionRate:    1,
							NumSenders:          numSenders,
							NumSenderMsgs:       numSenderMsgs,
							SenderDataMsgProb:   senderProb,
							MixDataMsgProb:      mixProb,
							NumMixesSendingData: uint32(numPaths) * numMixes,
							QueueType:           queueType,
							NumIterations:       1,
						})
						id++
					}
				}
			}
		}
	case Experiment5, Experiment6:
		// Random topologies, sweeping the pool floor as well. The pool floor
		// only matters for pool policies; other policies burn the id and
		// skip the duplicate combination.
		for _, numMixes := range []uint32{8, 16, 32} {
			for _, peeringDegree := range []uint32{2, 3, 4} {
				for _, minQueueSize := range minQueueSizes {
					for _, senderProb := range senderDataMsgProbs(exp) {
						for _, mixProb := range mixDataMsgProbs(exp, numMixes) {
							// A pool-floor variation is a no-op for
							// policies without a pool: burn the id so
							// paramset numbering lines up across queue
							// types, but emit the combination only once.
							if !queueType.IsMinQueueSizeApplicable() && minQueueSize != minQueueSizes[0] {
								id++
								continue
							}
							paramsets = append(paramsets, ParamSet{
								ID:                  id,
								NumMixes:            numMixes,
								NumPaths:            0,
								RandomTopology:      true,
								PeeringDegree:       FixedDegree(peeringDegree),
								MinQueueSize:        minQueueSize,
								TransmissionRate:    1,
								NumSenders:          numSenders,
								NumSenderMsgs:       numSenderMsgs,
								SenderDataMsgProb:   senderProb,
								MixDataMsgProb:      mixProb,
								NumMixesSendingData: mixesSendingData(exp, numMixes),
								QueueType:           queueType,
								NumIterations:       10,
							})
							id++
						}
					}
				}
			}
		}
	default:
		return nil, fmt.Errorf("invalid experiment id: %d", exp)
	}

	return paramsets, nil
}

func newSession3ParamSets(exp ExperimentID, queueType QueueType) ([]ParamSet, error) {
	if exp != Experiment5 && exp != Experiment6 {
		return nil, fmt.Errorf("session 3 supports only experiments 5 and 6, got %d", exp)
	}

	const numMixes uint32 = 32
	id := uint16(1)
	var paramsets []ParamSet
	for _, senderProb := range senderDataMsgProbs(exp) {
		for _, mixProb := range mixDataMsgProbs(exp, numMixes) {
			paramsets = append(paramsets, ParamSet{
				ID:             id,
				NumMixes:       numMixes,
				NumPaths:       0,
				RandomTopology: true,
				PeeringDegree: RandomDegree(
					DegreeProb{Degree: 4, Prob: 0.87},
					DegreeProb{Degree: 12, Prob: 0.123},
					DegreeProb{Degree: 24, Prob: 0.007},
				),
				MinQueueSize:        10,
				TransmissionRate:    1,
				NumSenders:          1,
				NumSenderMsgs:       numSenderMsgsFor(exp),
				SenderDataMsgProb:   senderProb,
				MixDataMsgProb:      mixProb,
				NumMixesSendingData: mixesSendingData(exp, numMixes),
				QueueType:           queueType,
				NumIterations:       10,
			})
			id++
		}
	}
	return paramsets, nil
}

// mixesSendingData picks how many mixes participate in cover-data emission.
// Experiment6 exercises the without-replacement sampler by selecting half of
// the population; everything else selects all mixes (which skips the sampler
// entirely so queue-list traversal order is preserved).
func mixesSendingData(exp ExperimentID, numMixes uint32) uint32 {
	if exp == Experiment6 {
		return numMixes / 2
	}
	return numMixes
}

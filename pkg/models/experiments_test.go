package models

import (
	"strings"
	"testing"
)

func TestNewAllParamSetsCounts(t *testing.T) {
	cases := []struct {
		exp       ExperimentID
		session   SessionID
		poolCount int
		flatCount int // policies that ignore min_queue_size
	}{
		{Experiment1, Session1, 96, 96},
		{Experiment2, Session1, 288, 288},
		{Experiment3, Session1, 96, 96},
		{Experiment4, Session1, 288, 288},
		{Experiment5, Session1, 162, 54},
		{Experiment6, Session1, 243, 81},
		{Experiment5, Session3, 6, 6},
		{Experiment6, Session3, 9, 9},
	}

	for _, queueType := range AllQueueTypes {
		for _, c := range cases {
			paramsets, err := NewAllParamSets(c.exp, c.session, queueType)
			if err != nil {
				t.Fatalf("exp %d session %d %v: %v", c.exp, c.session, queueType, err)
			}
			want := c.flatCount
			if queueType.IsMinQueueSizeApplicable() {
				want = c.poolCount
			}
			if len(paramsets) != want {
				t.Errorf("exp %d session %d %v: expected %d paramsets. Got: %d",
					c.exp, c.session, queueType, want, len(paramsets))
			}

			// All paramsets are valid and unique.
			seen := map[string]bool{}
			for _, p := range paramsets {
				if err := p.Validate(); err != nil {
					t.Errorf("Paramset %d invalid: %v", p.ID, err)
				}
				key := strings.Join(p.AsCSVRecord(), ",")
				if seen[key] {
					t.Errorf("Duplicate paramset: %s", key)
				}
				seen[key] = true
			}
		}
	}
}

func TestSession1IDsAreDense(t *testing.T) {
	paramsets, err := NewAllParamSets(Experiment1, Session1, PureCoinFlipping)
	if err != nil {
		t.Fatal(err)
	}
	for i, p := range paramsets {
		if int(p.ID) != i+1 {
			t.Fatalf("Expected paramset %d at position %d. Got id %d", i+1, i, p.ID)
		}
	}
}

func TestParamSetIDStabilityAcrossQueueTypes(t *testing.T) {
	pool, err := NewAllParamSets(Experiment5, Session1, PureCoinFlipping)
	if err != nil {
		t.Fatal(err)
	}
	flat, err := NewAllParamSets(Experiment5, Session1, NoisyCoinFlipping)
	if err != nil {
		t.Fatal(err)
	}

	byID := map[uint16]ParamSet{}
	for _, p := range pool {
		byID[p.ID] = p
	}

	for _, p := range flat {
		counterpart, ok := byID[p.ID]
		if !ok {
			t.Fatalf("Paramset %d missing from pool enumeration", p.ID)
		}
		// The same id denotes the same sweep point regardless of policy.
		if counterpart.NumMixes != p.NumMixes ||
			counterpart.PeeringDegree.Fixed != p.PeeringDegree.Fixed ||
			counterpart.SenderDataMsgProb != p.SenderDataMsgProb ||
			counterpart.MixDataMsgProb != p.MixDataMsgProb ||
			counterpart.MinQueueSize != p.MinQueueSize {
			t.Errorf("Paramset %d diverges across queue types: %+v vs %+v", p.ID, counterpart, p)
		}
	}

	// Non-pool enumerations keep only the first pool-floor value.
	for _, p := range flat {
		if p.MinQueueSize != 10 {
			t.Errorf("Paramset %d: expected collapsed min_queue_size 10. Got: %d", p.ID, p.MinQueueSize)
		}
	}
}

func TestSession3UsesDegreeDistribution(t *testing.T) {
	paramsets, err := NewAllParamSets(Experiment5, Session3, NonMix)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range paramsets {
		if !p.PeeringDegree.IsRandom() {
			t.Errorf("Paramset %d: expected a degree distribution", p.ID)
		}
	}
}

func TestSession3RejectsStripedExperiments(t *testing.T) {
	if _, err := NewAllParamSets(Experiment1, Session3, NonMix); err == nil {
		t.Error("Expected error for experiment 1 under session 3")
	}
}

func TestValidateRejectsBadProbability(t *testing.T) {
	paramsets, _ := NewAllParamSets(Experiment1, Session1, NonMix)
	p := paramsets[0]
	p.SenderDataMsgProb = 1.5
	if err := p.Validate(); err == nil {
		t.Error("Expected validation error for probability > 1")
	}
}

func TestDataMessageGenerator(t *testing.T) {
	gen := NewDataMessageGenerator(3)
	a := gen.Next(0)
	b := gen.Next(0)
	c := gen.Next(2)

	if a != (DataMessage{Sender: 0, MsgID: 0}) || b != (DataMessage{Sender: 0, MsgID: 1}) {
		t.Errorf("Expected per-sender dense ids. Got: %v, %v", a, b)
	}
	if c != (DataMessage{Sender: 2, MsgID: 0}) {
		t.Errorf("Expected independent counter per sender. Got: %v", c)
	}
}

func TestDataMessageStringRoundTrip(t *testing.T) {
	msg := DataMessage{Sender: 2, MsgID: 40}
	if msg.String() != "2:40" {
		t.Errorf("Expected \"2:40\". Got: %q", msg.String())
	}
	parsed, err := ParseDataMessage("2:40")
	if err != nil {
		t.Fatalf("ParseDataMessage failed: %v", err)
	}
	if parsed != msg {
		t.Errorf("Round trip mismatch: %v", parsed)
	}
}

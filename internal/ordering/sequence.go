package ordering

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rawblock/mixsim/pkg/models"
)

// Entry is one element of a transmission sequence: a data message, or a run
// of consecutive noise releases. Runs are length-encoded because the causal
// coefficient compares noise gaps by exact length; collapsing them any other
// way would change the metric.
type Entry struct {
	Msg models.DataMessage
	// NoiseRun is the run length for a noise entry; 0 marks a data entry.
	NoiseRun uint32
}

// DataEntry wraps a message into a sequence entry.
func DataEntry(msg models.DataMessage) Entry {
	return Entry{Msg: msg}
}

// NoiseEntry is a run of count consecutive noises.
func NoiseEntry(count uint32) Entry {
	return Entry{NoiseRun: count}
}

// IsData reports whether the entry carries a message.
func (e Entry) IsData() bool {
	return e.NoiseRun == 0
}

// String renders the CSV cell form: "sender:msg_id" for data, "-count" for
// a noise run.
func (e Entry) String() string {
	if e.IsData() {
		return e.Msg.String()
	}
	return fmt.Sprintf("-%d", e.NoiseRun)
}

// ParseEntry parses the CSV cell form back into an Entry.
func ParseEntry(s string) (Entry, error) {
	if strings.HasPrefix(s, "-") {
		count, err := strconv.ParseUint(s[1:], 10, 32)
		if err != nil || count == 0 {
			return Entry{}, fmt.Errorf("invalid noise run %q", s)
		}
		return NoiseEntry(uint32(count)), nil
	}
	msg, err := models.ParseDataMessage(s)
	if err != nil {
		return Entry{}, err
	}
	return DataEntry(msg), nil
}

// Sequence is an append-only log of data and noise releases. Noises are
// buffered in a pending counter and flushed as a single run entry when the
// next data message arrives, so consecutive noises always collapse into one
// entry.
type Sequence struct {
	entries      []Entry
	pendingNoise uint32
}

// AddMessage appends a data message, first flushing any pending noise run.
func (s *Sequence) AddMessage(msg models.DataMessage) {
	if s.pendingNoise > 0 {
		s.entries = append(s.entries, NoiseEntry(s.pendingNoise))
		s.pendingNoise = 0
	}
	s.entries = append(s.entries, DataEntry(msg))
}

// AddNoise records one noise release.
func (s *Sequence) AddNoise() {
	s.pendingNoise++
}

// Entries returns the full sequence including a trailing noise run that has
// not been flushed by a data append. The receiver is not mutated.
func (s *Sequence) Entries() []Entry {
	if s.pendingNoise == 0 {
		return s.entries
	}
	out := make([]Entry, 0, len(s.entries)+1)
	out = append(out, s.entries...)
	out = append(out, NoiseEntry(s.pendingNoise))
	return out
}

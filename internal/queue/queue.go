package queue

import (
	"fmt"
	"math/rand"

	"github.com/rawblock/mixsim/pkg/models"
)

// Message is one slot release from a queue: either a data message or an
// indistinguishable noise (cover) item. The zero value is noise.
type Message struct {
	Data  models.DataMessage
	Noise bool
}

// DataMsg wraps a payload into a queue message.
func DataMsg(m models.DataMessage) Message {
	return Message{Data: m}
}

// NoiseMsg is the cover item released when a policy decides not to (or
// cannot) release data.
func NoiseMsg() Message {
	return Message{Noise: true}
}

func (m Message) String() string {
	if m.Noise {
		return "noise"
	}
	return m.Data.String()
}

// Config describes one queue instance. Seed fully determines the queue's
// random decisions: two queues with the same seed and the same operation
// history release identical messages.
type Config struct {
	Type         models.QueueType
	Seed         int64
	MinQueueSize uint16
}

// Queue is a single per-peer transmission buffer running one of the six
// release policies. The policies share a representation (an ordered buffer
// of data/noise slots plus a data counter) and differ only in Pop; keeping
// them in one struct with a single dispatch avoids interface dispatch on
// the hot path of the simulation loop.
type Queue struct {
	typ     models.QueueType
	fifo    []models.DataMessage // NonMix only: noise is never buffered
	buf     []Message            // mix policies: data and noise slots in order
	count   int                  // data messages currently in buf
	minPool int                  // pool floor for the three pool policies
	rng     *rand.Rand
}

// New builds a queue for the given policy. Pool policies start with the
// buffer pre-filled to the pool floor with noise.
func New(cfg Config) *Queue {
	q := &Queue{
		typ:     cfg.Type,
		minPool: int(cfg.MinQueueSize),
		rng:     rand.New(rand.NewSource(cfg.Seed)),
	}
	switch cfg.Type {
	case models.PureCoinFlipping, models.PureRandomSampling, models.PermutedCoinFlipping:
		q.buf = make([]Message, q.minPool)
		for i := range q.buf {
			q.buf[i] = NoiseMsg()
		}
	case models.NonMix, models.NoisyCoinFlipping, models.NoisyCoinFlippingRandomRelease:
		// no pre-fill
	default:
		panic(fmt.Sprintf("queue: unknown queue type %d", cfg.Type))
	}
	return q
}

// Push appends a data message to the buffer.
func (q *Queue) Push(msg models.DataMessage) {
	if q.typ == models.NonMix {
		q.fifo = append(q.fifo, msg)
		return
	}
	q.buf = append(q.buf, DataMsg(msg))
	q.count++
}

// Pop releases exactly one message according to the policy. It always
// returns something: a data message or noise.
func (q *Queue) Pop() Message {
	switch q.typ {
	case models.NonMix:
		return q.popFIFO()
	case models.PureCoinFlipping:
		q.ensureMinSize()
		return q.popCoinFlipping()
	case models.PureRandomSampling:
		q.ensureMinSize()
		return q.remove(q.rng.Intn(len(q.buf)))
	case models.PermutedCoinFlipping:
		q.ensureMinSize()
		q.shuffle()
		return q.popCoinFlipping()
	case models.NoisyCoinFlipping:
		return q.popNoisyCoinFlipping()
	case models.NoisyCoinFlippingRandomRelease:
		return q.popNoisyRandomRelease()
	default:
		panic(fmt.Sprintf("queue: unknown queue type %d", q.typ))
	}
}

// DataCount is the number of data messages currently buffered.
func (q *Queue) DataCount() int {
	if q.typ == models.NonMix {
		return len(q.fifo)
	}
	return q.count
}

// Len is the total buffer length including noise slots.
func (q *Queue) Len() int {
	if q.typ == models.NonMix {
		return len(q.fifo)
	}
	return len(q.buf)
}

func (q *Queue) popFIFO() Message {
	if len(q.fifo) == 0 {
		return NoiseMsg()
	}
	msg := q.fifo[0]
	q.fifo = q.fifo[1:]
	return DataMsg(msg)
}

// popCoinFlipping scans the buffer flipping an unbiased coin per slot and
// releases the first slot whose coin lands heads, wrapping around until a
// head occurs. The expected number of flips is constant.
func (q *Queue) popCoinFlipping() Message {
	for {
		for i := 0; i < len(q.buf); i++ {
			if q.flipCoin() {
				return q.remove(i)
			}
		}
	}
}

// popNoisyCoinFlipping has no pool floor. A tails on the front slot gives
// up and releases noise; a tails elsewhere just advances the scan.
func (q *Queue) popNoisyCoinFlipping() Message {
	if len(q.buf) == 0 {
		return NoiseMsg()
	}
	for {
		for i := 0; i < len(q.buf); i++ {
			if q.flipCoin() {
				return q.remove(i)
			} else if i == 0 {
				return NoiseMsg()
			}
		}
	}
}

// popNoisyRandomRelease flips a single coin: heads releases a uniformly
// sampled slot, tails releases noise.
func (q *Queue) popNoisyRandomRelease() Message {
	if len(q.buf) == 0 {
		return NoiseMsg()
	}
	if q.flipCoin() {
		return q.remove(q.rng.Intn(len(q.buf)))
	}
	return NoiseMsg()
}

// ensureMinSize lazily refills the pool with noise up to the floor, so the
// release decision always operates on at least minPool slots.
func (q *Queue) ensureMinSize() {
	for len(q.buf) < q.minPool {
		q.buf = append(q.buf, NoiseMsg())
	}
}

func (q *Queue) remove(idx int) Message {
	msg := q.buf[idx]
	q.buf = append(q.buf[:idx], q.buf[idx+1:]...)
	if !msg.Noise {
		q.count--
	}
	return msg
}

func (q *Queue) flipCoin() bool {
	return q.rng.Float64() < 0.5
}

func (q *Queue) shuffle() {
	q.rng.Shuffle(len(q.buf), func(i, j int) {
		q.buf[i], q.buf[j] = q.buf[j], q.buf[i]
	})
}

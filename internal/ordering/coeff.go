package ordering

import "github.com/rawblock/mixsim/pkg/models"

// Ordering coefficients quantify how much of the sender's transmission order
// survives mixing. All three walk the sent sequence left-to-right; for each
// data message they locate its first occurrence in the received sequence and
// extend an adjacent match run from the pair:
//
//   - causal: the run extends only while both sides advance in lockstep,
//     treating a noise run as matching iff the run lengths are equal
//   - weak: noise is skipped on both sides independently before comparing
//     the next data entries
//   - strong: each causal run of length k contributes k^k instead of k,
//     rewarding long unbroken stretches super-linearly
//
// The walk then resumes after the run on the sent side, so one message pair
// is never counted twice. The metric is not symmetric in its arguments.

// StrongAndCausalCoeff computes the strong and causal coefficients of the
// received sequence b against the sent sequence a in one pass, since the
// strong coefficient is derived from the causal run lengths.
func StrongAndCausalCoeff(a, b []Entry) (strong, causal uint64) {
	walk(a, b, func(i, j int) int {
		k, nextI := causalRunFrom(a, i, b, j)
		causal += k
		strong += powSelf(k)
		return nextI
	})
	return strong, causal
}

// CausalCoeff computes only the causal coefficient.
func CausalCoeff(a, b []Entry) uint64 {
	_, causal := StrongAndCausalCoeff(a, b)
	return causal
}

// WeakCoeff computes the weak coefficient.
func WeakCoeff(a, b []Entry) uint64 {
	var coeff uint64
	walk(a, b, func(i, j int) int {
		k, nextI := weakRunFrom(a, i, b, j)
		coeff += k
		return nextI
	})
	return coeff
}

// walk drives the outer alignment loop: for every data entry in a it finds
// the first matching data entry in b and hands the pair to run, which
// returns the index to resume from on the a side.
func walk(a, b []Entry, run func(i, j int) int) {
	i := 0
	for i < len(a) {
		if !a[i].IsData() {
			i++
			continue
		}
		j, found := findData(b, a[i].Msg)
		if !found {
			i++
			continue
		}
		if nextI := run(i, j); nextI != i {
			i = nextI
		} else {
			i++
		}
	}
}

func findData(seq []Entry, msg models.DataMessage) (int, bool) {
	for j, entry := range seq {
		if entry.IsData() && entry.Msg == msg {
			return j, true
		}
	}
	return 0, false
}

// causalRunFrom counts consecutive matching pairs after (startIdx, bStartIdx)
// while requiring noise runs to match by exact length. It returns the run
// length and the index just past the run on the a side.
func causalRunFrom(a []Entry, startIdx int, b []Entry, bStartIdx int) (uint64, int) {
	var coeff uint64
	i := startIdx + 1
	j := bStartIdx + 1
	for i < len(a) && j < len(b) {
		switch {
		case !a[i].IsData() && !b[j].IsData():
			if a[i].NoiseRun != b[j].NoiseRun {
				return coeff, i
			}
			i++
			j++
		case a[i].IsData() && b[j].IsData():
			if a[i].Msg != b[j].Msg {
				return coeff, i
			}
			coeff++
			i++
			j++
		default:
			return coeff, i
		}
	}
	return coeff, i
}

// weakRunFrom counts consecutive matching data pairs after
// (startIdx, bStartIdx), skipping noise on both sides independently.
func weakRunFrom(a []Entry, startIdx int, b []Entry, bStartIdx int) (uint64, int) {
	var coeff uint64
	i := startIdx + 1
	j := bStartIdx + 1
	for i < len(a) && j < len(b) {
		i = skipNoise(a, i)
		j = skipNoise(b, j)
		if i < len(a) && j < len(b) && a[i] == b[j] {
			coeff++
			i++
			j++
		} else {
			break
		}
	}
	return coeff, i
}

func skipNoise(seq []Entry, idx int) int {
	for idx < len(seq) && !seq[idx].IsData() {
		idx++
	}
	return idx
}

// powSelf computes k^k with 0^0 defined as 0: a zero-length run is not a
// run and contributes nothing.
func powSelf(k uint64) uint64 {
	if k == 0 {
		return 0
	}
	result := uint64(1)
	for n := uint64(0); n < k; n++ {
		result *= k
	}
	return result
}

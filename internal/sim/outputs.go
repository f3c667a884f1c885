package sim

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rawblock/mixsim/internal/mixnode"
	"github.com/rawblock/mixsim/internal/ordering"
	"github.com/rawblock/mixsim/internal/topology"
	"github.com/rawblock/mixsim/pkg/models"
)

// wipInfix marks output files that are still being written. Readers must
// treat only files without the infix as complete; a crashed iteration
// leaves its __WIP__ artifacts in place as evidence.
const wipInfix = "__WIP__"

// SequenceWriter streams one transmission sequence to CSV while keeping the
// run-length-encoded sequence in memory for coefficient computation.
// Consecutive noises are buffered in a counter and flushed as one "-count"
// row when the next data message (or the final flush) arrives.
type SequenceWriter struct {
	noiseBuf uint32
	file     *os.File
	w        *csv.Writer
	seq      ordering.Sequence
}

// NewSequenceWriter creates the backing file. It fails if the file already
// exists.
func NewSequenceWriter(path string) (*SequenceWriter, error) {
	f, err := createNew(path)
	if err != nil {
		return nil, err
	}
	return &SequenceWriter{file: f, w: csv.NewWriter(f)}, nil
}

// AddMessage appends a data message, flushing any pending noise run first.
func (s *SequenceWriter) AddMessage(msg models.DataMessage) error {
	if err := s.clearBuf(); err != nil {
		return err
	}
	s.seq.AddMessage(msg)
	return s.w.Write([]string{msg.String()})
}

// AddNoise records one noise release.
func (s *SequenceWriter) AddNoise() {
	s.noiseBuf++
	s.seq.AddNoise()
}

// Flush writes the trailing noise run and syncs the file.
func (s *SequenceWriter) Flush() error {
	if err := s.clearBuf(); err != nil {
		return err
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return err
	}
	return s.file.Close()
}

// Entries exposes the recorded sequence.
func (s *SequenceWriter) Entries() []ordering.Entry {
	return s.seq.Entries()
}

func (s *SequenceWriter) clearBuf() error {
	if s.noiseBuf == 0 {
		return nil
	}
	err := s.w.Write([]string{fmt.Sprintf("-%d", s.noiseBuf)})
	s.noiseBuf = 0
	return err
}

// Outputs owns every per-iteration artifact: the latency rows, one sequence
// per sender and per receiver connection, the periodic queue-depth samples,
// and the topology dump. All files carry the __WIP__ infix until
// RenamePaths commits them.
type Outputs struct {
	closed bool

	latencyPath string
	latencyFile *os.File
	latency     *csv.Writer

	sentPaths   []string
	sentWriters []*SequenceWriter
	recvPaths   []string
	recvWriters []*SequenceWriter

	countsPath string
	countsFile *os.File
	counts     *csv.Writer

	coeffPath    string
	topologyPath string
}

// NewOutputs opens every writer under dir for an iteration with the given
// sender and receiver-connection counts.
func NewOutputs(dir string, numSenders, numConns int) (*Outputs, error) {
	o := &Outputs{
		latencyPath:  filepath.Join(dir, "latency"+wipInfix+".csv"),
		countsPath:   filepath.Join(dir, "data_msg_counts"+wipInfix+".csv"),
		coeffPath:    filepath.Join(dir, "ordering_coeff"+wipInfix+".csv"),
		topologyPath: filepath.Join(dir, "topology"+wipInfix+".csv"),
	}
	for s := 0; s < numSenders; s++ {
		o.sentPaths = append(o.sentPaths, filepath.Join(dir, fmt.Sprintf("sent_seq_%d%s.csv", s, wipInfix)))
	}
	for c := 0; c < numConns; c++ {
		o.recvPaths = append(o.recvPaths, filepath.Join(dir, fmt.Sprintf("recv_seq_%d%s.csv", c, wipInfix)))
	}

	var err error
	if o.latencyFile, err = createNew(o.latencyPath); err != nil {
		return nil, err
	}
	o.latency = csv.NewWriter(o.latencyFile)
	if err := o.latency.Write([]string{"msg", "latency", "sent_time", "recv_time"}); err != nil {
		return nil, err
	}

	for _, path := range o.sentPaths {
		w, err := NewSequenceWriter(path)
		if err != nil {
			return nil, err
		}
		o.sentWriters = append(o.sentWriters, w)
	}
	for _, path := range o.recvPaths {
		w, err := NewSequenceWriter(path)
		if err != nil {
			return nil, err
		}
		o.recvWriters = append(o.recvWriters, w)
	}

	if o.countsFile, err = createNew(o.countsPath); err != nil {
		return nil, err
	}
	o.counts = csv.NewWriter(o.countsFile)

	return o, nil
}

// AddLatency emits one latency row for a first-seen data message.
func (o *Outputs) AddLatency(msg models.DataMessage, sentTime, recvTime float32) error {
	return o.latency.Write([]string{
		msg.String(),
		fmtF32(recvTime - sentTime),
		fmtF32(sentTime),
		fmtF32(recvTime),
	})
}

// AddSentMsg records a data emission in its sender's sequence.
func (o *Outputs) AddSentMsg(msg models.DataMessage) error {
	return o.sentWriters[msg.Sender].AddMessage(msg)
}

// AddSentNoise records a noise slot in the given sender's sequence.
func (o *Outputs) AddSentNoise(senderIdx models.SenderIdx) {
	o.sentWriters[senderIdx].AddNoise()
}

// AddRecvMsg records a data arrival on the given receiver connection.
func (o *Outputs) AddRecvMsg(msg models.DataMessage, connIdx int) error {
	return o.recvWriters[connIdx].AddMessage(msg)
}

// AddRecvNoise records a noise arrival on the given receiver connection.
func (o *Outputs) AddRecvNoise(connIdx int) {
	o.recvWriters[connIdx].AddNoise()
}

// WriteQueueCountsHeader emits the data_msg_counts.csv header: one column
// per queue of every mix, in node-id and queue-list order.
func (o *Outputs) WriteQueueCountsHeader(nodes []*mixnode.Node) error {
	header := []string{"vtime"}
	for _, node := range nodes {
		for q := range node.QueueDataMsgCounts() {
			header = append(header, fmt.Sprintf("node%d_q%d", node.ID, q))
		}
	}
	if err := o.counts.Write(header); err != nil {
		return err
	}
	o.counts.Flush()
	return o.counts.Error()
}

// AddQueueDataMsgCounts samples the buffered data count of every queue.
func (o *Outputs) AddQueueDataMsgCounts(vtime float32, nodes []*mixnode.Node) error {
	record := []string{fmtF32(vtime)}
	for _, node := range nodes {
		for _, count := range node.QueueDataMsgCounts() {
			record = append(record, strconv.Itoa(count))
		}
	}
	return o.counts.Write(record)
}

// WriteTopology dumps the adjacency of mixes, senders, and the receiver.
// Sender and receiver rows use the synthetic ids "sender-<k>" and
// "receiver".
func (o *Outputs) WriteTopology(net *topology.Network) error {
	f, err := createNew(o.topologyPath)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write([]string{"node", "num_peers", "peers"}); err != nil {
		return err
	}
	for nodeID, peers := range net.Adjacency {
		if err := w.Write([]string{
			strconv.Itoa(nodeID),
			strconv.Itoa(len(peers)),
			peerList(peers),
		}); err != nil {
			return err
		}
	}
	for senderIdx, peers := range net.SenderPeers {
		if err := w.Write([]string{
			fmt.Sprintf("sender-%d", senderIdx),
			strconv.Itoa(len(peers)),
			peerList(peers),
		}); err != nil {
			return err
		}
	}
	receiverIDs := net.ReceiverPeers.IDs()
	if err := w.Write([]string{
		"receiver",
		strconv.Itoa(len(receiverIDs)),
		peerList(receiverIDs),
	}); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// WriteCoefficients computes the three ordering coefficients of every
// (sender, receiver connection) pair and writes one row per pair.
func (o *Outputs) WriteCoefficients() error {
	f, err := createNew(o.coeffPath)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write([]string{"sender", "receiver", "strong", "causal", "weak"}); err != nil {
		return err
	}
	for s, sent := range o.sentWriters {
		sentEntries := sent.Entries()
		for c, recv := range o.recvWriters {
			strong, causal := ordering.StrongAndCausalCoeff(sentEntries, recv.Entries())
			weak := ordering.WeakCoeff(sentEntries, recv.Entries())
			if err := w.Write([]string{
				strconv.Itoa(s),
				strconv.Itoa(c),
				strconv.FormatUint(strong, 10),
				strconv.FormatUint(causal, 10),
				strconv.FormatUint(weak, 10),
			}); err != nil {
				return err
			}
		}
	}
	w.Flush()
	return w.Error()
}

// Close flushes and closes every writer.
func (o *Outputs) Close() error {
	o.latency.Flush()
	if err := o.latency.Error(); err != nil {
		return err
	}
	if err := o.latencyFile.Close(); err != nil {
		return err
	}
	for _, s := range o.sentWriters {
		if err := s.Flush(); err != nil {
			return err
		}
	}
	for _, s := range o.recvWriters {
		if err := s.Flush(); err != nil {
			return err
		}
	}
	o.counts.Flush()
	if err := o.counts.Error(); err != nil {
		return err
	}
	if err := o.countsFile.Close(); err != nil {
		return err
	}
	o.closed = true
	return nil
}

// RenamePaths strips the __WIP__ infix from every artifact, committing the
// iteration's outputs. Close must have succeeded first.
func (o *Outputs) RenamePaths() error {
	if !o.closed {
		return fmt.Errorf("outputs: rename before close")
	}
	paths := []string{o.latencyPath, o.countsPath, o.coeffPath, o.topologyPath}
	paths = append(paths, o.sentPaths...)
	paths = append(paths, o.recvPaths...)
	for _, path := range paths {
		newPath := strings.ReplaceAll(path, wipInfix, "")
		if _, err := os.Stat(path); err != nil {
			// The coefficient and topology files are optional; skip
			// artifacts that were never created.
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		if err := os.Rename(path, newPath); err != nil {
			return err
		}
	}
	return nil
}

// SentEntries exposes the sender sequences for in-process analysis.
func (o *Outputs) SentEntries() [][]ordering.Entry {
	out := make([][]ordering.Entry, len(o.sentWriters))
	for i, w := range o.sentWriters {
		out[i] = w.Entries()
	}
	return out
}

// RecvEntries exposes the receiver-connection sequences.
func (o *Outputs) RecvEntries() [][]ordering.Entry {
	out := make([][]ordering.Entry, len(o.recvWriters))
	for i, w := range o.recvWriters {
		out[i] = w.Entries()
	}
	return out
}

// peerList renders peer ids as "[id,id,...]" for topology.csv.
func peerList(ids []mixnode.NodeID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// createNew opens a file for writing, refusing to overwrite: an existing
// output path is a resource error, not something to silently clobber.
func createNew(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("output file %s: %v", path, err)
	}
	return f, nil
}

// fmtF32 renders a float32 in its shortest exact decimal form, matching
// how vtime arithmetic is carried out.
func fmtF32(v float32) string {
	return strconv.FormatFloat(float64(v), 'g', -1, 32)
}

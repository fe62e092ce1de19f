// Package gaggle implements the manager/worker sharding protocol: a
// length-prefixed stream of gob-encoded frames carrying handshakes, the
// start signal and user-id partition, streamed metric batches, and the
// stop signal.
package gaggle

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	"stampede.dev/stampede/internal/metrics"
)

// FrameKind tags a frame's payload type.
type FrameKind uint8

const (
	FrameHello FrameKind = iota
	FrameFingerprintMismatch
	FrameStart
	FrameMetricsBatch
	FrameStop
	FrameBye
)

// frameVersion must match exactly between manager and worker unless the
// manager runs with NoHashCheck.
const frameVersion = "stampede-gaggle-v1"

// HelloPayload is sent by a worker immediately after connecting.
type HelloPayload struct {
	Version     string
	Fingerprint string
}

// StartPayload is broadcast by the manager once enough workers have
// registered. Each worker derives its own share of the dense user-id space
// [0, TotalUsers) by simple round-robin: user id i belongs to worker
// i % NumWorkers == WorkerIndex (spec §4.7: "simple round-robin by user
// id"). The worker uses its share only to count its users: it runs that many
// users, and its Attack Controller numbers them locally from 0, so user ids
// in different workers' records overlap.
type StartPayload struct {
	Host                string
	RunTimeNanos        int64
	HatchRate           float64
	ThrottleRequests    int
	TotalUsers          int
	NumWorkers          int
	WorkerIndex         int
	RandomSeed          int64
	NoResetMetrics      bool
	COMode              int
	MinCadenceNanos     int64
	RequestTimeoutNanos int64
}

// MetricsBatchPayload carries one worker's metrics.Snapshot, streamed
// roughly every second.
type MetricsBatchPayload struct {
	Endpoints      map[string]metrics.EndpointStats
	DroppedMetrics int64
}

// StopPayload and ByePayload carry no data; their meaning is entirely in
// the frame kind.
type StopPayload struct{}
type ByePayload struct{}

// frame is the wire envelope: Kind plus a gob-encoded, kind-specific
// payload. The payload is encoded independently so readers can decode the
// envelope before knowing the concrete payload type.
type frame struct {
	Kind    FrameKind
	Payload []byte
}

// WriteFrame gob-encodes payload, wraps it in a frame with kind, and writes
// it to w as a 4-byte big-endian length prefix followed by the gob-encoded
// frame.
func WriteFrame(w io.Writer, kind FrameKind, payload interface{}) error {
	var payloadBuf bytes.Buffer
	if err := gob.NewEncoder(&payloadBuf).Encode(payload); err != nil {
		return fmt.Errorf("gaggle: encode payload: %w", err)
	}
	var frameBuf bytes.Buffer
	if err := gob.NewEncoder(&frameBuf).Encode(frame{Kind: kind, Payload: payloadBuf.Bytes()}); err != nil {
		return fmt.Errorf("gaggle: encode frame: %w", err)
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(frameBuf.Len()))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("gaggle: write length prefix: %w", err)
	}
	_, err := w.Write(frameBuf.Bytes())
	return err
}

// ReadFrame reads one length-prefixed frame from r. Use DecodePayload to
// interpret its Payload once Kind is known.
func ReadFrame(r io.Reader) (FrameKind, []byte, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, nil, fmt.Errorf("gaggle: read frame body: %w", err)
	}
	var f frame
	if err := gob.NewDecoder(bytes.NewReader(buf)).Decode(&f); err != nil {
		return 0, nil, fmt.Errorf("gaggle: decode frame: %w", err)
	}
	return f.Kind, f.Payload, nil
}

// DecodePayload decodes a frame's raw payload bytes into v.
func DecodePayload(payload []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(payload)).Decode(v)
}

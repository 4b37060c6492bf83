package replay

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"chicken/broker/internal/trial"
)

var sessionIDCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

const (
	// EventsFile holds snappy-framed JSON lines, one per experiment event.
	EventsFile = "events.jsonl.sz"
	// TrajectoriesFile holds zstd-compressed binary trajectory frames.
	TrajectoriesFile = "trajectories.bin.zst"
	// ManifestFile describes the bundle layout.
	ManifestFile = "manifest.json"
	// HeaderFile summarises the session once the bundle closes.
	HeaderFile = "header.json"
)

// Agent identifies whose trajectory a frame holds.
type Agent uint8

const (
	AgentPlayer Agent = 1
	AgentRobot  Agent = 2
)

func (a Agent) String() string {
	switch a {
	case AgentPlayer:
		return "player"
	case AgentRobot:
		return "robot"
	default:
		return "unknown"
	}
}

// frameHeaderSize is ordinal(u32) + agent(u8) + sample count(u32).
const frameHeaderSize = 4 + 1 + 4

// sampleSize is four little-endian float64 values.
const sampleSize = 4 * 8

// Manifest describes the bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version          int    `json:"version"`
	SessionID        string `json:"session_id"`
	CreatedAt        string `json:"created_at"`
	SampleIntervalMs int    `json:"sample_interval_ms"`
	EventsPath       string `json:"events_path"`
	TrajectoriesPath string `json:"trajectories_path"`
}

// EventRecord is one line of the event log.
type EventRecord struct {
	Seq         uint64          `json:"seq"`
	SimulatedMs int64           `json:"simulated_ms"`
	CapturedAt  string          `json:"captured_at"`
	Type        string          `json:"type"`
	Trial       int             `json:"trial"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Writer streams a session's experiment artefacts to a bundle directory.
type Writer struct {
	mu          sync.Mutex
	dir         string
	sessionID   string
	now         func() time.Time
	seq         uint64
	eventFile   *os.File
	eventStream *snappy.Writer
	frameFile   *os.File
	frameStream *zstd.Encoder
	header      Header
	closed      bool
}

// NewWriter prepares the bundle directory and opens the compressed sinks.
func NewWriter(root, sessionID string, sampleInterval time.Duration, clock func() time.Time) (*Writer, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, fmt.Errorf("bundle root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}

	cleaned := sessionIDCleaner.ReplaceAllString(sessionID, "")
	if cleaned == "" {
		cleaned = "session"
	}
	created := clock().UTC()
	path := filepath.Join(root, fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z")))
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, Manifest{}, err
	}

	manifest := Manifest{
		Version:          2,
		SessionID:        sessionID,
		CreatedAt:        created.Format(time.RFC3339Nano),
		SampleIntervalMs: int(sampleInterval / time.Millisecond),
		EventsPath:       EventsFile,
		TrajectoriesPath: TrajectoriesFile,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, Manifest{}, err
	}
	if err := os.WriteFile(filepath.Join(path, ManifestFile), data, 0o644); err != nil {
		return nil, Manifest{}, err
	}

	//1.- Open both sinks, unwinding whatever was opened when a later step fails.
	eventFile, err := os.Create(filepath.Join(path, EventsFile))
	if err != nil {
		return nil, Manifest{}, err
	}
	frameFile, err := os.Create(filepath.Join(path, TrajectoriesFile))
	if err != nil {
		eventFile.Close()
		return nil, Manifest{}, err
	}
	frameStream, err := zstd.NewWriter(frameFile)
	if err != nil {
		frameFile.Close()
		eventFile.Close()
		return nil, Manifest{}, err
	}

	writer := &Writer{
		dir:         path,
		sessionID:   sessionID,
		now:         clock,
		eventFile:   eventFile,
		eventStream: snappy.NewBufferedWriter(eventFile),
		frameFile:   frameFile,
		frameStream: frameStream,
		header: Header{
			SchemaVersion: HeaderSchemaVersion,
			SessionID:     sessionID,
			FilePointer:   ManifestFile,
		},
	}
	return writer, manifest, nil
}

// Directory exposes the directory backing the bundle.
func (w *Writer) Directory() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// AppendEvent writes one JSON event line to the compressed event log.
func (w *Writer) AppendEvent(simulated time.Duration, eventType string, trialOrdinal int, payload any) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", eventType, err)
		}
		raw = encoded
	}
	captured := w.now().UTC()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("bundle writer closed")
	}
	w.seq++
	line, err := json.Marshal(EventRecord{
		Seq:         w.seq,
		SimulatedMs: simulated.Milliseconds(),
		CapturedAt:  captured.Format(time.RFC3339Nano),
		Type:        eventType,
		Trial:       trialOrdinal,
		Payload:     raw,
	})
	if err != nil {
		return err
	}
	if _, err := w.eventStream.Write(append(line, '\n')); err != nil {
		return err
	}
	return w.eventStream.Flush()
}

// AppendTrajectory writes one agent's samples for a finished trial as a binary frame.
func (w *Writer) AppendTrajectory(trialOrdinal int, agent Agent, samples []trial.Sample) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	frame := make([]byte, frameHeaderSize+len(samples)*sampleSize)
	binary.LittleEndian.PutUint32(frame[0:4], uint32(trialOrdinal))
	frame[4] = byte(agent)
	binary.LittleEndian.PutUint32(frame[5:9], uint32(len(samples)))
	offset := frameHeaderSize
	for _, sample := range samples {
		for _, value := range [4]float64{sample.X, sample.Z, sample.VX, sample.VZ} {
			binary.LittleEndian.PutUint64(frame[offset:offset+8], math.Float64bits(value))
			offset += 8
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("bundle writer closed")
	}
	_, err := w.frameStream.Write(frame)
	return err
}

// SetSummary records the values persisted in the header when the bundle closes.
func (w *Writer) SetSummary(seed int64, protocol ProtocolParameters, trials, totalPoints int, completionCode string) {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.header.Seed = seed
	w.header.Protocol = protocol.Clone()
	w.header.Trials = trials
	w.header.TotalPoints = totalPoints
	w.header.CompletionCode = completionCode
}

// Close writes the header, flushes every stream and releases file handles. Closing twice
// is a no-op.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	//1.- Attempt every step and surface the first failure.
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	keep(WriteHeader(filepath.Join(w.dir, HeaderFile), w.header))
	keep(w.eventStream.Close())
	keep(w.eventFile.Close())
	keep(w.frameStream.Close())
	keep(w.frameFile.Close())
	return firstErr
}

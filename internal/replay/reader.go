package replay

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"chicken/broker/internal/trial"
)

// TrajectoryFrame is one decoded agent trajectory.
type TrajectoryFrame struct {
	Trial   int
	Agent   Agent
	Samples []trial.Sample
}

// Bundle is a fully decoded session bundle.
type Bundle struct {
	Dir          string
	Manifest     Manifest
	Header       *Header
	Events       []EventRecord
	Trajectories []TrajectoryFrame
}

// ReadBundle decodes every artefact in a bundle directory. A missing header is tolerated
// because sessions that are still running have not written one yet.
func ReadBundle(dir string) (*Bundle, error) {
	if dir == "" {
		return nil, fmt.Errorf("bundle directory must be provided")
	}
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	bundle := &Bundle{Dir: dir}
	if err := json.Unmarshal(data, &bundle.Manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	header, err := ReadHeader(filepath.Join(dir, HeaderFile))
	switch {
	case err == nil:
		bundle.Header = &header
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read header: %w", err)
	}

	if bundle.Events, err = readEvents(filepath.Join(dir, bundle.Manifest.EventsPath)); err != nil {
		return nil, err
	}
	if bundle.Trajectories, err = readTrajectories(filepath.Join(dir, bundle.Manifest.TrajectoriesPath)); err != nil {
		return nil, err
	}
	return bundle, nil
}

func readEvents(path string) ([]EventRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var events []EventRecord
	scanner := bufio.NewScanner(snappy.NewReader(file))
	scanner.Buffer(make([]byte, 0, 64<<10), 16<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var record EventRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return nil, fmt.Errorf("decode event %d: %w", len(events)+1, err)
		}
		events = append(events, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	return events, nil
}

func readTrajectories(path string) ([]TrajectoryFrame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()

	var frames []TrajectoryFrame
	header := make([]byte, frameHeaderSize)
	for {
		if _, err := io.ReadFull(decoder, header); err != nil {
			if errors.Is(err, io.EOF) {
				return frames, nil
			}
			return nil, fmt.Errorf("read frame header: %w", err)
		}
		frame := TrajectoryFrame{
			Trial: int(binary.LittleEndian.Uint32(header[0:4])),
			Agent: Agent(header[4]),
		}
		count := int(binary.LittleEndian.Uint32(header[5:9]))
		body := make([]byte, count*sampleSize)
		if _, err := io.ReadFull(decoder, body); err != nil {
			return nil, fmt.Errorf("read frame body: %w", err)
		}
		frame.Samples = make([]trial.Sample, count)
		for i := range frame.Samples {
			base := i * sampleSize
			value := func(slot int) float64 {
				start := base + slot*8
				return math.Float64frombits(binary.LittleEndian.Uint64(body[start : start+8]))
			}
			frame.Samples[i] = trial.Sample{X: value(0), Z: value(1), VX: value(2), VZ: value(3)}
		}
		frames = append(frames, frame)
	}
}

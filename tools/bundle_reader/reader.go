package bundlereader

import (
	"fmt"
	"math"
	"sort"
	"time"

	"chicken/broker/internal/replay"
	"chicken/broker/internal/trial"
)

// TrialPath summarises one agent's sampled trajectory in a trial.
type TrialPath struct {
	Trial    int           `json:"trial"`
	Agent    string        `json:"agent"`
	Samples  int           `json:"samples"`
	Duration time.Duration `json:"duration_ns"`
	Distance float64       `json:"distance"`
	Start    [2]float64    `json:"start"`
	End      [2]float64    `json:"end"`
}

// Summary is the operator view of a session bundle.
type Summary struct {
	SessionID      string                    `json:"session_id"`
	CreatedAt      string                    `json:"created_at"`
	Sealed         bool                      `json:"sealed"`
	Seed           int64                     `json:"seed,omitempty"`
	TotalPoints    int                       `json:"total_points"`
	CompletionCode string                    `json:"completion_code,omitempty"`
	EventCounts    map[string]int            `json:"event_counts"`
	Paths          []TrialPath               `json:"paths"`
	Protocol       replay.ProtocolParameters `json:"protocol,omitempty"`
}

// Load decodes the bundle in dir and summarises it.
func Load(dir string) (*replay.Bundle, Summary, error) {
	bundle, err := replay.ReadBundle(dir)
	if err != nil {
		return nil, Summary{}, fmt.Errorf("read bundle %s: %w", dir, err)
	}
	return bundle, Summarise(bundle), nil
}

// Summarise counts events per type and measures every recorded trajectory.
func Summarise(bundle *replay.Bundle) Summary {
	summary := Summary{EventCounts: make(map[string]int)}
	if bundle == nil {
		return summary
	}
	summary.SessionID = bundle.Manifest.SessionID
	summary.CreatedAt = bundle.Manifest.CreatedAt
	if bundle.Header != nil {
		summary.Sealed = true
		summary.Seed = bundle.Header.Seed
		summary.TotalPoints = bundle.Header.TotalPoints
		summary.CompletionCode = bundle.Header.CompletionCode
		summary.Protocol = bundle.Header.Protocol.Clone()
	}
	for _, event := range bundle.Events {
		summary.EventCounts[event.Type]++
	}
	interval := time.Duration(bundle.Manifest.SampleIntervalMs) * time.Millisecond
	for _, frame := range bundle.Trajectories {
		summary.Paths = append(summary.Paths, measure(frame, interval))
	}
	//1.- Order by trial, player before robot, regardless of write order.
	sort.SliceStable(summary.Paths, func(i, j int) bool {
		if summary.Paths[i].Trial == summary.Paths[j].Trial {
			return summary.Paths[i].Agent < summary.Paths[j].Agent
		}
		return summary.Paths[i].Trial < summary.Paths[j].Trial
	})
	return summary
}

func measure(frame replay.TrajectoryFrame, interval time.Duration) TrialPath {
	path := TrialPath{Trial: frame.Trial, Agent: frame.Agent.String(), Samples: len(frame.Samples)}
	if len(frame.Samples) == 0 {
		return path
	}
	first, last := frame.Samples[0], frame.Samples[len(frame.Samples)-1]
	path.Start = [2]float64{first.X, first.Z}
	path.End = [2]float64{last.X, last.Z}
	path.Duration = time.Duration(len(frame.Samples)-1) * interval
	for i := 1; i < len(frame.Samples); i++ {
		path.Distance += planar(frame.Samples[i-1], frame.Samples[i])
	}
	return path
}

func planar(a, b trial.Sample) float64 {
	return math.Hypot(b.X-a.X, b.Z-a.Z)
}

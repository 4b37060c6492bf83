package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Protocol captures the experiment tunables that shape every trial. It is read from YAML
// so study designers can adjust timings without rebuilding the server.
type Protocol struct {
	AgentSpeed                float64          `yaml:"agent_speed"`
	SwerveSideSpeedRatio      float64          `yaml:"swerve_side_speed_ratio"`
	RotationSpeed             float64          `yaml:"rotation_speed"`
	SwerveMargin              float64          `yaml:"swerve_margin"`
	PlayerRadius              float64          `yaml:"player_radius"`
	RobotRadius               float64          `yaml:"robot_radius"`
	PlayerMinSpeed            float64          `yaml:"player_min_speed"`
	PlayerMaxSpeedCoefficient float64          `yaml:"player_max_speed_coefficient"`
	PlayerAcceleration        float64          `yaml:"player_acceleration"`
	TrackLength               float64          `yaml:"track_length"`
	GoalDistance              float64          `yaml:"goal_distance"`
	SwerveDistanceStdDev      float64          `yaml:"swerve_distance_stddev"`
	DebugNeverSwerve          bool             `yaml:"debug_never_swerve"`
	CollisionDelay            time.Duration    `yaml:"collision_delay"`
	GameOverDelay             time.Duration    `yaml:"game_over_delay"`
	LoadingMean               time.Duration    `yaml:"loading_mean"`
	LoadingRange              time.Duration    `yaml:"loading_range"`
	ScoreDisplay              time.Duration    `yaml:"score_display"`
	SampleInterval            time.Duration    `yaml:"sample_interval"`
	FixedStep                 time.Duration    `yaml:"fixed_step"`
	CompletionCodeLength      int              `yaml:"completion_code_length"`
	GameVersion               string           `yaml:"game_version"`
	Payoffs                   map[string][]int `yaml:"payoffs"`
}

// DefaultProtocol returns the protocol used by the original study.
func DefaultProtocol() Protocol {
	return Protocol{
		AgentSpeed:                1.3,
		SwerveSideSpeedRatio:      0.5,
		RotationSpeed:             6.0,
		SwerveMargin:              0.6,
		PlayerRadius:              0.3,
		RobotRadius:               0.3,
		PlayerMinSpeed:            0.1,
		PlayerMaxSpeedCoefficient: 2.0,
		PlayerAcceleration:        25.0,
		TrackLength:               20.0,
		GoalDistance:              20.0,
		CollisionDelay:            500 * time.Millisecond,
		GameOverDelay:             time.Second,
		LoadingMean:               3 * time.Second,
		LoadingRange:              time.Second,
		ScoreDisplay:              3 * time.Second,
		SampleInterval:            100 * time.Millisecond,
		FixedStep:                 20 * time.Millisecond,
		CompletionCodeLength:      10,
		GameVersion:               "1.0.0",
		Payoffs: map[string][]int{
			"NONE":   {-4, 3, 0, 2},
			"SPEED":  {-4, 4, 0, 2},
			"SAFETY": {-4, 3, 1, 2},
		},
	}
}

// LoadProtocol reads a YAML protocol file, layering it over the default protocol.
func LoadProtocol(path string) (Protocol, error) {
	if strings.TrimSpace(path) == "" {
		return Protocol{}, errors.New("protocol path must be provided")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Protocol{}, err
	}
	return ParseProtocol(data)
}

// ParseProtocol decodes YAML bytes over the default protocol and validates the result.
func ParseProtocol(data []byte) (Protocol, error) {
	protocol := DefaultProtocol()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	//1.- Unknown keys are rejected so typos do not silently fall back to defaults.
	if err := decoder.Decode(&protocol); err != nil && !errors.Is(err, io.EOF) {
		return Protocol{}, fmt.Errorf("decode protocol: %w", err)
	}
	if err := protocol.Validate(); err != nil {
		return Protocol{}, err
	}
	return protocol, nil
}

// Validate reports every invalid protocol field in a single error.
func (p Protocol) Validate() error {
	var problems []string
	positive := []struct {
		name  string
		value float64
	}{
		{"agent_speed", p.AgentSpeed},
		{"rotation_speed", p.RotationSpeed},
		{"player_radius", p.PlayerRadius},
		{"robot_radius", p.RobotRadius},
		{"player_min_speed", p.PlayerMinSpeed},
		{"player_max_speed_coefficient", p.PlayerMaxSpeedCoefficient},
		{"player_acceleration", p.PlayerAcceleration},
		{"track_length", p.TrackLength},
		{"goal_distance", p.GoalDistance},
	}
	for _, field := range positive {
		if !(field.value > 0) {
			problems = append(problems, fmt.Sprintf("%s must be positive, got %v", field.name, field.value))
		}
	}
	if p.SwerveSideSpeedRatio < 0 || p.SwerveSideSpeedRatio > 1 {
		problems = append(problems, fmt.Sprintf("swerve_side_speed_ratio must be within [0,1], got %v", p.SwerveSideSpeedRatio))
	}
	if p.SwerveMargin < 0 {
		problems = append(problems, fmt.Sprintf("swerve_margin must be non-negative, got %v", p.SwerveMargin))
	}
	if p.SwerveDistanceStdDev < 0 {
		problems = append(problems, fmt.Sprintf("swerve_distance_stddev must be non-negative, got %v", p.SwerveDistanceStdDev))
	}
	if p.AgentSpeed*p.PlayerMaxSpeedCoefficient < p.PlayerMinSpeed {
		problems = append(problems, "player max speed must not be below player_min_speed")
	}
	if p.SampleInterval <= 0 {
		problems = append(problems, "sample_interval must be positive")
	}
	if p.FixedStep <= 0 {
		problems = append(problems, "fixed_step must be positive")
	}
	if p.LoadingMean < 0 || p.LoadingRange < 0 || p.LoadingRange > p.LoadingMean {
		problems = append(problems, "loading_mean and loading_range must be non-negative with range <= mean")
	}
	if p.CollisionDelay < 0 || p.GameOverDelay < 0 || p.ScoreDisplay < 0 {
		problems = append(problems, "collision_delay, game_over_delay and score_display must be non-negative")
	}
	if p.CompletionCodeLength <= 0 {
		problems = append(problems, "completion_code_length must be positive")
	}
	for _, key := range []string{"NONE", "SPEED", "SAFETY"} {
		vector, ok := p.Payoffs[key]
		if !ok {
			problems = append(problems, fmt.Sprintf("payoffs missing motivation %s", key))
			continue
		}
		if len(vector) != 4 {
			problems = append(problems, fmt.Sprintf("payoffs[%s] must have 4 slots, got %d", key, len(vector)))
		}
	}
	extra := make([]string, 0)
	for key := range p.Payoffs {
		switch key {
		case "NONE", "SPEED", "SAFETY":
		default:
			extra = append(extra, key)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		problems = append(problems, fmt.Sprintf("payoffs has unknown motivations %s", strings.Join(extra, ",")))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid protocol: %s", strings.Join(problems, "; "))
	}
	return nil
}

// MaxPlayerSpeed derives the player's speed ceiling from the shared agent speed.
func (p Protocol) MaxPlayerSpeed() float64 {
	return p.AgentSpeed * p.PlayerMaxSpeedCoefficient
}

package export

import (
	"fmt"
	"math/rand"

	jsoniter "github.com/json-iterator/go"

	"chicken/broker/internal/trial"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// CompletionAlphabet is the character set completion codes are drawn from.
const CompletionAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Participant is the questionnaire filled in after the last trial.
type Participant struct {
	SeenRobotsBefore             bool   `json:"seenRobotsBefore"`
	Age                          int    `json:"age"`
	Country                      string `json:"country"`
	FamiliarityChicken           string `json:"familiarityChicken"`
	Gender                       string `json:"gender"`
	LevelOfEducation             string `json:"levelOfEducation"`
	PlausibilityRobotMotivations string `json:"plausibilityRobotMotivations"`
	RobotExperience              string `json:"robotExperience"`
}

// Validate rejects questionnaires that cannot belong to a participant.
func (p Participant) Validate() error {
	if p.Age < 0 || p.Age > 150 {
		return fmt.Errorf("participant age %d out of range", p.Age)
	}
	return nil
}

// Appearance is the avatar the participant picked before the first trial.
type Appearance struct {
	SkinColor trial.SkinColor `json:"skinColor"`
	Gender    trial.Gender    `json:"gender"`
}

// DefaultAppearance is used when the participant never picked an avatar.
func DefaultAppearance() Appearance {
	return Appearance{SkinColor: trial.SkinBlack, Gender: trial.GenderFemalePresenting}
}

// Browser describes the participant's display as reported by the client.
type Browser struct {
	UsedBrowser      string `json:"usedBrowser"`
	DeviceWidth      string `json:"deviceWidth"`
	DeviceHeight     string `json:"deviceHeight"`
	DevicePixelRatio string `json:"devicePixelRatio"`
	ColorDepth       string `json:"colorDepth"`
	PixelDepth       string `json:"pixelDepth"`
}

// Comments are the free-text answers at the end of the experiment.
type Comments struct {
	General   string `json:"general"`
	Technical string `json:"technical"`
}

// ExperimentData is the document submitted for every finished experiment.
type ExperimentData struct {
	SessionID      string         `json:"sessionId"`
	FromMturk      bool           `json:"fromMturk"`
	TotalPoints    int            `json:"totalPoints"`
	CompletionCode string         `json:"completionCode"`
	VersionGame    string         `json:"versionGame"`
	Browser        *Browser       `json:"browser"`
	Participant    *Participant   `json:"participant"`
	Appearance     Appearance     `json:"appearance"`
	Comments       *Comments      `json:"comments"`
	Trials         []trial.Record `json:"trials"`
}

// Encode renders the document as JSON with enum names.
func Encode(doc ExperimentData) ([]byte, error) {
	data, err := codec.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode experiment data: %w", err)
	}
	return data, nil
}

// Decode parses a submitted document.
func Decode(data []byte) (ExperimentData, error) {
	var doc ExperimentData
	if err := codec.Unmarshal(data, &doc); err != nil {
		return ExperimentData{}, fmt.Errorf("decode experiment data: %w", err)
	}
	return doc, nil
}

// GenerateCompletionCode draws length characters from CompletionAlphabet.
func GenerateCompletionCode(rng *rand.Rand, length int) string {
	if length <= 0 {
		return ""
	}
	code := make([]byte, length)
	for i := range code {
		code[i] = CompletionAlphabet[rng.Intn(len(CompletionAlphabet))]
	}
	return string(code)
}

// Records flattens the recorded trials. Trials that never finished are left out.
func Records(trials []*trial.Trial) []trial.Record {
	records := make([]trial.Record, 0, len(trials))
	for _, t := range trials {
		if t == nil || !t.Recorded() {
			continue
		}
		records = append(records, t.Record())
	}
	return records
}

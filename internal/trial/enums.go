package trial

import "fmt"

// Motivation frames how a participant or robot is rewarded in a trial.
type Motivation string

const (
	MotivationNone   Motivation = "NONE"
	MotivationSpeed  Motivation = "SPEED"
	MotivationSafety Motivation = "SAFETY"
)

// Motivations lists every motivation in table order.
var Motivations = []Motivation{MotivationNone, MotivationSpeed, MotivationSafety}

// Kind distinguishes the unscored warm-up trial from regular trials.
type Kind string

const (
	KindTest    Kind = "TEST"
	KindRegular Kind = "REGULAR"
)

// Environment names the scenery a trial is played in.
type Environment string

const (
	EnvironmentTest   Environment = "TEST"
	EnvironmentBasic  Environment = "BASIC"
	EnvironmentOpen   Environment = "OPEN"
	EnvironmentNarrow Environment = "NARROW"
)

// RobotKind names the robot model approaching the participant.
type RobotKind string

const (
	RobotTest   RobotKind = "TEST"
	RobotPepper RobotKind = "PEPPER"
)

// RobotColor is the body color used to cue the robot's motivation.
type RobotColor string

const (
	ColorBlue   RobotColor = "BLUE"
	ColorRed    RobotColor = "RED"
	ColorPurple RobotColor = "PURPLE"
	ColorYellow RobotColor = "YELLOW"
	ColorPink   RobotColor = "PINK"
	ColorGreen  RobotColor = "GREEN"
	ColorBrown  RobotColor = "BROWN"
	ColorOrange RobotColor = "ORANGE"
	ColorBlack  RobotColor = "BLACK"
	ColorWhite  RobotColor = "WHITE"
)

// Gender is the presented gender of the participant's avatar.
type Gender string

const (
	GenderFemalePresenting Gender = "FEMALE_PRESENTING"
	GenderMalePresenting   Gender = "MALE_PRESENTING"
)

// SkinColor is the skin tone of the participant's avatar.
type SkinColor string

const (
	SkinBlack       SkinColor = "BLACK"
	SkinBrown       SkinColor = "BROWN"
	SkinLightYellow SkinColor = "LIGHT_YELLOW"
	SkinPink        SkinColor = "PINK"
)

// ParseMotivation validates a motivation name received over the wire.
func ParseMotivation(raw string) (Motivation, error) {
	for _, m := range Motivations {
		if string(m) == raw {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown motivation %q", raw)
}

// ParseGender validates an avatar gender name.
func ParseGender(raw string) (Gender, error) {
	switch Gender(raw) {
	case GenderFemalePresenting, GenderMalePresenting:
		return Gender(raw), nil
	}
	return "", fmt.Errorf("unknown gender %q", raw)
}

// ParseSkinColor validates an avatar skin color name.
func ParseSkinColor(raw string) (SkinColor, error) {
	switch SkinColor(raw) {
	case SkinBlack, SkinBrown, SkinLightYellow, SkinPink:
		return SkinColor(raw), nil
	}
	return "", fmt.Errorf("unknown skin color %q", raw)
}

// ColorFor maps a robot motivation to the body color that cues it.
func ColorFor(m Motivation) RobotColor {
	switch m {
	case MotivationSpeed:
		return ColorRed
	case MotivationSafety:
		return ColorPurple
	default:
		return ColorWhite
	}
}

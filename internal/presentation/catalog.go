package presentation

import "chicken/broker/internal/trial"

// Catalog lists the asset combinations the client ships with.
type Catalog struct {
	environments map[trial.Environment]bool
	genders      map[trial.Gender]bool
	skins        map[trial.SkinColor]bool
	robots       map[trial.RobotKind]map[trial.RobotColor]bool
}

// DefaultCatalog mirrors the shipped client: every environment and player avatar, and the
// Pepper robot in red, purple and white only.
func DefaultCatalog() Catalog {
	return Catalog{
		environments: map[trial.Environment]bool{
			trial.EnvironmentTest:   true,
			trial.EnvironmentBasic:  true,
			trial.EnvironmentOpen:   true,
			trial.EnvironmentNarrow: true,
		},
		genders: map[trial.Gender]bool{
			trial.GenderFemalePresenting: true,
			trial.GenderMalePresenting:   true,
		},
		skins: map[trial.SkinColor]bool{
			trial.SkinBlack:       true,
			trial.SkinBrown:       true,
			trial.SkinLightYellow: true,
			trial.SkinPink:        true,
		},
		robots: map[trial.RobotKind]map[trial.RobotColor]bool{
			trial.RobotPepper: {
				trial.ColorRed:    true,
				trial.ColorPurple: true,
				trial.ColorWhite:  true,
			},
		},
	}
}

func (c Catalog) HasEnvironment(env trial.Environment) bool { return c.environments[env] }

func (c Catalog) HasPlayerAvatar(gender trial.Gender, skin trial.SkinColor) bool {
	return c.genders[gender] && c.skins[skin]
}

func (c Catalog) HasRobotAvatar(kind trial.RobotKind, color trial.RobotColor) bool {
	return c.robots[kind][color]
}

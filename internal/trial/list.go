package trial

import "math/rand"

const (
	// BlockCount is the number of player-motivation blocks.
	BlockCount = 3
	// BlockSize is the number of regular trials per block.
	BlockSize = 6
)

// robotMotivationBlock is the multiset of robot motivations shuffled into every block.
var robotMotivationBlock = []Motivation{
	MotivationNone, MotivationNone,
	MotivationSpeed, MotivationSpeed,
	MotivationSafety, MotivationSafety,
}

// BuildList assembles the experiment: a warm-up trial followed by one shuffled block of
// regular trials per player motivation, blocks in shuffled order.
func BuildList(rng *rand.Rand) []*Trial {
	players := append([]Motivation(nil), Motivations...)
	rng.Shuffle(len(players), func(i, j int) { players[i], players[j] = players[j], players[i] })

	trials := make([]*Trial, 0, 1+BlockCount*BlockSize)
	trials = append(trials, NewTest())
	for _, player := range players {
		robots := append([]Motivation(nil), robotMotivationBlock...)
		rng.Shuffle(len(robots), func(i, j int) { robots[i], robots[j] = robots[j], robots[i] })
		for _, robot := range robots {
			trials = append(trials, NewRegular(EnvironmentOpen, RobotPepper, robot, player))
		}
	}
	return trials
}

// InstructionCutoffs returns the trial indices that are preceded by an instruction page,
// which is the first trial of every block. The warm-up trial occupies index zero.
func InstructionCutoffs(blockCount, blockSize int) map[int]bool {
	cutoffs := make(map[int]bool, blockCount)
	for block := 0; block < blockCount; block++ {
		cutoffs[1+block*blockSize] = true
	}
	return cutoffs
}

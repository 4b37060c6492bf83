package scoring

import (
	"fmt"

	"chicken/broker/internal/trial"
)

// Payoff slots, checked in this priority order.
const (
	SlotCollision = iota
	SlotPlayerStraight
	SlotRobotStraight
	SlotBothSwerved
)

// BonusRate converts points into the participant's monetary bonus.
const BonusRate = 0.1

// Vector holds the points awarded for each outcome slot.
type Vector [4]int

// Table maps a player motivation to its payoff vector.
type Table map[trial.Motivation]Vector

// DefaultTable is the payoff matrix shown to participants.
func DefaultTable() Table {
	return Table{
		trial.MotivationNone:   {-4, 3, 0, 2},
		trial.MotivationSpeed:  {-4, 4, 0, 2},
		trial.MotivationSafety: {-4, 3, 1, 2},
	}
}

// TableFromConfig converts the protocol's name-keyed payoffs into a Table.
func TableFromConfig(raw map[string][]int) (Table, error) {
	table := make(Table, len(raw))
	for name, values := range raw {
		m, err := trial.ParseMotivation(name)
		if err != nil {
			return nil, err
		}
		if len(values) != len(Vector{}) {
			return nil, fmt.Errorf("payoff vector for %s has %d slots", name, len(values))
		}
		var v Vector
		copy(v[:], values)
		table[m] = v
	}
	for _, m := range trial.Motivations {
		if _, ok := table[m]; !ok {
			return nil, fmt.Errorf("payoff table missing %s", m)
		}
	}
	return table, nil
}

// Slot picks the payoff slot for an outcome. Collision dominates, then the player
// holding course, then the robot holding course.
func Slot(collision, playerSwerved, robotSwerved bool) int {
	switch {
	case collision:
		return SlotCollision
	case !playerSwerved:
		return SlotPlayerStraight
	case !robotSwerved:
		return SlotRobotStraight
	default:
		return SlotBothSwerved
	}
}

// ComputeDelta returns the points earned for an outcome under the given motivation.
func (t Table) ComputeDelta(m trial.Motivation, collision, playerSwerved, robotSwerved bool) int {
	vector, ok := t[m]
	if !ok {
		panic(fmt.Sprintf("scoring: no payoff vector for motivation %q", m))
	}
	return vector[Slot(collision, playerSwerved, robotSwerved)]
}

// Score is the participant's running total.
type Score struct {
	total    int
	previous int
}

// Add applies a trial's points, remembering the prior total for display.
func (s *Score) Add(points int) {
	s.previous = s.total
	s.total += points
}

// Total returns the running total.
func (s *Score) Total() int { return s.total }

// Previous returns the total before the last Add.
func (s *Score) Previous() int { return s.previous }

// Delta is the change introduced by the last Add.
func (s *Score) Delta() int { return s.total - s.previous }

// Bonus converts the total into the payout; negative totals earn nothing.
func (s *Score) Bonus() float64 {
	return BonusFor(s.total)
}

// BonusFor converts an arbitrary total into the payout.
func BonusFor(total int) float64 {
	if total < 0 {
		return 0
	}
	return float64(total) * BonusRate
}

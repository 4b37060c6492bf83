package match

import (
	"errors"
	"fmt"
	"sort"

	"chicken/broker/internal/physics"
)

// Role names an occupant of the trial scene.
type Role string

const (
	RolePlayer Role = "player"
	RoleRobot  Role = "robot"
	RoleGoal   Role = "goal"
)

var (
	// ErrRoleTaken is returned when a role is registered twice in one scene.
	ErrRoleTaken = errors.New("scene role already registered")
	// ErrInvalidRole is returned for empty roles or nil occupants.
	ErrInvalidRole = errors.New("invalid scene role")
)

// Occupant is anything placed in the scene with a position in the track frame.
type Occupant interface {
	Position() physics.Vec3
}

// Registry binds scene roles to their occupants so collaborators receive explicit
// references instead of searching for each other.
type Registry struct {
	occupants map[Role]Occupant
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{occupants: make(map[Role]Occupant)}
}

// Register binds an occupant to a role that must still be free.
func (r *Registry) Register(role Role, occupant Occupant) error {
	if role == "" || occupant == nil {
		return ErrInvalidRole
	}
	if _, exists := r.occupants[role]; exists {
		return fmt.Errorf("%w: %s", ErrRoleTaken, role)
	}
	r.occupants[role] = occupant
	return nil
}

// Lookup returns the occupant bound to role.
func (r *Registry) Lookup(role Role) (Occupant, bool) {
	if r == nil {
		return nil, false
	}
	occupant, ok := r.occupants[role]
	return occupant, ok
}

// Positions reports every occupant's position keyed by role.
func (r *Registry) Positions() map[Role]physics.Vec3 {
	if r == nil || len(r.occupants) == 0 {
		return nil
	}
	out := make(map[Role]physics.Vec3, len(r.occupants))
	for role, occupant := range r.occupants {
		out[role] = occupant.Position()
	}
	return out
}

// Roles lists the registered roles in a stable order.
func (r *Registry) Roles() []Role {
	if r == nil {
		return nil
	}
	roles := make([]Role, 0, len(r.occupants))
	for role := range r.occupants {
		roles = append(roles, role)
	}
	//1.- Sort so snapshots and tests see deterministic payloads.
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

// Goal is the finish line the participant walks toward.
type Goal struct {
	Line float64
}

// Position places the goal on the track axis.
func (g Goal) Position() physics.Vec3 { return physics.Vec3{Z: g.Line} }

// Reached reports whether a position has crossed the finish line.
func (g Goal) Reached(position physics.Vec3) bool { return position.Z >= g.Line }

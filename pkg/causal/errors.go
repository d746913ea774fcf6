package causal

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors
var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrInvalidID        = errors.New("invalid id")
	ErrInvalidData      = errors.New("invalid data")
	ErrInvalidRange     = errors.New("value outside [0,1]")
	ErrMissingReference = errors.New("referenced node not found")
	ErrInvalidSnapshot  = errors.New("invalid snapshot")

	// ErrCycle is the sentinel matched by errors.Is for *CycleError.
	ErrCycle = errors.New("causal cycle")
)

// CycleError reports that committing a link would make a node reachable
// from itself. Path holds the node ids demonstrating the cycle, starting
// at one of the rejected link's effects and ending at one of its causes.
//
// Example:
//
//	_, err := g.CreateLink(link)
//	var cyc *causal.CycleError
//	if errors.As(err, &cyc) {
//		fmt.Printf("cycle via %v\n", cyc.Path)
//	}
type CycleError struct {
	Path []NodeID
}

func (e *CycleError) Error() string {
	ids := make([]string, len(e.Path))
	for i, id := range e.Path {
		ids[i] = string(id)
	}
	return fmt.Sprintf("causal cycle: %s", strings.Join(ids, " -> "))
}

// Is lets errors.Is(err, ErrCycle) match without losing the path.
func (e *CycleError) Is(target error) bool {
	return target == ErrCycle
}

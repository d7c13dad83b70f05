package replay

import (
	"fmt"
	"strconv"
	"strings"
)

// BreakpointType defines the type of breakpoint
type BreakpointType int

const (
	// MethodBreakpoint breaks before a qualified method ("Type.method")
	MethodBreakpoint BreakpointType = iota
	// StepBreakpoint breaks before the step with a given index
	StepBreakpoint
	// TypeBreakpoint breaks before any method of a type
	TypeBreakpoint
)

func (t BreakpointType) String() string {
	switch t {
	case MethodBreakpoint:
		return "method"
	case StepBreakpoint:
		return "step"
	case TypeBreakpoint:
		return "type"
	default:
		return "unknown"
	}
}

// Breakpoint represents a step to stop before during replay
type Breakpoint struct {
	ID      int
	Type    BreakpointType
	Method  string // For MethodBreakpoint
	Step    int    // For StepBreakpoint
	TypeOf  string // For TypeBreakpoint
	Enabled bool
	Hits    int
}

// Location renders the breakpoint in the form accepted by AddBreakpoint
func (bp *Breakpoint) Location() string {
	switch bp.Type {
	case StepBreakpoint:
		return "step:" + strconv.Itoa(bp.Step)
	case TypeBreakpoint:
		return "type:" + bp.TypeOf
	default:
		return "method:" + bp.Method
	}
}

// BreakpointManager manages breakpoints for a replayer
type BreakpointManager struct {
	breakpoints []*Breakpoint
	nextID      int
}

// NewBreakpointManager creates a new breakpoint manager
func NewBreakpointManager() *BreakpointManager {
	return &BreakpointManager{
		breakpoints: make([]*Breakpoint, 0),
		nextID:      1,
	}
}

// AddBreakpoint adds a breakpoint at the specified location: "method:Type.m",
// "step:N", "type:T", or a bare qualified method name.
func (bm *BreakpointManager) AddBreakpoint(location string) (*Breakpoint, error) {
	bp := &Breakpoint{Enabled: true}

	switch {
	case strings.HasPrefix(location, "step:"):
		bp.Type = StepBreakpoint
		n, err := strconv.Atoi(strings.TrimPrefix(location, "step:"))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid step number in %q", location)
		}
		bp.Step = n
	case strings.HasPrefix(location, "type:"):
		bp.Type = TypeBreakpoint
		bp.TypeOf = strings.TrimPrefix(location, "type:")
		if bp.TypeOf == "" {
			return nil, fmt.Errorf("invalid location format: %s", location)
		}
	default:
		bp.Type = MethodBreakpoint
		bp.Method = strings.TrimPrefix(location, "method:")
		if bp.Method == "" {
			return nil, fmt.Errorf("invalid location format: %s", location)
		}
	}

	bp.ID = bm.nextID
	bm.nextID++
	bm.breakpoints = append(bm.breakpoints, bp)
	return bp, nil
}

// GetBreakpoints returns all breakpoints
func (bm *BreakpointManager) GetBreakpoints() []*Breakpoint {
	return bm.breakpoints
}

// RemoveBreakpoint removes a breakpoint by ID
func (bm *BreakpointManager) RemoveBreakpoint(id int) error {
	for i, bp := range bm.breakpoints {
		if bp.ID == id {
			bm.breakpoints = append(bm.breakpoints[:i], bm.breakpoints[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("breakpoint %d not found", id)
}

// EnableBreakpoint enables a breakpoint by ID
func (bm *BreakpointManager) EnableBreakpoint(id int) error {
	return bm.setEnabled(id, true)
}

// DisableBreakpoint disables a breakpoint by ID
func (bm *BreakpointManager) DisableBreakpoint(id int) error {
	return bm.setEnabled(id, false)
}

func (bm *BreakpointManager) setEnabled(id int, enabled bool) error {
	for _, bp := range bm.breakpoints {
		if bp.ID == id {
			bp.Enabled = enabled
			return nil
		}
	}
	return fmt.Errorf("breakpoint %d not found", id)
}

// CheckBreakpoint returns the first enabled breakpoint matching step and
// counts the hit
func (bm *BreakpointManager) CheckBreakpoint(step Step) (*Breakpoint, bool) {
	for _, bp := range bm.breakpoints {
		if !bp.Enabled {
			continue
		}
		hit := false
		switch bp.Type {
		case MethodBreakpoint:
			hit = bp.Method == step.Name
		case StepBreakpoint:
			hit = bp.Step == step.Index
		case TypeBreakpoint:
			hit = bp.TypeOf == step.Type
		}
		if hit {
			bp.Hits++
			return bp, true
		}
	}
	return nil, false
}

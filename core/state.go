package orchestration

import "fmt"

type Phase int

const (
	PhaseLoading Phase = iota
	PhaseLoadFailed
	PhaseActive
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseLoadFailed:
		return "load_failed"
	case PhaseActive:
		return "active"
	case PhaseClosed:
		return "closed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Mode is only meaningful while the phase is PhaseActive.
type Mode int

const (
	ModeIdle Mode = iota
	ModeEmitting
	// ModeWindingDown means the dormancy announcement was made and the
	// dormant window has not started yet.
	ModeWindingDown
	ModeDormant
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeEmitting:
		return "emitting"
	case ModeWindingDown:
		return "winding_down"
	case ModeDormant:
		return "dormant"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// State is the orchestrator lifecycle. Err is set only in PhaseLoadFailed.
type State struct {
	Phase Phase
	Mode  Mode
	Err   error
}

func active(mode Mode) State {
	return State{Phase: PhaseActive, Mode: mode}
}

func (s State) Is(phase Phase, mode Mode) bool {
	return s.Phase == phase && (phase != PhaseActive || s.Mode == mode)
}

func (s State) same(other State) bool {
	return s.Phase == other.Phase && (s.Phase != PhaseActive || s.Mode == other.Mode)
}

func (s State) String() string {
	if s.Phase == PhaseActive {
		return s.Phase.String() + "/" + s.Mode.String()
	}
	return s.Phase.String()
}

// environment is what the actor observed about the outside world when an
// input was taken off the queue.
type environment struct {
	dormant  bool
	announce bool
	passive  bool
}

// transition is the only place the lifecycle state changes. Side effects are
// applied by the actor from the edge between the old and the new state.
func transition(s State, in input, env environment) State {
	if s.Phase == PhaseClosed {
		return s
	}

	switch in := in.(type) {
	case loadRequested:
		return State{Phase: PhaseLoading}

	case loadCompleted:
		if s.Phase != PhaseLoading {
			return s
		}
		if in.err != nil {
			return State{Phase: PhaseLoadFailed, Err: in.err}
		}
		if env.dormant {
			return active(ModeDormant)
		}
		return active(ModeIdle)

	case timerFired:
		if s.Phase != PhaseActive {
			return s
		}
		switch in.slot {
		case slotTick, slotPoll:
			switch s.Mode {
			case ModeIdle:
				switch {
				case env.dormant:
					return active(ModeDormant)
				case env.announce && !env.passive:
					return active(ModeWindingDown)
				case in.slot == slotTick && !env.passive:
					return active(ModeEmitting)
				}
			case ModeWindingDown:
				if env.dormant {
					return active(ModeDormant)
				}
			case ModeDormant:
				if !env.dormant {
					return active(ModeIdle)
				}
			}
		case slotWake:
			if s.Mode == ModeDormant && !env.dormant {
				return active(ModeIdle)
			}
		}

	case generationCompleted:
		if s.Is(PhaseActive, ModeEmitting) {
			return active(ModeIdle)
		}

	case closeRequested:
		return State{Phase: PhaseClosed}
	}

	return s
}

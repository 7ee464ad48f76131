package codec

// stateKind distinguishes "never observed" from "observed to be missing".
type stateKind uint8

const (
	kindUnknown stateKind = iota
	kindAbsent
	kindDetected
)

// State is a three-valued codec observation: Unknown (nothing observed yet),
// Absent (observed, and there is no such stream) or Detected(name).
type State struct {
	kind stateKind
	name string
}

// Unknown returns the state for a codec that has not been observed.
func Unknown() State {
	return State{}
}

// Absent returns the state for a stream observed to carry no codec.
func Absent() State {
	return State{kind: kindAbsent}
}

// Detected returns the state for an observed codec. An empty name is Absent.
func Detected(name string) State {
	n := Normalize(name)
	if n == "" {
		return Absent()
	}
	return State{kind: kindDetected, name: n}
}

// IsUnknown reports whether nothing has been observed.
func (s State) IsUnknown() bool { return s.kind == kindUnknown }

// IsAbsent reports whether the stream was observed to be missing.
func (s State) IsAbsent() bool { return s.kind == kindAbsent }

// IsDetected reports whether a codec name is known.
func (s State) IsDetected() bool { return s.kind == kindDetected }

// Name returns the codec name, empty unless detected.
func (s State) Name() string { return s.name }

// Is reports whether the state is Detected with the given codec name.
func (s State) Is(name string) bool {
	return s.kind == kindDetected && s.name == Normalize(name)
}

// String renders the state for logs and diagnostics.
func (s State) String() string {
	switch s.kind {
	case kindAbsent:
		return "none"
	case kindDetected:
		return s.name
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

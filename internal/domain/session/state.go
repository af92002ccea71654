package session

// State is the ranking state of a session.
type State int

// Session states. A session moves Idle -> FeaturesLoaded -> Ranked, passes
// through Retrained after each successful training, and reaches Exhausted
// when the last candidate of a pass has been presented.
const (
	Idle State = iota
	FeaturesLoaded
	Ranked
	Retrained
	Exhausted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case FeaturesLoaded:
		return "features_loaded"
	case Ranked:
		return "ranked"
	case Retrained:
		return "retrained"
	case Exhausted:
		return "exhausted"
	}
	return "unknown"
}

package lifecycle

// Status records whether a component has been started or stopped.
type Status int

const (
	Stopped Status = iota
	Started
)

func (s Status) String() string {
	switch s {
	case Started:
		return "Started"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

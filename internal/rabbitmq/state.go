package rabbitmq

// State is the lifecycle state of a Consumer.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateChannelOpening
	StateDeclaring
	StateConsuming
	StateClosing
	StateStopped
)

var stateNames = map[State]string{
	StateDisconnected:   "disconnected",
	StateConnecting:     "connecting",
	StateChannelOpening: "channel_opening",
	StateDeclaring:      "declaring",
	StateConsuming:      "consuming",
	StateClosing:        "closing",
	StateStopped:        "stopped",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// States lists every state in declaration order.
func States() []State {
	return []State{
		StateDisconnected,
		StateConnecting,
		StateChannelOpening,
		StateDeclaring,
		StateConsuming,
		StateClosing,
		StateStopped,
	}
}

// transitions is the legal move table. Unsolicited closes drop any active
// state back to disconnected; closing is reachable from everywhere except
// stopped, and stopped is terminal.
var transitions = map[State][]State{
	StateDisconnected:   {StateConnecting, StateClosing, StateStopped},
	StateConnecting:     {StateChannelOpening, StateDisconnected, StateClosing, StateStopped},
	StateChannelOpening: {StateDeclaring, StateDisconnected, StateClosing},
	StateDeclaring:      {StateConsuming, StateDisconnected, StateClosing},
	StateConsuming:      {StateDisconnected, StateClosing},
	StateClosing:        {StateStopped},
	StateStopped:        {},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Intent is the shutdown intent owned by the supervisor.
type Intent int

const (
	IntentRunning Intent = iota
	IntentClosing
	IntentStopped
)

func (i Intent) String() string {
	switch i {
	case IntentRunning:
		return "running"
	case IntentClosing:
		return "closing"
	case IntentStopped:
		return "stopped"
	}
	return "unknown"
}

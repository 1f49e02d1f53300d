package updater

// State is the orchestrator state.
type State int32

const (
	StateIdle State = iota
	StateChecking
	StateNoUpdate
	StateAwaitingDecision
	StateClientBlacklisted
	StateDownloading
	StateInstalling
	StateFailed
	StateRetry
)

var stateNames = [...]string{
	StateIdle:              "idle",
	StateChecking:          "checking",
	StateNoUpdate:          "no-update",
	StateAwaitingDecision:  "awaiting-decision",
	StateClientBlacklisted: "client-blacklisted",
	StateDownloading:       "downloading",
	StateInstalling:        "installing",
	StateFailed:            "failed",
	StateRetry:             "retry",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

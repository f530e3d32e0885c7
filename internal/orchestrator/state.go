package orchestrator

import "fmt"

// Progress of an orchestration run.
//
// States only ever advance, in declaration order. TornDown is reached from
// any state after EnvironmentAcquired, including on failure.
type State int

const (
	Init State = iota
	DestinationReady
	EnvironmentAcquired
	Provisioned
	Executed
	Verified
	LauncherInstalled
	TornDown
)

var stateNames = [...]string{
	Init:                "init",
	DestinationReady:    "destination-ready",
	EnvironmentAcquired: "environment-acquired",
	Provisioned:         "provisioned",
	Executed:            "executed",
	Verified:            "verified",
	LauncherInstalled:   "launcher-installed",
	TornDown:            "torn-down",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

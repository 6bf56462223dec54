package peer

// VoteState record node voting status.
type VoteState int

// Vote status
const (
	VoteNone VoteState = iota
	VoteReject
	VoteGranted
)

// State transfer graph.
//
// Default state => probe (m: 0, n: log.lastIdx+1)
//
// probe:
//	send log entries (pause: true)
//	heartbeat tick (pause: false)
//	unreachable (pause: false)
//	receive append response
//		success: => replicate (m: idx, n: m+1)
//		failed: => probe (m: 0, n: max{1, min{rejectIdx, hintIdx+1}})
//		ignore on rejectIdx != n-1
//
// replicate:
//	send log entries (window: {ins.left, log.lastIdx-n}, n: last index sent)
//	unreachable => probe (n: m+1)
//	receive append response:
//		success (m: max{m, idx})
//		failed => probe (n: m+1); mostly eaten by unreachable events.
type progressState int

const (
	progressStateProbe progressState = iota
	progressStateReplicate
)

var progressStateString = []string{
	"Probe",
	"Replicate",
}

func (state progressState) String() string {
	return progressStateString[state]
}

func defaultProgressState() progressState {
	return progressStateProbe
}

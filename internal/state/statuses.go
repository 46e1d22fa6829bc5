package state

type ActionStatus string

const (
	StatusQueued     ActionStatus = "queued"
	StatusProcessing ActionStatus = "processing"
	StatusDone       ActionStatus = "done"
	StatusFailed     ActionStatus = "failed"
)

func (s ActionStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition is allowed out of s.
func (s ActionStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

func (s ActionStatus) IsValid() bool {
	for _, status := range AllStatuses {
		if status == s {
			return true
		}
	}
	return false
}

var AllStatuses = []ActionStatus{
	StatusQueued,
	StatusProcessing,
	StatusDone,
	StatusFailed,
}

type Transition struct {
	From ActionStatus
	To   ActionStatus
}

var ValidTransitions = []Transition{
	{From: StatusQueued, To: StatusProcessing},
	{From: StatusProcessing, To: StatusDone},
	{From: StatusProcessing, To: StatusFailed},
}

func IsValidTransition(from, to ActionStatus) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

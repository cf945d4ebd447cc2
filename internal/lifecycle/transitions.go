package lifecycle

import "synchire-go/internal/types"

// allowedTransitions 合法的状态迁移。EXPIRED 可从任何非 EXPIRED 状态进入，单独处理。
var allowedTransitions = map[types.ApplicationStatus][]types.ApplicationStatus{
	types.StatusCreated:             {types.StatusMatched},
	types.StatusMatched:             {types.StatusMatched, types.StatusInterviewScheduled},
	types.StatusInterviewScheduled:  {types.StatusInterviewInProgress},
	types.StatusInterviewInProgress: {types.StatusInterviewCompleted},
	types.StatusInterviewCompleted:  {types.StatusScored},
}

// CanTransition 判断 from -> to 是否合法
func CanTransition(from, to types.ApplicationStatus) bool {
	if to == types.StatusExpired {
		return from != types.StatusExpired
	}
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

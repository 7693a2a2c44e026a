package scheduler

// transitions is the single table consulted by every mutator that moves a
// message between statuses outside of the report handler (spec §9:
// "encode allowed transitions in a single table consulted by every
// mutator"). The report handler's allowed *targets* are validated
// separately (see report.go) since spec §4.4 does not gate on the
// message's current status beyond the CANCELED special case.
var transitions = map[Status]map[Status]bool{
	StatusQueued: {
		StatusAccepted: true, // tick / claim promotion
		StatusCanceled: true, // cancel
	},
	StatusAccepted: {
		StatusCanceled: true, // cancel
	},
	StatusFailed: {
		StatusCanceled: true, // cancel (FAILED is terminal, but cancel's
		// "else" branch per spec §4.5 still admits it)
	},
	StatusCanceled: {
		StatusCanceled: true, // idempotent re-cancel, see spec §8 property 7
	},
}

// canTransition reports whether from -> to is in the table.
func canTransition(from, to Status) bool {
	targets, ok := transitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// reportableStatuses is the set a gateway may report via /gateway/report
// (spec §4.4 step 1).
var reportableStatuses = map[Status]bool{
	StatusSent:      true,
	StatusDelivered: true,
	StatusReceived:  true,
	StatusFailed:    true,
}

func isReportable(s Status) bool {
	return reportableStatuses[s]
}

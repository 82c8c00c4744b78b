package fetch

// Result summarises one orchestrator run.
type Result struct {
	Successful []string
	Failed     []string
	// Errors holds the last error message per failed target id.
	Errors        map[string]string
	TotalRecords  int64
	UnitsConsumed int64
	// Aborted is set when the run stopped early on quota exhaustion under
	// the abort policy. Remaining targets stay pending for the next run.
	Aborted bool
}

func (r *Result) recordError(targetID, message string) {
	if r.Errors == nil {
		r.Errors = make(map[string]string)
	}
	r.Errors[targetID] = message
}

// Clean reports whether every attempted target completed.
func (r Result) Clean() bool {
	return len(r.Failed) == 0 && !r.Aborted
}

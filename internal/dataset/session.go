package dataset

import "time"

// ProgramStatus is the terminal state of one program branch.
type ProgramStatus string

const (
	// ProgramOK means at least the page selector was found and pages were visited.
	ProgramOK ProgramStatus = "ok"
	// ProgramEmpty means the program rendered no result pages.
	ProgramEmpty ProgramStatus = "empty"
	// ProgramFailed means the branch hit the stale-retry cap or a driver error.
	ProgramFailed ProgramStatus = "failed"
)

// ProgramStat summarizes one visited program for progress reporting.
type ProgramStat struct {
	Index       int
	Label       string
	Status      ProgramStatus
	Pages       int
	PagesEmpty  int
	PagesFailed int
	Records     int
}

// Counters are the run-level branch counters.
type Counters struct {
	ProgramsVisited int
	ProgramsEmpty   int
	ProgramsFailed  int
	PagesVisited    int
	PagesEmpty      int
	PagesFailed     int
}

// Session is the state of one extraction run: the accumulated records plus
// counters. It lives for the whole run and is handed to the writers at the end.
type Session struct {
	RunID     string
	StartedAt time.Time

	Records  Accumulator
	Counters Counters
	Programs []ProgramStat
}

// NewSession returns an empty session stamped with runID and start time.
func NewSession(runID string, startedAt time.Time) *Session {
	return &Session{RunID: runID, StartedAt: startedAt}
}

// AddProgram records the outcome of one program branch and updates counters.
func (s *Session) AddProgram(st ProgramStat) {
	s.Programs = append(s.Programs, st)
	s.Counters.ProgramsVisited++
	switch st.Status {
	case ProgramEmpty:
		s.Counters.ProgramsEmpty++
	case ProgramFailed:
		s.Counters.ProgramsFailed++
	}
	s.Counters.PagesVisited += st.Pages
	s.Counters.PagesEmpty += st.PagesEmpty
	s.Counters.PagesFailed += st.PagesFailed
}

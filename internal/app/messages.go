package app

import "fmt"

// StageStartedMsg opens a progress bar for one stage of one day.
type StageStartedMsg struct {
	Day   string
	Stage string
	Total int
}

// ItemDoneMsg advances the current stage by one item.
type ItemDoneMsg struct {
	Day   string
	Stage string
	Item  string
	Err   error
}

// StageFinishedMsg closes the current stage.
type StageFinishedMsg struct {
	Day   string
	Stage string
}

// RunFinishedMsg ends the program once every day has been processed.
type RunFinishedMsg struct {
	Err error
}

func (m StageStartedMsg) String() string {
	return fmt.Sprintf("StageStarted %s/%s (%d)", m.Day, m.Stage, m.Total)
}
func (m ItemDoneMsg) String() string { return fmt.Sprintf("ItemDone %s/%s %s", m.Day, m.Stage, m.Item) }
func (m StageFinishedMsg) String() string {
	return fmt.Sprintf("StageFinished %s/%s", m.Day, m.Stage)
}
func (m RunFinishedMsg) String() string { return "RunFinished" }

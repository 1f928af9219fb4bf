package app

// AppState is the phase the progress view is in.
type AppState int

const (
	Waiting AppState = iota
	Running
	Finished
	Exiting
)

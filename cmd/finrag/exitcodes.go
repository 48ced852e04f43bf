package main

// Exit codes
const (
	ExitSuccess       = 0 // Success
	ExitError         = 1 // General error (invalid arguments, runtime failure)
	ExitConfigError   = 2 // Configuration error (bad config file, unusable encoder)
	ExitDataError     = 3 // Data error (unsupported document, empty query)
	ExitEncoderError  = 4 // General-purpose encoder failed
	ExitRebuildLocked = 5 // Another rebuild holds the index lock
)

package telemetry

import "time"

const (
	// ReadBackLines is the number of trailing lines replayed when a log
	// file is first opened or after rotation
	ReadBackLines = 300

	// PollInterval is how long the follower waits for new lines
	PollInterval = 200 * time.Millisecond

	// RetryBackoff is the wait after a missing file or an I/O error
	RetryBackoff = time.Second

	// StaleThreshold is the age after which telemetry is reported stale
	StaleThreshold = 30 * time.Second

	// fingerprintSize is how many leading bytes of the log identify its content
	fingerprintSize = 256
)

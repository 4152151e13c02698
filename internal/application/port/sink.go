package port

import "time"

// Sink is where the watch grid goes. Live lines overwrite in place;
// snapshot lines are appended with a timestamp for scrollback.
type Sink interface {
	// WriteLive overwrites the current line (no newline).
	WriteLive(line string) error
	// WriteSnapshot appends a timestamped historical line and leaves an
	// empty line for the next live update.
	WriteSnapshot(ts time.Time, line string) error
	// NewLine terminates the live line, for clean shutdown or log output.
	NewLine() error
}

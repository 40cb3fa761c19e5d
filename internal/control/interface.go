package control

import (
	"context"
	"time"
)

// Writer applies single-channel commands to hardware.
type Writer interface {
	// Validate checks cmd against hardware bounds without writing.
	Validate(cmd Command) error
	// Apply writes cmd. Writing a value the channel already holds is a no-op.
	Apply(ctx context.Context, cmd Command) error
	// Current returns a command that would restore the channel's present value.
	Current(ch Channel) (Command, error)
	// Probe reports whether the channel's device can be written.
	Probe(ch Channel) error
	// Fans lists controllable fan names.
	Fans() []string
}

// Recorder receives the outcome of every submitted command.
type Recorder interface {
	RecordCommand(cmd Command, err error, at time.Time)
}

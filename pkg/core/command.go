// pkg/core/command.go
package core

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrUnknownChannel is returned for joystick names that are not drive channels.
	ErrUnknownChannel = errors.New("unknown joystick channel")

	// ErrDeflectionOutOfRange is returned for deflections outside [-1, 1] or non-finite values.
	ErrDeflectionOutOfRange = errors.New("deflection out of range")
)

// Deflection limits accepted by the simulator.
const (
	MinDeflection = -1.0
	MaxDeflection = 1.0
)

// Channel names the joystick axis a DriveCommand acts on.
type Channel string

// Track joystick channels. The string values are the wire names.
const (
	TrackLeft     Channel = "track_left"
	TrackRight    Channel = "track_right"
	TrackForward  Channel = "track_forward"
	TrackBackward Channel = "track_backward"
)

// Channels lists every drive channel in a stable order.
var Channels = []Channel{TrackLeft, TrackRight, TrackForward, TrackBackward}

// ParseChannel converts a wire name into a Channel.
func ParseChannel(s string) (Channel, error) {
	c := Channel(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownChannel, s)
	}
	return c, nil
}

// Valid reports whether c is one of the four drive channels.
func (c Channel) Valid() bool {
	return c.IsTurn() || c.IsTranslate()
}

// IsTurn reports whether the channel changes heading only.
func (c Channel) IsTurn() bool {
	return c == TrackLeft || c == TrackRight
}

// IsTranslate reports whether the channel moves along the current heading.
func (c Channel) IsTranslate() bool {
	return c == TrackForward || c == TrackBackward
}

func (c Channel) String() string {
	return string(c)
}

// DriveCommand is a single joystick deflection sent by an input source.
type DriveCommand struct {
	Channel    Channel `json:"joystick"`
	Deflection float64 `json:"deflection"`
}

// Validate checks the channel and the deflection range.
func (c DriveCommand) Validate() error {
	if !c.Channel.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, string(c.Channel))
	}
	if math.IsNaN(c.Deflection) || c.Deflection < MinDeflection || c.Deflection > MaxDeflection {
		return fmt.Errorf("%w: %v", ErrDeflectionOutOfRange, c.Deflection)
	}
	return nil
}

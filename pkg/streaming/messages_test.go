package streaming

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/potrero/rcsim/pkg/core"
)

func TestMarshal_DriveCommand(t *testing.T) {
	data, err := Marshal(TypeDriveCommand, DriveCommandPayload{Channel: core.TrackForward, Deflection: 0.5})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"drive_command","payload":{"joystick":"track_forward","deflection":0.5}}`, string(data))

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, TypeDriveCommand, env.Type)

	var cmd core.DriveCommand
	require.NoError(t, json.Unmarshal(env.Payload, &cmd))
	assert.Equal(t, core.TrackForward, cmd.Channel)
	assert.Equal(t, 0.5, cmd.Deflection)
}

func TestMarshal_UnsupportedPayload(t *testing.T) {
	_, err := Marshal(TypeNotice, make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "marshal notice payload")
}

func TestAck(t *testing.T) {
	assert.JSONEq(t, `{"type":"ack","for":"hello"}`, string(Ack(TypeHello)))
}

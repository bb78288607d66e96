package core

import "time"

// Topic names shared by every node on the bus.
const (
	TopicDriveCommand = "rc_js_def"
	TopicOdometry     = "odometry"
	TopicNotice       = "sim_notice"
)

// NoticeLevel classifies a diagnostic notice.
type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeWarn  NoticeLevel = "warn"
	NoticeError NoticeLevel = "error"
)

// Notice is a human-readable diagnostic emitted by the simulator.
type Notice struct {
	Level     NoticeLevel `json:"level"`
	Message   string      `json:"message"`
	Timestamp time.Time   `json:"timestamp"`
}

package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call history for one user.
// User isolation: UserID is required and only the user's own calls are counted.
type CallsSummaryRequest struct {
	UserID string    `json:"user_id"`
	Range  TimeRange `json:"range"`
}

type CallsSummary struct {
	UserID string    `json:"user_id"`
	Range  TimeRange `json:"range"`

	TotalCalls    int `json:"total_calls"`
	OutgoingCalls int `json:"outgoing_calls"`
	IncomingCalls int `json:"incoming_calls"`
	VideoCalls    int `json:"video_calls"`
	AudioCalls    int `json:"audio_calls"`

	EndedCalls    int `json:"ended_calls"`
	DeclinedCalls int `json:"declined_calls"`
	MissedCalls   int `json:"missed_calls"`
	FailedCalls   int `json:"failed_calls"`
	CanceledCalls int `json:"canceled_calls"`
	LiveCalls     int `json:"live_calls"`

	TotalDurationSeconds int `json:"total_duration_seconds"`
	// AverageDurationSeconds averages over ended calls only.
	AverageDurationSeconds int `json:"average_duration_seconds"`
}

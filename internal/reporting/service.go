package reporting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"liveconnect/internal/apperr"
	"liveconnect/internal/calls"
)

var ErrInvalidRequest = fmt.Errorf("reporting: %w", apperr.ErrInvalidRequest)

// MaxRange bounds a single summary query.
const MaxRange = 366 * 24 * time.Hour

// CallLister is the read side of the call store. calls.Store satisfies it.
type CallLister interface {
	ListForUser(ctx context.Context, userID string, from, to time.Time) ([]calls.Call, error)
}

type Service struct {
	calls CallLister
}

func NewService(calls CallLister) *Service { return &Service{calls: calls} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.UserID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.To.Sub(req.Range.From) > MaxRange {
		return CallsSummary{}, fmt.Errorf("range exceeds %d days: %w", int(MaxRange.Hours()/24), ErrInvalidRequest)
	}
	if s.calls == nil {
		return CallsSummary{}, errors.New("reporting: call store not configured")
	}

	rows, err := s.calls.ListForUser(ctx, req.UserID, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{UserID: req.UserID, Range: req.Range}
	for _, c := range rows {
		if !c.IsParticipant(req.UserID) {
			continue
		}
		out.TotalCalls++
		if c.InitiatorID == req.UserID {
			out.OutgoingCalls++
		} else {
			out.IncomingCalls++
		}
		if c.Medium == calls.MediumAudio {
			out.AudioCalls++
		} else {
			out.VideoCalls++
		}

		switch c.State {
		case calls.StateEnded:
			out.EndedCalls++
			out.TotalDurationSeconds += c.DurationSeconds
		case calls.StateDeclined:
			out.DeclinedCalls++
		case calls.StateMissed:
			out.MissedCalls++
		case calls.StateFailed:
			out.FailedCalls++
		case calls.StateCanceled:
			out.CanceledCalls++
		default:
			out.LiveCalls++
		}
	}
	if out.EndedCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.EndedCalls
	}
	return out, nil
}

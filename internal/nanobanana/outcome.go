package nanobanana

import "errors"

// FailureKind tags the classified cause of a terminal failure. Every kind is
// retry-eligible; the distinction only matters for display and logging.
type FailureKind string

const (
	FailTransport      FailureKind = "transport"
	FailIncomplete     FailureKind = "incomplete_stream"
	FailServerReported FailureKind = "server_reported"
	FailUnknown        FailureKind = "unknown_outcome"
)

// Outcome is the classified terminal result of one attempt.
type Outcome struct {
	Success   bool
	ResultURL string
	Kind      FailureKind
	Reason    string
	Message   string
}

// Classify applies the uniform outcome rules to a terminal event, whether it
// came from a single JSON document or the last captured stream record. Only
// the first result is surfaced; the API is a single-result design.
func Classify(ev *Event, locale string) Outcome {
	switch {
	case ev.Status == StatusSucceeded && len(ev.Results) > 0:
		return Outcome{Success: true, ResultURL: ev.Results[0].URL}
	case ev.Status == StatusFailed:
		return Outcome{
			Kind:    FailServerReported,
			Reason:  ev.FailureReason,
			Message: FailureMessage(ev.FailureReason, ev.Error, locale),
		}
	case ev.Error != "":
		return Outcome{Kind: FailServerReported, Message: ev.Error}
	default:
		return Outcome{Kind: FailUnknown, Message: unknownStatusMessage(ev.Status, locale)}
	}
}

// FailureFromError maps a transport-level error onto a terminal failure
// outcome. Every kind feeds the same retry machine.
func FailureFromError(err error, locale string) Outcome {
	if errors.Is(err, ErrIncompleteStream) {
		return Outcome{Kind: FailIncomplete, Message: incompleteStreamMessage(locale)}
	}
	return Outcome{Kind: FailTransport, Message: err.Error()}
}

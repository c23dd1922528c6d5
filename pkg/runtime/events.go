package runtime

import "fmt"

// Event is one entry of the run events topic. Exactly one field is set.
type Event struct {
	StageStartEvent *StageEvent   `json:"stage_start_event,omitempty"`
	StageEndEvent   *StageEvent   `json:"stage_end_event,omitempty"`
	SuccessEvent    *SuccessEvent `json:"success_event,omitempty"`
	FailureEvent    *FailureEvent `json:"failure_event,omitempty"`
	MessageEvent    *MessageEvent `json:"message_event,omitempty"`
}

type StageEvent struct {
	Name  string `json:"name"`
	Group string `json:"group"`
}

type SuccessEvent struct {
	Group string `json:"group"`
}

type FailureEvent struct {
	Group string `json:"group"`
	Error string `json:"error"`
}

type MessageEvent struct {
	Group   string `json:"group"`
	Message string `json:"message"`
}

// Type names the kind of the event.
func (e *Event) Type() string {
	switch {
	case e.StageStartEvent != nil:
		return "stage_start"
	case e.StageEndEvent != nil:
		return "stage_end"
	case e.SuccessEvent != nil:
		return "success"
	case e.FailureEvent != nil:
		return "failure"
	case e.MessageEvent != nil:
		return "message"
	default:
		return "unknown"
	}
}

func (e *Event) String() string {
	switch {
	case e.StageStartEvent != nil:
		return fmt.Sprintf("[%s] stage %s started", e.StageStartEvent.Group, e.StageStartEvent.Name)
	case e.StageEndEvent != nil:
		return fmt.Sprintf("[%s] stage %s ended", e.StageEndEvent.Group, e.StageEndEvent.Name)
	case e.SuccessEvent != nil:
		return fmt.Sprintf("[%s] success", e.SuccessEvent.Group)
	case e.FailureEvent != nil:
		return fmt.Sprintf("[%s] failure: %s", e.FailureEvent.Group, e.FailureEvent.Error)
	case e.MessageEvent != nil:
		return fmt.Sprintf("[%s] %s", e.MessageEvent.Group, e.MessageEvent.Message)
	default:
		return "unknown event"
	}
}

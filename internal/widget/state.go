package widget

import (
	"strings"
	"time"
)

// Step is the panel step while the widget is open.
type Step string

const (
	StepCategory Step = "category"
	StepMessage  Step = "message"
)

// Status is the submission status.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSending Status = "sending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Phase names the observable view state.
type Phase string

const (
	PhaseClosed   Phase = "closed"
	PhaseCategory Phase = "open/category"
	PhaseMessage  Phase = "open/message"
	PhaseSending  Phase = "open/sending"
	PhaseSuccess  Phase = "open/success"
	PhaseError    Phase = "open/error"
)

// State is the single widget state of a page.
type State struct {
	Open         bool
	Step         Step
	Category     string
	Status       Status
	LastSubmitAt time.Time
}

// InitialState is the state the widget starts in and returns to after closing.
func InitialState() State {
	return State{Step: StepCategory, Status: StatusIdle}
}

func (state State) Phase() Phase {
	if !state.Open {
		return PhaseClosed
	}
	switch state.Status {
	case StatusSuccess:
		return PhaseSuccess
	case StatusSending:
		return PhaseSending
	case StatusError:
		return PhaseError
	}
	if state.Step == StepMessage {
		return PhaseMessage
	}
	return PhaseCategory
}

// Draft is what the user typed into the message step.
type Draft struct {
	Message    string
	Email      string
	Screenshot bool
}

// TrimmedMessage is the message as it would be submitted.
func (draft Draft) TrimmedMessage() string {
	return strings.TrimSpace(draft.Message)
}

// CanSubmit is the submit control's enabled state.
func CanSubmit(state State, draft Draft) bool {
	return draft.TrimmedMessage() != "" && state.Status != StatusSending
}

// NoticeKind classifies the inline notice under the message form.
type NoticeKind string

const (
	NoticeNone          NoticeKind = ""
	NoticeThrottled     NoticeKind = "throttled"
	NoticeFailed        NoticeKind = "failed"
	NoticeRateLimited   NoticeKind = "rate_limited"
	NoticeQuotaExceeded NoticeKind = "quota_exceeded"
)

var noticeTexts = map[NoticeKind]string{
	NoticeThrottled:     "Please wait before submitting again.",
	NoticeFailed:        "Something went wrong. Please try again.",
	NoticeRateLimited:   "Too many requests. Please wait a moment and try again.",
	NoticeQuotaExceeded: "This site has reached its feedback limit for the month.",
}

// Text is the user-facing notice text.
func (kind NoticeKind) Text() string {
	return noticeTexts[kind]
}

package widget_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/widget"
)

func TestProjectBusinessCopy(testingT *testing.T) {
	configuration := widget.ResolveConfig(widget.Attributes{
		widget.AttributeBusinessType: "salon",
		widget.AttributeName:         "Studio Lux",
	}, testPageURL)
	state := widget.InitialState()
	state.Open = true
	state.Step = widget.StepMessage
	state.Category = "Appointment"

	view := widget.Project(configuration, state, widget.Draft{Message: "Tuesday?"}, widget.NoticeNone)

	require.Equal(testingT, widget.PhaseMessage, view.Phase)
	require.Equal(testingT, "Leave a message for Studio Lux", view.Title)
	require.Equal(testingT, "Appointment", view.CategoryLabel)
	require.Equal(testingT, "Preferred date, service, any preferences…", view.Placeholder)
	require.Equal(testingT, "Send Message", view.SubmitLabel)
	require.Equal(testingT, "Close", view.TriggerLabel)
	require.True(testingT, view.SubmitEnabled)
	require.True(testingT, view.Categories[0].Active)
	require.Equal(testingT, "Someone from Studio Lux will follow up.", view.SuccessSubtitle)
}

func TestProjectSendingDisablesSubmit(testingT *testing.T) {
	configuration := widget.ResolveConfig(nil, testPageURL)
	state := widget.State{Open: true, Step: widget.StepMessage, Category: "bug", Status: widget.StatusSending}

	view := widget.Project(configuration, state, widget.Draft{Message: "broken"}, widget.NoticeNone)

	require.Equal(testingT, widget.PhaseSending, view.Phase)
	require.False(testingT, view.SubmitEnabled)
	require.Equal(testingT, "Sending…", view.SubmitLabel)
}

func TestRenderPanelSelectsTemplateByPhase(testingT *testing.T) {
	configuration := widget.ResolveConfig(nil, testPageURL)
	testCases := []struct {
		name     string
		state    widget.State
		expected string
	}{
		{name: "category", state: widget.State{Open: true, Step: widget.StepCategory, Status: widget.StatusIdle}, expected: `id="fw-cats"`},
		{name: "message", state: widget.State{Open: true, Step: widget.StepMessage, Category: "bug", Status: widget.StatusIdle}, expected: `id="fw-msg"`},
		{name: "error keeps form", state: widget.State{Open: true, Step: widget.StepMessage, Category: "bug", Status: widget.StatusError}, expected: `data-notice="failed"`},
		{name: "success", state: widget.State{Open: true, Step: widget.StepMessage, Category: "bug", Status: widget.StatusSuccess}, expected: `id="fw-done"`},
	}
	for _, testCase := range testCases {
		testingT.Run(testCase.name, func(testingT *testing.T) {
			notice := widget.NoticeNone
			if testCase.state.Status == widget.StatusError {
				notice = widget.NoticeFailed
			}
			markup, renderErr := widget.RenderPanel(widget.Project(configuration, testCase.state, widget.Draft{Message: "<b>hi</b>"}, notice))
			require.NoError(testingT, renderErr)
			require.Contains(testingT, markup, testCase.expected)
			require.NotContains(testingT, markup, "<b>hi</b>")
		})
	}
}

package widget

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
)

const (
	MessageFieldID    = "fw-msg"
	EmailFieldID      = "fw-email"
	ScreenshotFieldID = "fw-screenshot"
	SubmitButtonID    = "fw-submit"
	NoticeID          = "fw-notice"

	templateNameTrigger  = "trigger"
	templateNameCategory = "category"
	templateNameMessage  = "message"
	templateNameSuccess  = "success"

	submitLabelIdle        = "Send"
	submitLabelBusiness    = "Send Message"
	submitLabelSending     = "Sending…"
	triggerLabelOpen       = "Close"
	triggerLabelDeveloper  = "Feedback"
	triggerLabelBusiness   = "Contact Us"
	eyebrowDeveloper       = "Feedback"
	eyebrowBusiness        = "Get in touch"
	titleDeveloper         = "What's on your mind?"
	titleBusinessAnonymous = "How can we help?"
	titleBusinessFormat    = "Leave a message for %s"
	successTitle           = "Received."
	successDeveloper       = "We'll look into it."
	successBusinessFormat  = "Someone from %s will follow up."
	successBusinessTeam    = "our team"
	emailPlaceholder       = "Email (optional, so we can follow up)"
	defaultPlaceholder     = "Tell us more…"
	developerPlaceholder   = "Describe the issue…"
	fallbackCategoryLabel  = "Other"
	badgeURL               = "https://markopolo.dev"
	badgeLabel             = "MarkoPolo Feedback"
)

//go:embed assets/panel.html.tmpl
var panelTemplateSource string

var panelTemplates = template.Must(template.New("panel").Parse(panelTemplateSource))

var categoryPlaceholders = map[string]string{
	"Reservation":       "Date, party size, any special requests…",
	"Complaint":         "Tell us what happened so we can make it right…",
	"Compliment":        "Tell us more.",
	"Catering Inquiry":  "Event date, number of guests, type of occasion…",
	"General Question":  "What would you like to know?",
	"Appointment":       "Preferred date, service, any preferences…",
	"Service Question":  "What would you like to know about our services?",
	"Return / Exchange": "Order details and reason for the return…",
	"Product Question":  "Which product are you asking about?",
	"Suggestion":        "Describe your idea…",
	"Other":             "What's on your mind?",
}

// CategoryView is one category chip.
type CategoryView struct {
	Value  string
	Label  string
	Active bool
}

// View is the full projection of the widget state onto what is displayed.
type View struct {
	Phase            Phase
	PanelOpen        bool
	Step             Step
	Eyebrow          string
	Title            string
	Categories       []CategoryView
	CategoryLabel    string
	Placeholder      string
	EmailPlaceholder string
	Message          string
	Email            string
	Screenshot       bool
	SubmitEnabled    bool
	SubmitLabel      string
	Notice           string
	NoticeKind       NoticeKind
	SuccessTitle     string
	SuccessSubtitle  string
	ShowBadge        bool
	BadgeURL         string
	BadgeLabel       string
	TriggerOpen      bool
	TriggerLabel     string
}

// Project maps configuration, state, draft and notice onto a View. It has no side effects.
func Project(configuration Config, state State, draft Draft, notice NoticeKind) View {
	view := View{
		Phase:            state.Phase(),
		PanelOpen:        state.Open,
		Step:             state.Step,
		EmailPlaceholder: emailPlaceholder,
		Message:          draft.Message,
		Email:            draft.Email,
		Screenshot:       draft.Screenshot,
		SubmitEnabled:    CanSubmit(state, draft),
		SubmitLabel:      submitLabel(configuration, state),
		Notice:           notice.Text(),
		NoticeKind:       notice,
		SuccessTitle:     successTitle,
		ShowBadge:        configuration.ShowBadge,
		BadgeURL:         badgeURL,
		BadgeLabel:       badgeLabel,
		TriggerOpen:      state.Open,
		TriggerLabel:     triggerLabel(configuration, state.Open),
	}

	if configuration.Variant == VariantBusiness {
		view.Eyebrow = eyebrowBusiness
		view.Title = titleBusinessAnonymous
		if configuration.DisplayName != "" {
			view.Title = fmt.Sprintf(titleBusinessFormat, configuration.DisplayName)
		}
		teamName := configuration.DisplayName
		if teamName == "" {
			teamName = successBusinessTeam
		}
		view.SuccessSubtitle = fmt.Sprintf(successBusinessFormat, teamName)
	} else {
		view.Eyebrow = eyebrowDeveloper
		view.Title = titleDeveloper
		view.SuccessSubtitle = successDeveloper
	}

	view.Categories = make([]CategoryView, 0, len(configuration.Categories))
	for _, category := range configuration.Categories {
		view.Categories = append(view.Categories, CategoryView{
			Value:  category.Value,
			Label:  category.Label,
			Active: category.Value == state.Category,
		})
	}

	view.CategoryLabel = fallbackCategoryLabel
	if category, found := configuration.CategoryByValue(state.Category); found {
		view.CategoryLabel = category.Label
	}
	view.Placeholder = placeholderFor(configuration, view.CategoryLabel)
	return view
}

func placeholderFor(configuration Config, categoryLabel string) string {
	if configuration.Variant == VariantDeveloper {
		return developerPlaceholder
	}
	if placeholder, found := categoryPlaceholders[categoryLabel]; found {
		return placeholder
	}
	return defaultPlaceholder
}

func submitLabel(configuration Config, state State) string {
	if state.Status == StatusSending {
		return submitLabelSending
	}
	if configuration.Variant == VariantBusiness {
		return submitLabelBusiness
	}
	return submitLabelIdle
}

func triggerLabel(configuration Config, open bool) string {
	if open {
		return triggerLabelOpen
	}
	if configuration.Variant == VariantBusiness {
		return triggerLabelBusiness
	}
	return triggerLabelDeveloper
}

// RenderPanel regenerates the complete panel markup for a view.
func RenderPanel(view View) (string, error) {
	templateName := templateNameCategory
	switch {
	case view.Phase == PhaseSuccess:
		templateName = templateNameSuccess
	case view.Step == StepMessage:
		templateName = templateNameMessage
	}
	return executePanelTemplate(templateName, view)
}

// RenderTrigger renders the trigger button content.
func RenderTrigger(view View) (string, error) {
	return executePanelTemplate(templateNameTrigger, view)
}

func executePanelTemplate(templateName string, view View) (string, error) {
	var buffer bytes.Buffer
	if executeErr := panelTemplates.ExecuteTemplate(&buffer, templateName, view); executeErr != nil {
		return "", fmt.Errorf("render %s view: %w", templateName, executeErr)
	}
	return buffer.String(), nil
}

package widget

import (
	"bytes"
	_ "embed"
	"fmt"
	"regexp"
	"strconv"
	"text/template"
)

const (
	StylesheetMarkerAttribute = "data-feedback-widget"
	FontPreconnectURL         = "https://fonts.googleapis.com"
	FontStylesheetURL         = "https://fonts.googleapis.com/css2?family=Instrument+Serif:ital@0;1&family=Geist+Mono:wght@300;400;500&display=swap"
	SerifOnlyStylesheetURL    = "https://fonts.googleapis.com/css2?family=Instrument+Serif:ital@0;1&display=swap"

	fontMonoMarker  = "Geist+Mono"
	fontSerifMarker = "Instrument+Serif"

	ClassBackdrop     = "fw-backdrop"
	ClassRoot         = "fw-root"
	ClassPanel        = "fw-panel"
	ClassTrigger      = "fw-trigger"
	ClassOpen         = "fw-open"
	ClassTriggerOpen  = "fw-trigger-open"
	defaultAccentRGB  = "0, 200, 122"
	tagNameDiv        = "div"
	tagNameButton     = "button"
	tagNameStyle      = "style"
	tagNameLink       = "link"
	attributeHref     = "href"
	attributeRel      = "rel"
	attributeAria     = "aria-label"
	triggerAriaLabel  = "Send feedback"
	backdropAriaValue = "true"
)

//go:embed assets/widget.css.tmpl
var stylesheetSource string

var stylesheetTemplate = template.Must(template.New("widget.css").Parse(stylesheetSource))

var hexColorPattern = regexp.MustCompile(`^#?([a-fA-F\d]{2})([a-fA-F\d]{2})([a-fA-F\d]{2})$`)

// Shell holds the four elements the widget builds once per page.
type Shell struct {
	Backdrop Element
	Root     Element
	Panel    Element
	Trigger  Element
}

// SetVisible hides or restores the whole widget subtree.
func (shell *Shell) SetVisible(visible bool) {
	if shell == nil {
		return
	}
	shell.Root.SetHidden(!visible)
	shell.Backdrop.SetHidden(!visible)
}

// SetOpen projects the open flag onto the panel and backdrop classes.
func (shell *Shell) SetOpen(open bool) {
	if shell == nil {
		return
	}
	shell.Panel.SetClass(ClassOpen, open)
	shell.Backdrop.SetClass(ClassOpen, open)
	shell.Trigger.SetClass(ClassTriggerOpen, open)
}

// ContainsTarget reports whether a pointer target lies inside the widget root. The
// backdrop is not part of it: a tap there dismisses the panel.
func (shell *Shell) ContainsTarget(target Element) bool {
	if shell == nil || target == nil {
		return false
	}
	return shell.Root.Contains(target)
}

func (shell *Shell) remove() {
	if shell == nil {
		return
	}
	shell.Root.Remove()
	shell.Backdrop.Remove()
}

// BuildShell creates the backdrop, root, panel and trigger and mounts them on the body.
func BuildShell(document Document) *Shell {
	backdrop := document.CreateElement(tagNameDiv)
	backdrop.SetClass(ClassBackdrop, true)
	backdrop.SetAttribute("aria-hidden", backdropAriaValue)

	root := document.CreateElement(tagNameDiv)
	root.SetClass(ClassRoot, true)
	root.SetAttribute("aria-live", "polite")

	panel := document.CreateElement(tagNameDiv)
	panel.SetClass(ClassPanel, true)
	root.AppendChild(panel)

	trigger := document.CreateElement(tagNameButton)
	trigger.SetClass(ClassTrigger, true)
	trigger.SetAttribute(attributeAria, triggerAriaLabel)
	root.AppendChild(trigger)

	body := document.Body()
	body.AppendChild(backdrop)
	body.AppendChild(root)

	return &Shell{Backdrop: backdrop, Root: root, Panel: panel, Trigger: trigger}
}

// InjectAssets adds the stylesheet and the webfont links. Each insertion is guarded by
// a presence check, so repeated calls change nothing.
func InjectAssets(document Document, configuration Config) error {
	if !document.HeadContains(tagNameStyle, StylesheetMarkerAttribute, "") {
		stylesheet, renderErr := RenderStylesheet(configuration)
		if renderErr != nil {
			return renderErr
		}
		document.AppendToHead(tagNameStyle, map[string]string{StylesheetMarkerAttribute: ""}, stylesheet)
	}

	switch {
	case !document.HeadContains(tagNameLink, attributeHref, fontMonoMarker):
		document.AppendToHead(tagNameLink, map[string]string{attributeRel: "preconnect", attributeHref: FontPreconnectURL}, "")
		document.AppendToHead(tagNameLink, map[string]string{attributeRel: "stylesheet", attributeHref: FontStylesheetURL}, "")
	case !document.HeadContains(tagNameLink, attributeHref, fontSerifMarker):
		document.AppendToHead(tagNameLink, map[string]string{attributeRel: "stylesheet", attributeHref: SerifOnlyStylesheetURL}, "")
	}
	return nil
}

// RenderStylesheet renders the widget CSS for the configured accent and side.
func RenderStylesheet(configuration Config) (string, error) {
	accentColor := configuration.AccentColor
	if accentColor == "" {
		accentColor = DefaultAccentColor
	}
	side := configuration.Side
	if side == "" {
		side = PanelSideRight
	}
	var buffer bytes.Buffer
	executeErr := stylesheetTemplate.Execute(&buffer, map[string]any{
		"AccentColor": accentColor,
		"AccentRGB":   AccentRGB(accentColor),
		"Side":        string(side),
	})
	if executeErr != nil {
		return "", fmt.Errorf("render widget stylesheet: %w", executeErr)
	}
	return buffer.String(), nil
}

// AccentRGB converts a six digit hex color to "r, g, b".
func AccentRGB(hexColor string) string {
	match := hexColorPattern.FindStringSubmatch(hexColor)
	if match == nil {
		return defaultAccentRGB
	}
	channels := make([]int64, 0, 3)
	for _, component := range match[1:] {
		channel, parseErr := strconv.ParseInt(component, 16, 32)
		if parseErr != nil {
			return defaultAccentRGB
		}
		channels = append(channels, channel)
	}
	return fmt.Sprintf("%d, %d, %d", channels[0], channels[1], channels[2])
}

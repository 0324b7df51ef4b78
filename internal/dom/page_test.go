package dom_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/dom"
	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/widget"
)

const testPageMarkup = `<!DOCTYPE html><html data-theme="dark"><head><title>Shop</title></head><body><main id="content"><p>Hello</p></main></body></html>`

func newTestPage(testingT *testing.T) *dom.Page {
	testingT.Helper()
	page, pageErr := dom.NewPage(dom.PageInput{Markup: testPageMarkup})
	require.NoError(testingT, pageErr)
	return page
}

func TestNewPageDefaultsToBlankDocument(testingT *testing.T) {
	page, pageErr := dom.NewPage(dom.PageInput{})
	require.NoError(testingT, pageErr)
	serialized, serializeErr := page.Serialize()
	require.NoError(testingT, serializeErr)
	require.Contains(testingT, serialized, "<body></body>")
}

func TestClaimGlobalSucceedsOnce(testingT *testing.T) {
	page := newTestPage(testingT)
	require.True(testingT, page.ClaimGlobal(widget.GuardKey))
	require.False(testingT, page.ClaimGlobal(widget.GuardKey))

	page.ExposeGlobal("FeedbackWidget", "api")
	value, found := page.Global("FeedbackWidget")
	require.True(testingT, found)
	require.Equal(testingT, "api", value)
}

func TestHeadContainsMatchesAttributeSubstring(testingT *testing.T) {
	page := newTestPage(testingT)
	require.False(testingT, page.HeadContains("link", "href", "Geist+Mono"))

	page.AppendToHead("link", map[string]string{"rel": "stylesheet", "href": "https://fonts.example/css2?family=Geist+Mono"}, "")
	page.AppendToHead("style", map[string]string{"data-feedback-widget": ""}, ".fw-root{}")

	require.True(testingT, page.HeadContains("link", "href", "Geist+Mono"))
	require.False(testingT, page.HeadContains("link", "href", "Instrument+Serif"))
	require.True(testingT, page.HeadContains("style", "data-feedback-widget", ""))
	require.Equal(testingT, 1, page.HeadElements("style"))
}

func TestElementClassAndHiddenAttributes(testingT *testing.T) {
	page := newTestPage(testingT)
	element := page.CreateElement("div")
	element.SetClass("fw-root", true)
	element.SetClass("fw-dark", true)
	element.SetClass("fw-root", true)
	value, _ := element.Attribute("class")
	require.Equal(testingT, "fw-dark fw-root", value)

	element.SetClass("fw-dark", false)
	require.False(testingT, element.HasClass("fw-dark"))
	require.True(testingT, element.HasClass("fw-root"))

	element.SetHidden(true)
	require.True(testingT, element.Hidden())
	element.SetHidden(false)
	require.False(testingT, element.Hidden())
}

func TestSetInnerHTMLReplacesChildren(testingT *testing.T) {
	page := newTestPage(testingT)
	container := page.CreateElement("div")
	page.Body().AppendChild(container)

	require.NoError(testingT, container.SetInnerHTML(`<button id="first">One</button>`))
	require.NoError(testingT, container.SetInnerHTML(`<textarea id="fw-msg">draft</textarea>`))

	_, firstFound := page.ElementByID("first")
	require.False(testingT, firstFound)
	textArea, found := page.ElementByID("fw-msg")
	require.True(testingT, found)
	require.Equal(testingT, "draft", textArea.Text())
}

func TestContainsFollowsAncestry(testingT *testing.T) {
	page := newTestPage(testingT)
	root := page.CreateElement("div")
	child := page.CreateElement("button")
	outsider := page.CreateElement("span")
	root.AppendChild(child)
	page.Body().AppendChild(root)
	page.Body().AppendChild(outsider)

	require.True(testingT, root.Contains(root))
	require.True(testingT, root.Contains(child))
	require.False(testingT, root.Contains(outsider))
	require.False(testingT, root.Contains(nil))

	content, found := page.ElementByID("content")
	require.True(testingT, found)
	require.True(testingT, page.Body().Contains(content))
}

func TestRemoveDetachesElement(testingT *testing.T) {
	page := newTestPage(testingT)
	element := page.CreateElement("div").(*dom.Element)
	page.Body().AppendChild(element)
	require.True(testingT, element.Attached())

	element.Remove()
	require.False(testingT, element.Attached())
}

func TestObserveAttributeNotifiesUntilUnsubscribed(testingT *testing.T) {
	page := newTestPage(testingT)
	documentElement := page.DocumentElement()

	type change struct {
		value   string
		present bool
	}
	var changes []change
	unsubscribe := page.ObserveAttribute(documentElement, "data-theme", func(value string, present bool) {
		changes = append(changes, change{value: value, present: present})
	})

	documentElement.SetAttribute("data-theme", "light")
	documentElement.SetAttribute("lang", "en")
	documentElement.RemoveAttribute("data-theme")
	unsubscribe()
	documentElement.SetAttribute("data-theme", "dark")

	require.Equal(testingT, []change{{value: "light", present: true}, {value: "", present: false}}, changes)
}

func TestFocusRequiresAttachedElement(testingT *testing.T) {
	page := newTestPage(testingT)
	require.False(testingT, page.Focus("missing"))
	require.True(testingT, page.Focus("content"))
	require.Equal(testingT, "content", page.FocusedID())
}

func TestErrorAndRejectionDispatch(testingT *testing.T) {
	page := newTestPage(testingT)
	var events []widget.ErrorEvent
	var reasons []any
	unsubscribeErrors := page.OnError(func(event widget.ErrorEvent) { events = append(events, event) })
	unsubscribeRejections := page.OnUnhandledRejection(func(reason any) { reasons = append(reasons, reason) })

	page.RaiseError(widget.ErrorEvent{Message: "boom", Filename: "app.js", Line: 3, Column: 7})
	page.RejectPromise("denied")
	unsubscribeErrors()
	unsubscribeRejections()
	page.RaiseError(widget.ErrorEvent{Message: "ignored"})
	page.RejectPromise("ignored")

	require.Len(testingT, events, 1)
	require.Equal(testingT, "boom", events[0].Message)
	require.Equal(testingT, []any{"denied"}, reasons)
}

func TestColorSchemeNotifiesOnChangeOnly(testingT *testing.T) {
	page, pageErr := dom.NewPage(dom.PageInput{PrefersDark: true})
	require.NoError(testingT, pageErr)
	require.True(testingT, page.ColorScheme().PrefersDark())

	var notifications []bool
	unsubscribe := page.ColorScheme().Subscribe(func(prefersDark bool) { notifications = append(notifications, prefersDark) })
	page.Scheme().SetPrefersDark(true)
	page.Scheme().SetPrefersDark(false)
	unsubscribe()
	page.Scheme().SetPrefersDark(true)

	require.Equal(testingT, []bool{false}, notifications)
}

func TestElementsByClassInDocumentOrder(testingT *testing.T) {
	page := newTestPage(testingT)
	require.NoError(testingT, page.Body().SetInnerHTML(`<button class="fw-cat" data-category="bug">Bug</button><button class="fw-cat fw-cat-active" data-category="ux">UX</button>`))

	chips := page.ElementsByClass("fw-cat")
	require.Len(testingT, chips, 2)
	value, _ := chips[1].Attribute("data-category")
	require.Equal(testingT, "ux", value)
}

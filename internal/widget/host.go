package widget

// Element is a node of the host document owned by the widget.
type Element interface {
	SetAttribute(name string, value string)
	Attribute(name string) (string, bool)
	RemoveAttribute(name string)
	SetClass(className string, enabled bool)
	HasClass(className string) bool
	SetHidden(hidden bool)
	Hidden() bool
	AppendChild(child Element)
	Remove()
	Contains(other Element) bool
	SetInnerHTML(markup string) error
}

// Document is the part of the host page the widget reads and mutates.
type Document interface {
	HeadContains(tagName string, attributeName string, substring string) bool
	AppendToHead(tagName string, attributes map[string]string, textContent string)
	Body() Element
	DocumentElement() Element
	CreateElement(tagName string) Element
	ObserveAttribute(target Element, attributeName string, callback func(value string, present bool)) (unsubscribe func())
	Focus(elementID string) bool
}

// ColorSchemeSource reports the operating system color-scheme preference.
type ColorSchemeSource interface {
	PrefersDark() bool
	Subscribe(callback func(prefersDark bool)) (unsubscribe func())
}

// ErrorEvent describes an uncaught synchronous error raised on the host page.
type ErrorEvent struct {
	Message  string
	Filename string
	Line     int
	Column   int
}

// Host is the page environment the widget is embedded into.
type Host interface {
	ClaimGlobal(key string) bool
	ExposeGlobal(key string, value any)
	OnError(handler func(ErrorEvent)) (unsubscribe func())
	OnUnhandledRejection(handler func(reason any)) (unsubscribe func())
	ColorScheme() ColorSchemeSource
	Environment() Environment
	Document() Document
}

// API is the pair of functions exposed to the host page.
type API struct {
	Open  func()
	Close func()
}

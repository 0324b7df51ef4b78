package dom

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/widget"
)

const (
	defaultPageMarkup  = "<!DOCTYPE html><html><head></head><body></body></html>"
	attributeClass     = "class"
	attributeID        = "id"
	attributeHidden    = "hidden"
	classListSeparator = " "
)

var (
	ErrInvalidPageMarkup = errors.New("invalid_page_markup")
	ErrDetachedElement   = errors.New("detached_element")
)

// PageInput describes a page to build.
type PageInput struct {
	Markup      string
	Environment widget.Environment
	PrefersDark bool
}

type errorSubscription struct {
	identifier uint64
	handler    func(widget.ErrorEvent)
}

type rejectionSubscription struct {
	identifier uint64
	handler    func(any)
}

type attributeObserver struct {
	identifier    uint64
	target        *html.Node
	attributeName string
	callback      func(value string, present bool)
}

// Page is an in-memory host document. It implements widget.Host and widget.Document.
type Page struct {
	mutex           sync.Mutex
	document        *html.Node
	documentElement *html.Node
	head            *html.Node
	body            *html.Node
	environment     widget.Environment
	colorScheme     *ColorScheme
	globals         map[string]any
	errorHandlers   []errorSubscription
	rejections      []rejectionSubscription
	observers       []attributeObserver
	nextIdentifier  uint64
	focusedID       string
}

// NewPage parses the markup into a page. Empty markup yields a blank document.
func NewPage(input PageInput) (*Page, error) {
	markup := input.Markup
	if strings.TrimSpace(markup) == "" {
		markup = defaultPageMarkup
	}
	document, parseErr := html.Parse(strings.NewReader(markup))
	if parseErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPageMarkup, parseErr)
	}
	page := &Page{
		document:    document,
		environment: input.Environment,
		colorScheme: NewColorScheme(input.PrefersDark),
		globals:     map[string]any{},
	}
	page.documentElement = findFirst(document, atom.Html)
	page.head = findFirst(document, atom.Head)
	page.body = findFirst(document, atom.Body)
	if page.documentElement == nil || page.head == nil || page.body == nil {
		return nil, ErrInvalidPageMarkup
	}
	return page, nil
}

func (page *Page) ClaimGlobal(key string) bool {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	if _, claimed := page.globals[key]; claimed {
		return false
	}
	page.globals[key] = true
	return true
}

func (page *Page) ExposeGlobal(key string, value any) {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	page.globals[key] = value
}

// Global returns a value previously claimed or exposed under key.
func (page *Page) Global(key string) (any, bool) {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	value, found := page.globals[key]
	return value, found
}

func (page *Page) OnError(handler func(widget.ErrorEvent)) func() {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	page.nextIdentifier++
	identifier := page.nextIdentifier
	page.errorHandlers = append(page.errorHandlers, errorSubscription{identifier: identifier, handler: handler})
	return func() {
		page.mutex.Lock()
		defer page.mutex.Unlock()
		for index, subscription := range page.errorHandlers {
			if subscription.identifier == identifier {
				page.errorHandlers = append(page.errorHandlers[:index], page.errorHandlers[index+1:]...)
				return
			}
		}
	}
}

func (page *Page) OnUnhandledRejection(handler func(reason any)) func() {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	page.nextIdentifier++
	identifier := page.nextIdentifier
	page.rejections = append(page.rejections, rejectionSubscription{identifier: identifier, handler: handler})
	return func() {
		page.mutex.Lock()
		defer page.mutex.Unlock()
		for index, subscription := range page.rejections {
			if subscription.identifier == identifier {
				page.rejections = append(page.rejections[:index], page.rejections[index+1:]...)
				return
			}
		}
	}
}

// RaiseError delivers an uncaught error to every subscriber.
func (page *Page) RaiseError(event widget.ErrorEvent) {
	page.mutex.Lock()
	subscriptions := append([]errorSubscription(nil), page.errorHandlers...)
	page.mutex.Unlock()
	for _, subscription := range subscriptions {
		subscription.handler(event)
	}
}

// RejectPromise delivers an unhandled rejection to every subscriber.
func (page *Page) RejectPromise(reason any) {
	page.mutex.Lock()
	subscriptions := append([]rejectionSubscription(nil), page.rejections...)
	page.mutex.Unlock()
	for _, subscription := range subscriptions {
		subscription.handler(reason)
	}
}

func (page *Page) ColorScheme() widget.ColorSchemeSource {
	return page.colorScheme
}

// Scheme is the concrete color scheme, for driving preference changes.
func (page *Page) Scheme() *ColorScheme {
	return page.colorScheme
}

func (page *Page) Environment() widget.Environment {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	return page.environment
}

func (page *Page) SetEnvironment(environment widget.Environment) {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	page.environment = environment
}

func (page *Page) Document() widget.Document {
	return page
}

func (page *Page) HeadContains(tagName string, attributeName string, substring string) bool {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	for child := page.head.FirstChild; child != nil; child = child.NextSibling {
		if child.Type != html.ElementNode || !strings.EqualFold(child.Data, tagName) {
			continue
		}
		if value, present := attributeOf(child, attributeName); present && strings.Contains(value, substring) {
			return true
		}
	}
	return false
}

func (page *Page) AppendToHead(tagName string, attributes map[string]string, textContent string) {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	node := newElementNode(tagName)
	names := make([]string, 0, len(attributes))
	for name := range attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		node.Attr = append(node.Attr, html.Attribute{Key: name, Val: attributes[name]})
	}
	if textContent != "" {
		node.AppendChild(&html.Node{Type: html.TextNode, Data: textContent})
	}
	page.head.AppendChild(node)
}

// HeadElements counts the head children with the given tag name.
func (page *Page) HeadElements(tagName string) int {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	count := 0
	for child := page.head.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.ElementNode && strings.EqualFold(child.Data, tagName) {
			count++
		}
	}
	return count
}

func (page *Page) Body() widget.Element {
	return page.wrap(page.body)
}

func (page *Page) DocumentElement() widget.Element {
	return page.wrap(page.documentElement)
}

func (page *Page) CreateElement(tagName string) widget.Element {
	return page.wrap(newElementNode(tagName))
}

func (page *Page) ObserveAttribute(target widget.Element, attributeName string, callback func(value string, present bool)) func() {
	element, isElement := target.(*Element)
	if !isElement || element.page != page || callback == nil {
		return func() {}
	}
	page.mutex.Lock()
	defer page.mutex.Unlock()
	page.nextIdentifier++
	identifier := page.nextIdentifier
	page.observers = append(page.observers, attributeObserver{
		identifier:    identifier,
		target:        element.node,
		attributeName: attributeName,
		callback:      callback,
	})
	return func() {
		page.mutex.Lock()
		defer page.mutex.Unlock()
		for index, observer := range page.observers {
			if observer.identifier == identifier {
				page.observers = append(page.observers[:index], page.observers[index+1:]...)
				return
			}
		}
	}
}

// Focus moves focus to the attached element with the given id.
func (page *Page) Focus(elementID string) bool {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	if findByID(page.document, elementID) == nil {
		return false
	}
	page.focusedID = elementID
	return true
}

// FocusedID is the id of the element that last received focus.
func (page *Page) FocusedID() string {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	return page.focusedID
}

// ElementByID finds an attached element.
func (page *Page) ElementByID(elementID string) (*Element, bool) {
	page.mutex.Lock()
	node := findByID(page.document, elementID)
	page.mutex.Unlock()
	if node == nil {
		return nil, false
	}
	return page.wrap(node), true
}

// ElementsByClass lists attached elements carrying the class, in document order.
func (page *Page) ElementsByClass(className string) []*Element {
	page.mutex.Lock()
	var nodes []*html.Node
	walk(page.document, func(node *html.Node) {
		if node.Type == html.ElementNode && hasClassToken(node, className) {
			nodes = append(nodes, node)
		}
	})
	page.mutex.Unlock()
	elements := make([]*Element, 0, len(nodes))
	for _, node := range nodes {
		elements = append(elements, page.wrap(node))
	}
	return elements
}

// Serialize renders the whole document.
func (page *Page) Serialize() (string, error) {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	var buffer bytes.Buffer
	if renderErr := html.Render(&buffer, page.document); renderErr != nil {
		return "", fmt.Errorf("render document: %w", renderErr)
	}
	return buffer.String(), nil
}

func (page *Page) wrap(node *html.Node) *Element {
	return &Element{page: page, node: node}
}

// attributeChanged collects the observers of a change. Callers hold the mutex and
// invoke the returned notifications after releasing it.
func (page *Page) attributeChanged(node *html.Node, attributeName string) []func() {
	var notifications []func()
	value, present := attributeOf(node, attributeName)
	for _, observer := range page.observers {
		if observer.target == node && observer.attributeName == attributeName {
			callback := observer.callback
			notifications = append(notifications, func() { callback(value, present) })
		}
	}
	return notifications
}

func newElementNode(tagName string) *html.Node {
	lowered := strings.ToLower(tagName)
	return &html.Node{Type: html.ElementNode, Data: lowered, DataAtom: atom.Lookup([]byte(lowered))}
}

func findFirst(root *html.Node, target atom.Atom) *html.Node {
	var found *html.Node
	walk(root, func(node *html.Node) {
		if found == nil && node.Type == html.ElementNode && node.DataAtom == target {
			found = node
		}
	})
	return found
}

func findByID(root *html.Node, elementID string) *html.Node {
	if elementID == "" {
		return nil
	}
	var found *html.Node
	walk(root, func(node *html.Node) {
		if found != nil || node.Type != html.ElementNode {
			return
		}
		if value, present := attributeOf(node, attributeID); present && value == elementID {
			found = node
		}
	})
	return found
}

func walk(node *html.Node, visit func(*html.Node)) {
	visit(node)
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		walk(child, visit)
	}
}

func attributeOf(node *html.Node, attributeName string) (string, bool) {
	for _, attribute := range node.Attr {
		if attribute.Namespace == "" && attribute.Key == attributeName {
			return attribute.Val, true
		}
	}
	return "", false
}

func hasClassToken(node *html.Node, className string) bool {
	value, _ := attributeOf(node, attributeClass)
	for _, token := range strings.Fields(value) {
		if token == className {
			return true
		}
	}
	return false
}

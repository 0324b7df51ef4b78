package dom

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/widget"
)

// Element wraps one node of a Page.
type Element struct {
	page *Page
	node *html.Node
}

func (element *Element) TagName() string {
	return element.node.Data
}

func (element *Element) SetAttribute(name string, value string) {
	element.page.mutex.Lock()
	setAttribute(element.node, name, value)
	notifications := element.page.attributeChanged(element.node, name)
	element.page.mutex.Unlock()
	runAll(notifications)
}

func (element *Element) Attribute(name string) (string, bool) {
	element.page.mutex.Lock()
	defer element.page.mutex.Unlock()
	return attributeOf(element.node, name)
}

func (element *Element) RemoveAttribute(name string) {
	element.page.mutex.Lock()
	removed := removeAttribute(element.node, name)
	var notifications []func()
	if removed {
		notifications = element.page.attributeChanged(element.node, name)
	}
	element.page.mutex.Unlock()
	runAll(notifications)
}

func (element *Element) SetClass(className string, enabled bool) {
	element.page.mutex.Lock()
	current, _ := attributeOf(element.node, attributeClass)
	tokens := strings.Fields(current)
	updated := make([]string, 0, len(tokens)+1)
	for _, token := range tokens {
		if token != className {
			updated = append(updated, token)
		}
	}
	if enabled {
		updated = append(updated, className)
	}
	joined := strings.Join(updated, classListSeparator)
	var notifications []func()
	if joined != current {
		setAttribute(element.node, attributeClass, joined)
		notifications = element.page.attributeChanged(element.node, attributeClass)
	}
	element.page.mutex.Unlock()
	runAll(notifications)
}

func (element *Element) HasClass(className string) bool {
	element.page.mutex.Lock()
	defer element.page.mutex.Unlock()
	return hasClassToken(element.node, className)
}

func (element *Element) SetHidden(hidden bool) {
	if hidden {
		element.SetAttribute(attributeHidden, "")
		return
	}
	element.RemoveAttribute(attributeHidden)
}

func (element *Element) Hidden() bool {
	_, present := element.Attribute(attributeHidden)
	return present
}

func (element *Element) AppendChild(child widget.Element) {
	childElement, isElement := child.(*Element)
	if !isElement || childElement.page != element.page {
		return
	}
	element.page.mutex.Lock()
	defer element.page.mutex.Unlock()
	if childElement.node.Parent != nil {
		childElement.node.Parent.RemoveChild(childElement.node)
	}
	element.node.AppendChild(childElement.node)
}

func (element *Element) Remove() {
	element.page.mutex.Lock()
	defer element.page.mutex.Unlock()
	if element.node.Parent != nil {
		element.node.Parent.RemoveChild(element.node)
	}
}

// Contains reports whether other is this element or one of its descendants.
func (element *Element) Contains(other widget.Element) bool {
	otherElement, isElement := other.(*Element)
	if !isElement || otherElement.page != element.page {
		return false
	}
	element.page.mutex.Lock()
	defer element.page.mutex.Unlock()
	for node := otherElement.node; node != nil; node = node.Parent {
		if node == element.node {
			return true
		}
	}
	return false
}

// SetInnerHTML replaces the children with the parsed markup.
func (element *Element) SetInnerHTML(markup string) error {
	element.page.mutex.Lock()
	defer element.page.mutex.Unlock()
	if element.node.Type != html.ElementNode {
		return ErrDetachedElement
	}
	fragment, parseErr := html.ParseFragment(strings.NewReader(markup), element.node)
	if parseErr != nil {
		return fmt.Errorf("parse inner html: %w", parseErr)
	}
	for child := element.node.FirstChild; child != nil; child = element.node.FirstChild {
		element.node.RemoveChild(child)
	}
	for _, node := range fragment {
		element.node.AppendChild(node)
	}
	return nil
}

// InnerHTML renders the children of the element.
func (element *Element) InnerHTML() string {
	element.page.mutex.Lock()
	defer element.page.mutex.Unlock()
	var buffer bytes.Buffer
	for child := element.node.FirstChild; child != nil; child = child.NextSibling {
		_ = html.Render(&buffer, child)
	}
	return buffer.String()
}

// Text is the concatenated text content of the element.
func (element *Element) Text() string {
	element.page.mutex.Lock()
	defer element.page.mutex.Unlock()
	var builder strings.Builder
	walk(element.node, func(node *html.Node) {
		if node.Type == html.TextNode {
			builder.WriteString(node.Data)
		}
	})
	return builder.String()
}

// Attached reports whether the element is part of the page tree.
func (element *Element) Attached() bool {
	element.page.mutex.Lock()
	defer element.page.mutex.Unlock()
	for node := element.node; node != nil; node = node.Parent {
		if node == element.page.document {
			return true
		}
	}
	return false
}

func setAttribute(node *html.Node, name string, value string) {
	for index, attribute := range node.Attr {
		if attribute.Namespace == "" && attribute.Key == name {
			node.Attr[index].Val = value
			return
		}
	}
	node.Attr = append(node.Attr, html.Attribute{Key: name, Val: value})
}

func removeAttribute(node *html.Node, name string) bool {
	for index, attribute := range node.Attr {
		if attribute.Namespace == "" && attribute.Key == name {
			node.Attr = append(node.Attr[:index], node.Attr[index+1:]...)
			return true
		}
	}
	return false
}

func runAll(notifications []func()) {
	for _, notify := range notifications {
		notify()
	}
}

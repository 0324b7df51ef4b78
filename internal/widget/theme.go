package widget

import (
	"strings"
	"sync"
)

const (
	ThemeAttribute = "data-theme"
	darkThemeClass = "fw-dark"
)

// Theme is the derived widget theme.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// DeriveTheme merges the explicit document theme attribute with the OS preference.
// An explicit attribute always wins; without one the OS preference applies.
func DeriveTheme(attributeValue string, attributePresent bool, prefersDark bool) Theme {
	if attributePresent {
		switch strings.ToLower(strings.TrimSpace(attributeValue)) {
		case string(ThemeDark):
			return ThemeDark
		case string(ThemeLight):
			return ThemeLight
		}
	}
	if prefersDark {
		return ThemeDark
	}
	return ThemeLight
}

// ThemeSync keeps the widget root class in step with the two theme signals.
type ThemeSync struct {
	mutex            sync.Mutex
	target           Element
	attributeValue   string
	attributePresent bool
	prefersDark      bool
	current          Theme
	unsubscribes     []func()
}

// NewThemeSync reads both signals once and applies the derived theme to target.
func NewThemeSync(document Document, colorScheme ColorSchemeSource, target Element) *ThemeSync {
	themeSync := &ThemeSync{target: target}
	if document != nil {
		if documentElement := document.DocumentElement(); documentElement != nil {
			themeSync.attributeValue, themeSync.attributePresent = documentElement.Attribute(ThemeAttribute)
			themeSync.unsubscribes = append(themeSync.unsubscribes,
				document.ObserveAttribute(documentElement, ThemeAttribute, themeSync.AttributeChanged))
		}
	}
	if colorScheme != nil {
		themeSync.prefersDark = colorScheme.PrefersDark()
		themeSync.unsubscribes = append(themeSync.unsubscribes, colorScheme.Subscribe(themeSync.PreferenceChanged))
	}
	themeSync.apply()
	return themeSync
}

// AttributeChanged records a new value of the document theme attribute.
func (themeSync *ThemeSync) AttributeChanged(value string, present bool) {
	themeSync.mutex.Lock()
	themeSync.attributeValue = value
	themeSync.attributePresent = present
	themeSync.mutex.Unlock()
	themeSync.apply()
}

// PreferenceChanged records a new OS color-scheme preference.
func (themeSync *ThemeSync) PreferenceChanged(prefersDark bool) {
	themeSync.mutex.Lock()
	themeSync.prefersDark = prefersDark
	themeSync.mutex.Unlock()
	themeSync.apply()
}

func (themeSync *ThemeSync) Current() Theme {
	themeSync.mutex.Lock()
	defer themeSync.mutex.Unlock()
	return themeSync.current
}

// Stop removes both subscriptions.
func (themeSync *ThemeSync) Stop() {
	themeSync.mutex.Lock()
	unsubscribes := themeSync.unsubscribes
	themeSync.unsubscribes = nil
	themeSync.mutex.Unlock()
	for _, unsubscribe := range unsubscribes {
		if unsubscribe != nil {
			unsubscribe()
		}
	}
}

func (themeSync *ThemeSync) apply() {
	themeSync.mutex.Lock()
	theme := DeriveTheme(themeSync.attributeValue, themeSync.attributePresent, themeSync.prefersDark)
	themeSync.current = theme
	target := themeSync.target
	themeSync.mutex.Unlock()
	if target != nil {
		target.SetClass(darkThemeClass, theme == ThemeDark)
	}
}

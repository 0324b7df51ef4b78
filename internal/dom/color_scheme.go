package dom

import "sync"

// ColorScheme is a settable prefers-color-scheme source.
type ColorScheme struct {
	mutex          sync.Mutex
	prefersDark    bool
	subscribers    map[uint64]func(bool)
	nextIdentifier uint64
}

func NewColorScheme(prefersDark bool) *ColorScheme {
	return &ColorScheme{prefersDark: prefersDark, subscribers: map[uint64]func(bool){}}
}

func (colorScheme *ColorScheme) PrefersDark() bool {
	colorScheme.mutex.Lock()
	defer colorScheme.mutex.Unlock()
	return colorScheme.prefersDark
}

func (colorScheme *ColorScheme) Subscribe(callback func(prefersDark bool)) func() {
	colorScheme.mutex.Lock()
	defer colorScheme.mutex.Unlock()
	colorScheme.nextIdentifier++
	identifier := colorScheme.nextIdentifier
	colorScheme.subscribers[identifier] = callback
	return func() {
		colorScheme.mutex.Lock()
		defer colorScheme.mutex.Unlock()
		delete(colorScheme.subscribers, identifier)
	}
}

// SetPrefersDark changes the preference and notifies subscribers when it differs.
func (colorScheme *ColorScheme) SetPrefersDark(prefersDark bool) {
	colorScheme.mutex.Lock()
	if colorScheme.prefersDark == prefersDark {
		colorScheme.mutex.Unlock()
		return
	}
	colorScheme.prefersDark = prefersDark
	callbacks := make([]func(bool), 0, len(colorScheme.subscribers))
	for _, callback := range colorScheme.subscribers {
		callbacks = append(callbacks, callback)
	}
	colorScheme.mutex.Unlock()
	for _, callback := range callbacks {
		callback(prefersDark)
	}
}

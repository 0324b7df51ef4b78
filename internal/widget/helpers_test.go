package widget_test

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/dom"
	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/widget"
)

const (
	testPageURL       = "https://shop.example.com/checkout?step=2"
	testDesktopAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
	testDraftMessage  = "  The pay button does nothing  "
	testTrimmedDraft  = "The pay button does nothing"
	testContactEmail  = "shopper@example.com"
	testPageMarkup    = `<!DOCTYPE html><html><head><title>Checkout</title></head><body><main id="content">Cart</main></body></html>`
	testRendererWidth = 40
)

var testEpoch = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

var errRendererUnavailable = errors.New("renderer script blocked")

type manualTimer struct {
	clock    *manualClock
	fireAt   time.Time
	callback func()
	stopped  bool
	fired    bool
}

func (timer *manualTimer) Stop() bool {
	timer.clock.mutex.Lock()
	defer timer.clock.mutex.Unlock()
	if timer.stopped || timer.fired {
		return false
	}
	timer.stopped = true
	return true
}

// manualClock only moves when Advance is called; due timers fire synchronously.
type manualClock struct {
	mutex  sync.Mutex
	now    time.Time
	timers []*manualTimer
}

func newManualClock() *manualClock {
	return &manualClock{now: testEpoch}
}

func (clock *manualClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	return clock.now
}

func (clock *manualClock) AfterFunc(delay time.Duration, callback func()) widget.Timer {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	timer := &manualTimer{clock: clock, fireAt: clock.now.Add(delay), callback: callback}
	clock.timers = append(clock.timers, timer)
	return timer
}

func (clock *manualClock) Advance(delay time.Duration) {
	clock.mutex.Lock()
	clock.now = clock.now.Add(delay)
	var due []*manualTimer
	for _, timer := range clock.timers {
		if !timer.stopped && !timer.fired && !timer.fireAt.After(clock.now) {
			timer.fired = true
			due = append(due, timer)
		}
	}
	clock.mutex.Unlock()
	sort.SliceStable(due, func(left, right int) bool { return due[left].fireAt.Before(due[right].fireAt) })
	for _, timer := range due {
		timer.callback()
	}
}

func (clock *manualClock) Pending() int {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	pending := 0
	for _, timer := range clock.timers {
		if !timer.stopped && !timer.fired {
			pending++
		}
	}
	return pending
}

type recordingTransport struct {
	mutex    sync.Mutex
	payloads []widget.SubmissionPayload
	response widget.TransportResponse
	err      error
	gate     chan struct{}
	entered  chan struct{}
}

func newRecordingTransport(statusCode int) *recordingTransport {
	return &recordingTransport{response: widget.TransportResponse{StatusCode: statusCode}}
}

func (transport *recordingTransport) Send(ctx context.Context, payload widget.SubmissionPayload) (widget.TransportResponse, error) {
	transport.mutex.Lock()
	transport.payloads = append(transport.payloads, payload)
	gate := transport.gate
	entered := transport.entered
	response := transport.response
	sendErr := transport.err
	transport.mutex.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return widget.TransportResponse{}, ctx.Err()
		}
	}
	return response, sendErr
}

func (transport *recordingTransport) Calls() int {
	transport.mutex.Lock()
	defer transport.mutex.Unlock()
	return len(transport.payloads)
}

func (transport *recordingTransport) LastPayload() widget.SubmissionPayload {
	transport.mutex.Lock()
	defer transport.mutex.Unlock()
	return transport.payloads[len(transport.payloads)-1]
}

type solidRenderer struct{}

func (solidRenderer) Capture(context.Context) (image.Image, error) {
	canvas := image.NewRGBA(image.Rect(0, 0, testRendererWidth, testRendererWidth/2))
	for x := 0; x < testRendererWidth; x++ {
		for y := 0; y < testRendererWidth/2; y++ {
			canvas.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	return canvas, nil
}

type runtimeFixture struct {
	page      *dom.Page
	clock     *manualClock
	transport *recordingTransport
	runtime   *widget.Runtime
}

type fixtureOptions struct {
	attributes     widget.Attributes
	rendererLoader widget.RendererLoadFunc
	statusCode     int
}

func newRuntimeFixture(testingT *testing.T, options fixtureOptions) runtimeFixture {
	testingT.Helper()
	page, pageErr := dom.NewPage(dom.PageInput{
		Markup: testPageMarkup,
		Environment: widget.Environment{
			UserAgent:      testDesktopAgent,
			URL:            testPageURL,
			Language:       "en-US",
			Timezone:       "Europe/Berlin",
			ViewportWidth:  1280,
			ViewportHeight: 720,
			ScreenWidth:    1920,
			ScreenHeight:   1080,
			PixelRatio:     2,
		},
	})
	require.NoError(testingT, pageErr)

	attributes := options.attributes
	if attributes == nil {
		attributes = widget.Attributes{widget.AttributeSource: "shop"}
	}
	statusCode := options.statusCode
	if statusCode == 0 {
		statusCode = 201
	}
	clock := newManualClock()
	transport := newRecordingTransport(statusCode)
	runtime := widget.NewRuntime(widget.ResolveConfig(attributes, testPageURL), widget.Dependencies{
		Host:           page,
		Transport:      transport,
		RendererLoader: options.rendererLoader,
		Clock:          clock,
	})
	require.True(testingT, runtime.Init())
	return runtimeFixture{page: page, clock: clock, transport: transport, runtime: runtime}
}

// openMessageStep opens the widget, picks the first category and types the draft.
func (fixture runtimeFixture) openMessageStep(testingT *testing.T, message string) {
	testingT.Helper()
	fixture.runtime.Open()
	firstCategory := fixture.runtime.Config().Categories[0].Value
	require.NoError(testingT, fixture.runtime.SelectCategory(firstCategory))
	fixture.runtime.SetMessage(message)
}

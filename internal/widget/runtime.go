package widget

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// KeyEscape is the key name that dismisses the widget.
const KeyEscape = "Escape"

// Dependencies are the collaborators a Runtime is wired to.
type Dependencies struct {
	Host           Host
	Transport      Transport
	RendererLoader RendererLoadFunc
	Clock          Clock
	Logger         *zap.Logger
}

// Runtime is the single widget instance of a page. It owns the page guard, the error
// ring, the DOM subtree and the timers. All methods are safe for concurrent use and
// never panic into the caller.
type Runtime struct {
	mutex         sync.Mutex
	configuration Config
	host          Host
	clock         Clock
	logger        *zap.Logger

	diagnostics *Diagnostics
	throttler   *Throttler
	capability  *CapabilityLoader
	screenshots *ScreenshotPipeline
	submissions *SubmissionPipeline

	shell *Shell
	theme *ThemeSync

	state  State
	draft  Draft
	notice NoticeKind

	attemptToken        uint64
	autoCloseTimer      Timer
	autoCloseGeneration uint64
	resetTimer          Timer
	resetGeneration     uint64

	initialized bool
	tornDown    bool
}

// NewRuntime wires a runtime. Nothing touches the host until Init.
func NewRuntime(configuration Config, dependencies Dependencies) *Runtime {
	clock := dependencies.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	capability := NewCapabilityLoader(dependencies.RendererLoader)
	return &Runtime{
		configuration: configuration,
		host:          dependencies.Host,
		clock:         clock,
		logger:        logger,
		diagnostics:   NewDiagnostics(NewErrorRing(DefaultErrorCapacity), clock, logger),
		throttler:     NewThrottler(configuration.Throttle, clock),
		capability:    capability,
		screenshots:   NewScreenshotPipeline(capability, configuration.Screenshot, logger),
		submissions:   NewSubmissionPipeline(configuration, dependencies.Transport),
		state:         InitialState(),
	}
}

// Init claims the page guard, installs diagnostics, builds the scaffold, starts theme
// sync and exposes the host API. It returns false when another initialisation already
// owns the page; repeated calls on an initialised runtime return true and do nothing.
func (runtime *Runtime) Init() (initialized bool) {
	defer runtime.protect("init")
	runtime.mutex.Lock()
	defer runtime.mutex.Unlock()

	if runtime.initialized {
		return true
	}
	if runtime.tornDown || runtime.host == nil {
		return false
	}
	if !runtime.host.ClaimGlobal(GuardKey) {
		runtime.logger.Debug("widget_already_initialized")
		return false
	}

	runtime.diagnostics.Install(runtime.host)

	document := runtime.host.Document()
	if injectErr := InjectAssets(document, runtime.configuration); injectErr != nil {
		runtime.logger.Warn("widget_assets_failed", zap.Error(injectErr))
	}
	runtime.shell = BuildShell(document)
	runtime.theme = NewThemeSync(document, runtime.host.ColorScheme(), runtime.shell.Root)
	runtime.render()

	runtime.host.ExposeGlobal(GlobalAPIKey, API{Open: runtime.Open, Close: runtime.Close})
	runtime.initialized = true
	return true
}

// Teardown stops timers and subscriptions and removes the widget subtree. The page
// guard stays claimed for the lifetime of the page.
func (runtime *Runtime) Teardown() {
	defer runtime.protect("teardown")
	runtime.mutex.Lock()
	defer runtime.mutex.Unlock()
	if !runtime.initialized {
		return
	}
	runtime.cancelAutoClose()
	runtime.cancelReset()
	runtime.attemptToken++
	if runtime.theme != nil {
		runtime.theme.Stop()
	}
	runtime.diagnostics.Uninstall()
	runtime.shell.remove()
	runtime.initialized = false
	runtime.tornDown = true
}

func (runtime *Runtime) Open() {
	defer runtime.protect("open")
	runtime.mutex.Lock()
	defer runtime.mutex.Unlock()
	runtime.openLocked()
}

func (runtime *Runtime) Close() {
	defer runtime.protect("close")
	runtime.mutex.Lock()
	defer runtime.mutex.Unlock()
	runtime.closeLocked()
}

// Toggle is the trigger click.
func (runtime *Runtime) Toggle() {
	defer runtime.protect("toggle")
	runtime.mutex.Lock()
	defer runtime.mutex.Unlock()
	if runtime.state.Open {
		runtime.closeLocked()
		return
	}
	runtime.openLocked()
}

// SelectCategory moves from category selection to message entry and focuses the
// message field.
func (runtime *Runtime) SelectCategory(value string) (selectErr error) {
	defer runtime.protect("select_category")
	runtime.mutex.Lock()
	defer runtime.mutex.Unlock()
	if !runtime.initialized || !runtime.state.Open || runtime.state.Step != StepCategory {
		return ErrNotReady
	}
	if _, found := runtime.configuration.CategoryByValue(value); !found {
		return ErrUnknownCategory
	}
	runtime.state.Category = value
	runtime.state.Step = StepMessage
	runtime.notice = NoticeNone
	runtime.render()
	runtime.focusMessage()
	return nil
}

// Back returns to category selection. The drafted message is discarded.
func (runtime *Runtime) Back() {
	defer runtime.protect("back")
	runtime.mutex.Lock()
	defer runtime.mutex.Unlock()
	if !runtime.initialized || !runtime.state.Open || runtime.state.Step != StepMessage || runtime.state.Status == StatusSending {
		return
	}
	runtime.state.Step = StepCategory
	runtime.state.Status = StatusIdle
	runtime.draft = Draft{}
	runtime.notice = NoticeNone
	runtime.render()
}

// SetMessage records the message field content.
func (runtime *Runtime) SetMessage(message string) {
	runtime.updateDraft("set_message", func(draft *Draft) { draft.Message = message })
}

// SetEmail records the optional email field content.
func (runtime *Runtime) SetEmail(email string) {
	runtime.updateDraft("set_email", func(draft *Draft) { draft.Email = email })
}

// SetScreenshot records the screenshot opt-in checkbox.
func (runtime *Runtime) SetScreenshot(enabled bool) {
	runtime.updateDraft("set_screenshot", func(draft *Draft) { draft.Screenshot = enabled })
}

func (runtime *Runtime) updateDraft(operation string, mutate func(*Draft)) {
	defer runtime.protect(operation)
	runtime.mutex.Lock()
	defer runtime.mutex.Unlock()
	if !runtime.initialized || !runtime.state.Open || runtime.state.Step != StepMessage {
		return
	}
	mutate(&runtime.draft)
	runtime.render()
	runtime.focusMessage()
}

// KeyDown handles a document key press.
func (runtime *Runtime) KeyDown(key string) {
	if key != KeyEscape {
		return
	}
	runtime.Close()
}

// PointerDown closes the widget when the pointer lands outside the root, the backdrop
// included.
func (runtime *Runtime) PointerDown(target Element) {
	defer runtime.protect("pointer_down")
	runtime.mutex.Lock()
	defer runtime.mutex.Unlock()
	if !runtime.state.Open || runtime.shell.ContainsTarget(target) {
		return
	}
	runtime.closeLocked()
}

// Submit validates the draft, consults the throttler, optionally captures a
// screenshot and sends the payload once. A response that arrives after the panel was
// closed or a newer attempt began is discarded with ErrStaleAttempt. A panic anywhere
// in the attempt ends it with ErrSubmissionUnavailable and the error phase.
func (runtime *Runtime) Submit(ctx context.Context) (submitErr error) {
	defer runtime.protect("submit")
	var attemptToken uint64
	defer func() {
		if recovered := recover(); recovered != nil {
			runtime.logger.Error("widget_operation_panic", zap.String("operation", "submit"), zap.Any("panic", recovered))
			submitErr = ErrSubmissionUnavailable
			runtime.abandonAttempt(attemptToken)
		}
	}()

	var draft Draft
	var category string
	var shell *Shell
	if beginErr := func() error {
		runtime.mutex.Lock()
		defer runtime.mutex.Unlock()
		if !runtime.initialized || !runtime.state.Open || runtime.state.Step != StepMessage ||
			runtime.state.Status == StatusSending || runtime.state.Status == StatusSuccess {
			return ErrNotReady
		}
		if !CanSubmit(runtime.state, runtime.draft) {
			return ErrEmptyMessage
		}
		if allowed, remaining := runtime.throttler.Begin(); !allowed {
			runtime.notice = NoticeThrottled
			runtime.render()
			runtime.logger.Debug("submission_throttled", zap.Duration("remaining", remaining))
			return ErrThrottled
		}
		runtime.attemptToken++
		attemptToken = runtime.attemptToken
		runtime.state.Status = StatusSending
		runtime.state.LastSubmitAt = runtime.throttler.LastAttempt()
		runtime.notice = NoticeNone
		draft = runtime.draft
		category = runtime.state.Category
		shell = runtime.shell
		runtime.render()
		return nil
	}(); beginErr != nil {
		return beginErr
	}

	input := SubmissionInput{
		Category:      category,
		Message:       draft.Message,
		Email:         draft.Email,
		Metadata:      CollectMetadata(runtime.host.Environment()),
		ConsoleErrors: runtime.diagnostics.Ring().Snapshot(),
		Timestamp:     runtime.clock.Now(),
	}
	if draft.Screenshot {
		input.Screenshot, input.HasScreenshot = runtime.screenshots.Capture(ctx, shell)
	}

	payload, assembleErr := runtime.submissions.Assemble(input)
	sendErr := assembleErr
	if assembleErr == nil {
		sendErr = runtime.submissions.Send(ctx, payload)
	}

	runtime.mutex.Lock()
	defer runtime.mutex.Unlock()
	if attemptToken != runtime.attemptToken || !runtime.state.Open {
		runtime.logger.Debug("submission_response_discarded", zap.Uint64("attempt", attemptToken))
		return ErrStaleAttempt
	}
	if sendErr != nil {
		runtime.logger.Warn("submission_failed", zap.Error(sendErr))
		runtime.state.Status = StatusError
		runtime.notice = NoticeForError(sendErr)
		runtime.render()
		return sendErr
	}
	runtime.state.Status = StatusSuccess
	runtime.draft = Draft{}
	runtime.notice = NoticeNone
	runtime.render()
	runtime.scheduleAutoClose()
	return nil
}

// abandonAttempt moves a sending attempt that can no longer finish into the error
// phase. Attempts superseded by a close or a newer submit are left alone.
func (runtime *Runtime) abandonAttempt(attemptToken uint64) {
	runtime.mutex.Lock()
	defer runtime.mutex.Unlock()
	if attemptToken == 0 || attemptToken != runtime.attemptToken || runtime.state.Status != StatusSending {
		return
	}
	runtime.state.Status = StatusError
	runtime.notice = NoticeFailed
	runtime.render()
}

func (runtime *Runtime) State() State {
	runtime.mutex.Lock()
	defer runtime.mutex.Unlock()
	return runtime.state
}

func (runtime *Runtime) Draft() Draft {
	runtime.mutex.Lock()
	defer runtime.mutex.Unlock()
	return runtime.draft
}

func (runtime *Runtime) Notice() NoticeKind {
	runtime.mutex.Lock()
	defer runtime.mutex.Unlock()
	return runtime.notice
}

// View is the current projection of the runtime state.
func (runtime *Runtime) View() View {
	runtime.mutex.Lock()
	defer runtime.mutex.Unlock()
	return Project(runtime.configuration, runtime.state, runtime.draft, runtime.notice)
}

func (runtime *Runtime) Config() Config {
	return runtime.configuration
}

func (runtime *Runtime) Shell() *Shell {
	runtime.mutex.Lock()
	defer runtime.mutex.Unlock()
	return runtime.shell
}

func (runtime *Runtime) Diagnostics() *Diagnostics {
	return runtime.diagnostics
}

func (runtime *Runtime) Theme() Theme {
	runtime.mutex.Lock()
	themeSync := runtime.theme
	runtime.mutex.Unlock()
	if themeSync == nil {
		return ThemeLight
	}
	return themeSync.Current()
}

func (runtime *Runtime) openLocked() {
	if !runtime.initialized || runtime.state.Open {
		return
	}
	runtime.cancelReset()
	runtime.resetLocked()
	runtime.state.Open = true
	runtime.render()
}

func (runtime *Runtime) closeLocked() {
	if !runtime.initialized || !runtime.state.Open {
		return
	}
	runtime.cancelAutoClose()
	runtime.state.Open = false
	runtime.attemptToken++
	runtime.render()
	runtime.scheduleReset()
}

func (runtime *Runtime) resetLocked() {
	lastSubmitAt := runtime.state.LastSubmitAt
	runtime.state = InitialState()
	runtime.state.LastSubmitAt = lastSubmitAt
	runtime.draft = Draft{}
	runtime.notice = NoticeNone
}

func (runtime *Runtime) scheduleAutoClose() {
	runtime.cancelAutoClose()
	generation := runtime.autoCloseGeneration
	runtime.autoCloseTimer = runtime.clock.AfterFunc(runtime.configuration.AutoCloseDelay, func() {
		runtime.autoCloseFired(generation)
	})
}

func (runtime *Runtime) autoCloseFired(generation uint64) {
	defer runtime.protect("auto_close")
	runtime.mutex.Lock()
	defer runtime.mutex.Unlock()
	if generation != runtime.autoCloseGeneration || runtime.state.Status != StatusSuccess {
		return
	}
	runtime.autoCloseTimer = nil
	runtime.closeLocked()
}

func (runtime *Runtime) cancelAutoClose() {
	runtime.autoCloseGeneration++
	if runtime.autoCloseTimer != nil {
		runtime.autoCloseTimer.Stop()
		runtime.autoCloseTimer = nil
	}
}

func (runtime *Runtime) scheduleReset() {
	runtime.cancelReset()
	generation := runtime.resetGeneration
	runtime.resetTimer = runtime.clock.AfterFunc(runtime.configuration.ResetDelay, func() {
		runtime.resetFired(generation)
	})
}

func (runtime *Runtime) resetFired(generation uint64) {
	defer runtime.protect("reset")
	runtime.mutex.Lock()
	defer runtime.mutex.Unlock()
	if generation != runtime.resetGeneration || runtime.state.Open || !runtime.initialized {
		return
	}
	runtime.resetTimer = nil
	runtime.resetLocked()
	runtime.render()
}

func (runtime *Runtime) cancelReset() {
	runtime.resetGeneration++
	if runtime.resetTimer != nil {
		runtime.resetTimer.Stop()
		runtime.resetTimer = nil
	}
}

func (runtime *Runtime) render() {
	if runtime.shell == nil {
		return
	}
	view := Project(runtime.configuration, runtime.state, runtime.draft, runtime.notice)
	runtime.shell.SetOpen(view.PanelOpen)

	panelMarkup, panelErr := RenderPanel(view)
	if panelErr != nil {
		runtime.logger.Warn("render_panel_failed", zap.Error(panelErr))
	} else if setErr := runtime.shell.Panel.SetInnerHTML(panelMarkup); setErr != nil {
		runtime.logger.Warn("mount_panel_failed", zap.Error(setErr))
	}

	triggerMarkup, triggerErr := RenderTrigger(view)
	if triggerErr != nil {
		runtime.logger.Warn("render_trigger_failed", zap.Error(triggerErr))
	} else if setErr := runtime.shell.Trigger.SetInnerHTML(triggerMarkup); setErr != nil {
		runtime.logger.Warn("mount_trigger_failed", zap.Error(setErr))
	}
}

func (runtime *Runtime) focusMessage() {
	if !runtime.host.Document().Focus(MessageFieldID) {
		runtime.logger.Debug("focus_message_failed")
	}
}

func (runtime *Runtime) protect(operation string) {
	if recovered := recover(); recovered != nil {
		runtime.logger.Error("widget_operation_panic", zap.String("operation", operation), zap.Any("panic", recovered))
	}
}

package screenshot

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/widget"
)

const (
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 720
	browserStartupTimeout = 30 * time.Second
	blankPageURL          = "about:blank"
	htmlDataURLPrefix     = "data:text/html;base64,"
	captureQuality        = 100

	environmentChromedpBrowser = "CHROMEDP_BROWSER"
	environmentChromePath      = "CHROME_PATH"
)

var (
	ErrBrowserNotFound = errors.New("headless browser executable not found")
	ErrMissingPage     = errors.New("missing page serializer")
)

var browserExecutableNames = []string{
	"chromium",
	"chromium-browser",
	"google-chrome",
	"google-chrome-stable",
	"chrome",
	"headless-shell",
}

// PageSerializer produces the markup to render.
type PageSerializer interface {
	Serialize() (string, error)
}

// LoaderConfig configures the headless browser backing screenshot capture.
type LoaderConfig struct {
	Page           PageSerializer
	ExecutablePath string
	ViewportWidth  int64
	ViewportHeight int64
	Logger         *zap.Logger
}

// BrowserRenderer renders a page in headless Chrome.
type BrowserRenderer struct {
	page           PageSerializer
	browserContext context.Context
	cancelBrowser  context.CancelFunc
	cancelAlloc    context.CancelFunc
	viewportWidth  int64
	viewportHeight int64
	logger         *zap.Logger
	closeOnce      sync.Once
}

// NewLoader returns the lazy capability loader. The browser starts on first use.
func NewLoader(configuration LoaderConfig) widget.RendererLoadFunc {
	return func(ctx context.Context) (widget.Renderer, error) {
		return Launch(ctx, configuration)
	}
}

// Launch starts the browser and verifies it responds.
func Launch(ctx context.Context, configuration LoaderConfig) (*BrowserRenderer, error) {
	if configuration.Page == nil {
		return nil, ErrMissingPage
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	executablePath := configuration.ExecutablePath
	if executablePath == "" {
		located, locateErr := LocateBrowser()
		if locateErr != nil {
			return nil, locateErr
		}
		executablePath = located
	}

	allocatorOptions := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(executablePath),
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
	)
	allocatorContext, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocatorOptions...)
	browserContext, cancelBrowser := chromedp.NewContext(allocatorContext)

	startupContext, cancelStartup := context.WithTimeout(browserContext, browserStartupTimeout)
	defer cancelStartup()
	stopWatch := context.AfterFunc(ctx, cancelStartup)
	defer stopWatch()
	if runErr := chromedp.Run(startupContext, chromedp.Navigate(blankPageURL)); runErr != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("browser failed to start: %w", runErr)
	}
	logger.Info("screenshot_browser_started", zap.String("executable", executablePath))

	renderer := &BrowserRenderer{
		page:           configuration.Page,
		browserContext: browserContext,
		cancelBrowser:  cancelBrowser,
		cancelAlloc:    cancelAlloc,
		viewportWidth:  configuration.ViewportWidth,
		viewportHeight: configuration.ViewportHeight,
		logger:         logger,
	}
	if renderer.viewportWidth <= 0 {
		renderer.viewportWidth = DefaultViewportWidth
	}
	if renderer.viewportHeight <= 0 {
		renderer.viewportHeight = DefaultViewportHeight
	}
	return renderer, nil
}

// Capture renders the current page markup in a fresh tab and returns the full-page image.
func (renderer *BrowserRenderer) Capture(ctx context.Context) (image.Image, error) {
	markup, serializeErr := renderer.page.Serialize()
	if serializeErr != nil {
		return nil, fmt.Errorf("serialize page: %w", serializeErr)
	}

	tabContext, cancelTab := chromedp.NewContext(renderer.browserContext)
	defer cancelTab()
	stopWatch := context.AfterFunc(ctx, cancelTab)
	defer stopWatch()

	var captured []byte
	runErr := chromedp.Run(tabContext,
		emulation.SetDeviceMetricsOverride(renderer.viewportWidth, renderer.viewportHeight, 1, false),
		chromedp.Navigate(htmlDataURLPrefix+base64.StdEncoding.EncodeToString([]byte(markup))),
		chromedp.FullScreenshot(&captured, captureQuality),
	)
	if runErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("capture page: %w", runErr)
	}
	decoded, _, decodeErr := image.Decode(bytes.NewReader(captured))
	if decodeErr != nil {
		return nil, fmt.Errorf("decode capture: %w", decodeErr)
	}
	return decoded, nil
}

// Close stops the browser.
func (renderer *BrowserRenderer) Close() {
	renderer.closeOnce.Do(func() {
		renderer.cancelBrowser()
		renderer.cancelAlloc()
	})
}

// LocateBrowser finds a Chrome or Chromium executable.
func LocateBrowser() (string, error) {
	for _, variable := range []string{environmentChromedpBrowser, environmentChromePath} {
		if candidate := strings.TrimSpace(os.Getenv(variable)); candidate != "" {
			if _, statErr := os.Stat(candidate); statErr == nil {
				return candidate, nil
			}
		}
	}
	for _, executableName := range browserExecutableNames {
		if located, lookErr := exec.LookPath(executableName); lookErr == nil {
			return located, nil
		}
	}
	return "", ErrBrowserNotFound
}

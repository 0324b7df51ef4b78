package widget

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

const (
	DefaultScreenshotScale   = 0.5
	DefaultScreenshotQuality = 60
	DefaultScreenshotTimeout = 15 * time.Second

	// JPEGDataURLPrefix starts every screenshot produced by the pipeline.
	JPEGDataURLPrefix = "data:image/jpeg;base64,"
)

// ErrEmptyCapture is returned when the renderer produced an empty image.
var ErrEmptyCapture = errors.New("widget: empty screenshot capture")

// ScreenshotOptions controls the downscale factor, JPEG quality and time bound.
type ScreenshotOptions struct {
	Scale   float64
	Quality int
	Timeout time.Duration
}

func DefaultScreenshotOptions() ScreenshotOptions {
	return ScreenshotOptions{
		Scale:   DefaultScreenshotScale,
		Quality: DefaultScreenshotQuality,
		Timeout: DefaultScreenshotTimeout,
	}
}

func (options ScreenshotOptions) normalized() ScreenshotOptions {
	if options.Scale <= 0 || options.Scale > 1 {
		options.Scale = DefaultScreenshotScale
	}
	if options.Quality < 1 || options.Quality > 100 {
		options.Quality = DefaultScreenshotQuality
	}
	if options.Timeout <= 0 {
		options.Timeout = DefaultScreenshotTimeout
	}
	return options
}

// ScreenshotPipeline captures the host page without the widget in it.
type ScreenshotPipeline struct {
	loader  *CapabilityLoader
	options ScreenshotOptions
	logger  *zap.Logger
}

func NewScreenshotPipeline(loader *CapabilityLoader, options ScreenshotOptions, logger *zap.Logger) *ScreenshotPipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScreenshotPipeline{loader: loader, options: options.normalized(), logger: logger}
}

// Capture returns a JPEG data URL, or false when capture failed for any reason.
// The shell is hidden for the duration and always restored.
func (pipeline *ScreenshotPipeline) Capture(ctx context.Context, shell *Shell) (string, bool) {
	dataURL, captureErr := pipeline.capture(ctx, shell)
	if captureErr != nil {
		pipeline.logger.Warn("screenshot_capture_failed", zap.Error(captureErr))
		return "", false
	}
	return dataURL, true
}

func (pipeline *ScreenshotPipeline) capture(ctx context.Context, shell *Shell) (dataURL string, captureErr error) {
	shell.SetVisible(false)
	defer shell.SetVisible(true)
	defer func() {
		if recovered := recover(); recovered != nil {
			captureErr = fmt.Errorf("screenshot capture panic: %v", recovered)
		}
	}()

	boundedContext, cancel := context.WithTimeout(ctx, pipeline.options.Timeout)
	defer cancel()

	renderer, loadErr := pipeline.loader.Get(boundedContext)
	if loadErr != nil {
		return "", fmt.Errorf("load screenshot capability: %w", loadErr)
	}
	captured, renderErr := renderer.Capture(boundedContext)
	if renderErr != nil {
		return "", fmt.Errorf("render page: %w", renderErr)
	}
	return EncodeScreenshot(captured, pipeline.options)
}

// EncodeScreenshot downscales an image and encodes it as a JPEG data URL.
func EncodeScreenshot(captured image.Image, options ScreenshotOptions) (string, error) {
	if captured == nil || captured.Bounds().Empty() {
		return "", ErrEmptyCapture
	}
	options = options.normalized()
	bounds := captured.Bounds()
	targetWidth := int(float64(bounds.Dx()) * options.Scale)
	if targetWidth < 1 {
		targetWidth = 1
	}
	scaled := imaging.Resize(captured, targetWidth, 0, imaging.Lanczos)

	var buffer bytes.Buffer
	if encodeErr := imaging.Encode(&buffer, scaled, imaging.JPEG, imaging.JPEGQuality(options.Quality)); encodeErr != nil {
		return "", fmt.Errorf("encode jpeg: %w", encodeErr)
	}
	return JPEGDataURLPrefix + base64.StdEncoding.EncodeToString(buffer.Bytes()), nil
}

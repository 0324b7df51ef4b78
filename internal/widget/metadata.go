package widget

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	BrowserUnknown = "Unknown"
	OSUnknown      = "Unknown"

	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"

	tabletMinimumShortSide = 600
	dimensionFormat        = "%dx%d"
)

// Environment is a point-in-time read of the host browser signals.
type Environment struct {
	UserAgent      string
	URL            string
	Referrer       string
	Language       string
	Timezone       string
	ConnectionType string
	ViewportWidth  int
	ViewportHeight int
	ScreenWidth    int
	ScreenHeight   int
	PixelRatio     float64
	MaxTouchPoints int
	TouchEvents    bool
}

// MetadataSnapshot is the device/browser metadata attached to a submission.
type MetadataSnapshot struct {
	Browser     string  `json:"browser"`
	OS          string  `json:"os"`
	DeviceType  string  `json:"device_type"`
	Viewport    string  `json:"viewport"`
	Screen      string  `json:"screen"`
	PixelRatio  float64 `json:"pixel_ratio"`
	Language    string  `json:"language"`
	Timezone    string  `json:"timezone"`
	Referrer    string  `json:"referrer"`
	Connection  string  `json:"connection"`
	Touch       bool    `json:"touch"`
	TouchPoints int     `json:"max_touch_points"`
	URL         string  `json:"url"`
}

type browserRule struct {
	marker         string
	family         string
	versionPattern *regexp.Regexp
}

type osRule struct {
	matches func(userAgent string) bool
	family  string
}

// Order matters: Edge and Chrome identifiers also contain "Chrome/" and "Safari/".
var browserRules = []browserRule{
	{marker: "Firefox/", family: "Firefox", versionPattern: regexp.MustCompile(`Firefox/(\d+)`)},
	{marker: "Edg/", family: "Edge", versionPattern: regexp.MustCompile(`Edg/(\d+)`)},
	{marker: "Chrome/", family: "Chrome", versionPattern: regexp.MustCompile(`Chrome/(\d+)`)},
	{marker: "Safari/", family: "Safari", versionPattern: regexp.MustCompile(`Version/(\d+)`)},
}

var iosPattern = regexp.MustCompile(`iPhone|iPad|iPod`)

// iOS user agents say "like Mac OS X" and Android ones say "Linux", so the specific
// platforms are checked before the generic ones.
var osRules = []osRule{
	{matches: containsFunc("Windows"), family: "Windows"},
	{matches: iosPattern.MatchString, family: "iOS"},
	{matches: containsFunc("Mac OS"), family: "macOS"},
	{matches: containsFunc("Android"), family: "Android"},
	{matches: containsFunc("Linux"), family: "Linux"},
}

var (
	mobilePattern = regexp.MustCompile(`(?i)Mobi|Android`)
	tabletPattern = regexp.MustCompile(`(?i)Tablet|iPad`)
)

func containsFunc(marker string) func(string) bool {
	return func(userAgent string) bool {
		return strings.Contains(userAgent, marker)
	}
}

// DetectBrowser returns "<family> <major>" or "Unknown".
func DetectBrowser(userAgent string) string {
	for _, rule := range browserRules {
		if !strings.Contains(userAgent, rule.marker) {
			continue
		}
		version := ""
		if match := rule.versionPattern.FindStringSubmatch(userAgent); len(match) > 1 {
			version = match[1]
		}
		return rule.family + " " + version
	}
	return BrowserUnknown
}

// DetectOS returns the operating system family or "Unknown".
func DetectOS(userAgent string) string {
	for _, rule := range osRules {
		if rule.matches(userAgent) {
			return rule.family
		}
	}
	return OSUnknown
}

// HasTouch reports touch capability.
func (environment Environment) HasTouch() bool {
	return environment.TouchEvents || environment.MaxTouchPoints > 0
}

// DetectDevice classifies the device as desktop, mobile or tablet.
func DetectDevice(environment Environment) string {
	userAgent := environment.UserAgent
	mobileLike := mobilePattern.MatchString(userAgent)
	// iPadOS reports a desktop Safari user agent but keeps multi-touch.
	if !mobileLike && environment.MaxTouchPoints > 1 && strings.Contains(userAgent, "Macintosh") {
		mobileLike = true
	}
	shortSide := environment.ScreenWidth
	if environment.ScreenHeight < shortSide {
		shortSide = environment.ScreenHeight
	}
	switch {
	case tabletPattern.MatchString(userAgent):
		return DeviceTablet
	case mobileLike && shortSide > tabletMinimumShortSide:
		return DeviceTablet
	case mobileLike:
		return DeviceMobile
	default:
		return DeviceDesktop
	}
}

// CollectMetadata computes a fresh snapshot; it is never cached.
func CollectMetadata(environment Environment) MetadataSnapshot {
	pixelRatio := environment.PixelRatio
	if pixelRatio <= 0 {
		pixelRatio = 1
	}
	return MetadataSnapshot{
		Browser:     DetectBrowser(environment.UserAgent),
		OS:          DetectOS(environment.UserAgent),
		DeviceType:  DetectDevice(environment),
		Viewport:    fmt.Sprintf(dimensionFormat, environment.ViewportWidth, environment.ViewportHeight),
		Screen:      fmt.Sprintf(dimensionFormat, environment.ScreenWidth, environment.ScreenHeight),
		PixelRatio:  pixelRatio,
		Language:    environment.Language,
		Timezone:    environment.Timezone,
		Referrer:    environment.Referrer,
		Connection:  environment.ConnectionType,
		Touch:       environment.HasTouch(),
		TouchPoints: environment.MaxTouchPoints,
		URL:         environment.URL,
	}
}

// ParseDimensions reads a "<width>x<height>" pair as formatted for viewport and screen.
func ParseDimensions(value string) (int, int, bool) {
	rawWidth, rawHeight, found := strings.Cut(strings.TrimSpace(value), "x")
	if !found {
		return 0, 0, false
	}
	width, widthErr := strconv.Atoi(rawWidth)
	height, heightErr := strconv.Atoi(rawHeight)
	if widthErr != nil || heightErr != nil || width < 0 || height < 0 {
		return 0, 0, false
	}
	return width, height, true
}

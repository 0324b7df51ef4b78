package widget

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// GuardKey is the page-wide global claimed by the first initialisation.
	GuardKey = "__feedbackWidget"
	// GlobalAPIKey names the host-facing API namespace.
	GlobalAPIKey = "FeedbackWidget"
	// WidgetVersion is reported in every submission payload.
	WidgetVersion = "1.1.0"

	DefaultEndpoint       = "https://feedback.markopolo.dev/api/feedback"
	DefaultAccentColor    = "#00c87a"
	DefaultAutoCloseDelay = 4 * time.Second
	DefaultResetDelay     = 300 * time.Millisecond
	DeveloperThrottle     = 30 * time.Second

	AttributeSource          = "source"
	AttributeBusinessType    = "business-type"
	AttributeCategories      = "categories"
	AttributeName            = "name"
	AttributeAccent          = "accent"
	AttributePosition        = "position"
	AttributeAPIURL          = "api-url"
	AttributeKey             = "key"
	AttributeNoBadge         = "no-badge"
	AttributeVariant         = "variant"
	AttributeThrottleSeconds = "throttle-seconds"

	attributeDataPrefix       = "data-"
	businessTypeDefault       = "default"
	categoryListSeparator     = ","
	modeDiscriminatorBusiness = "business"
)

// Variant selects one of the two widget flavours.
type Variant string

const (
	VariantDeveloper Variant = "developer"
	VariantBusiness  Variant = "business"
)

// PanelSide is the viewport edge the trigger and panel attach to.
type PanelSide string

const (
	PanelSideRight PanelSide = "right"
	PanelSideLeft  PanelSide = "left"
)

// Category is one selectable feedback category. Value is sent as the payload type.
type Category struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// ThrottlePolicy is the minimum interval between submission attempts. Zero disables it.
type ThrottlePolicy struct {
	Interval time.Duration
}

// Enabled reports whether the policy throttles at all.
func (policy ThrottlePolicy) Enabled() bool {
	return policy.Interval > 0
}

// Config is the resolved, read-only widget configuration.
type Config struct {
	Source         string
	DisplayName    string
	AccentColor    string
	Side           PanelSide
	Categories     []Category
	Endpoint       string
	APIKey         string
	ShowBadge      bool
	Variant        Variant
	Throttle       ThrottlePolicy
	AutoCloseDelay time.Duration
	ResetDelay     time.Duration
	Screenshot     ScreenshotOptions
	WidgetVersion  string
}

// Mode returns the payload mode discriminator, empty for the developer variant.
func (config Config) Mode() string {
	if config.Variant == VariantBusiness {
		return modeDiscriminatorBusiness
	}
	return ""
}

// CategoryByValue finds a configured category.
func (config Config) CategoryByValue(value string) (Category, bool) {
	for _, category := range config.Categories {
		if category.Value == value {
			return category, true
		}
	}
	return Category{}, false
}

// Attributes are embed attributes keyed without their "data-" prefix.
// A presence-only attribute maps to the empty string.
type Attributes map[string]string

func (attributes Attributes) value(name string) string {
	return strings.TrimSpace(attributes[name])
}

func (attributes Attributes) has(name string) bool {
	_, present := attributes[name]
	return present
}

// AttributesFromQuery reads attributes carried on a script URL query string.
func AttributesFromQuery(values url.Values) Attributes {
	attributes := Attributes{}
	for key, entries := range values {
		normalizedKey := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(key)), attributeDataPrefix)
		if normalizedKey == "" {
			continue
		}
		value := ""
		if len(entries) > 0 {
			value = entries[0]
		}
		attributes[normalizedKey] = value
	}
	return attributes
}

// AttributesFromElement reads the data-* attributes of an embedding script element.
func AttributesFromElement(element Element, names ...string) Attributes {
	attributes := Attributes{}
	if element == nil {
		return attributes
	}
	if len(names) == 0 {
		names = KnownAttributes
	}
	for _, name := range names {
		if value, present := element.Attribute(attributeDataPrefix + name); present {
			attributes[name] = value
		}
	}
	return attributes
}

// KnownAttributes lists every attribute the resolver understands.
var KnownAttributes = []string{
	AttributeSource,
	AttributeBusinessType,
	AttributeCategories,
	AttributeName,
	AttributeAccent,
	AttributePosition,
	AttributeAPIURL,
	AttributeKey,
	AttributeNoBadge,
	AttributeVariant,
	AttributeThrottleSeconds,
}

// CategoryPresets maps a business type to its ordered category labels.
var CategoryPresets = map[string][]string{
	"restaurant":        {"Reservation", "Complaint", "Compliment", "Catering Inquiry", "General Question"},
	"salon":             {"Appointment", "Complaint", "Compliment", "Service Question", "General Question"},
	"retail":            {"Product Question", "Complaint", "Return / Exchange", "Compliment", "General Question"},
	businessTypeDefault: {"Complaint", "Compliment", "Question", "Suggestion", "Other"},
}

// DeveloperCategories are the feedback types of the developer variant.
var DeveloperCategories = []Category{
	{Value: "bug", Label: "Bug"},
	{Value: "feature", Label: "Feature"},
	{Value: "ux", Label: "UX"},
	{Value: "other", Label: "Other"},
}

var accentColorPattern = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// ResolveConfig applies defaults to the embed attributes. It never fails: invalid
// values fall back to their defaults.
func ResolveConfig(attributes Attributes, pageURL string) Config {
	variant := resolveVariant(attributes)

	configuration := Config{
		Source:         attributes.value(AttributeSource),
		DisplayName:    attributes.value(AttributeName),
		AccentColor:    DefaultAccentColor,
		Side:           PanelSideRight,
		Endpoint:       DefaultEndpoint,
		APIKey:         attributes.value(AttributeKey),
		ShowBadge:      !attributes.has(AttributeNoBadge),
		Variant:        variant,
		AutoCloseDelay: DefaultAutoCloseDelay,
		ResetDelay:     DefaultResetDelay,
		Screenshot:     DefaultScreenshotOptions(),
		WidgetVersion:  WidgetVersion,
	}

	if configuration.Source == "" {
		configuration.Source = hostnameOf(pageURL)
	}
	if accent := attributes.value(AttributeAccent); accentColorPattern.MatchString(accent) {
		configuration.AccentColor = accent
	}
	if strings.EqualFold(attributes.value(AttributePosition), string(PanelSideLeft)) {
		configuration.Side = PanelSideLeft
	}
	if endpoint := attributes.value(AttributeAPIURL); isHTTPURL(endpoint) {
		configuration.Endpoint = endpoint
	}

	configuration.Categories = resolveCategories(attributes, variant)
	configuration.Throttle = resolveThrottle(attributes, variant)
	return configuration
}

func resolveVariant(attributes Attributes) Variant {
	switch Variant(strings.ToLower(attributes.value(AttributeVariant))) {
	case VariantBusiness:
		return VariantBusiness
	case VariantDeveloper:
		return VariantDeveloper
	}
	if attributes.value(AttributeBusinessType) != "" || len(splitCategoryList(attributes.value(AttributeCategories))) > 0 {
		return VariantBusiness
	}
	return VariantDeveloper
}

func resolveCategories(attributes Attributes, variant Variant) []Category {
	if custom := splitCategoryList(attributes.value(AttributeCategories)); len(custom) > 0 {
		return labelCategories(custom)
	}
	if variant == VariantDeveloper {
		categories := make([]Category, len(DeveloperCategories))
		copy(categories, DeveloperCategories)
		return categories
	}
	preset, found := CategoryPresets[strings.ToLower(attributes.value(AttributeBusinessType))]
	if !found {
		preset = CategoryPresets[businessTypeDefault]
	}
	return labelCategories(preset)
}

func resolveThrottle(attributes Attributes, variant Variant) ThrottlePolicy {
	if rawSeconds := attributes.value(AttributeThrottleSeconds); rawSeconds != "" {
		if seconds, parseErr := strconv.Atoi(rawSeconds); parseErr == nil && seconds >= 0 {
			return ThrottlePolicy{Interval: time.Duration(seconds) * time.Second}
		}
	}
	if variant == VariantDeveloper {
		return ThrottlePolicy{Interval: DeveloperThrottle}
	}
	return ThrottlePolicy{}
}

func splitCategoryList(rawList string) []string {
	if strings.TrimSpace(rawList) == "" {
		return nil
	}
	var labels []string
	for _, part := range strings.Split(rawList, categoryListSeparator) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			labels = append(labels, trimmed)
		}
	}
	return labels
}

func labelCategories(labels []string) []Category {
	categories := make([]Category, 0, len(labels))
	for _, label := range labels {
		categories = append(categories, Category{Value: label, Label: label})
	}
	return categories
}

func hostnameOf(rawURL string) string {
	parsed, parseErr := url.Parse(strings.TrimSpace(rawURL))
	if parseErr != nil {
		return ""
	}
	return parsed.Hostname()
}

func isHTTPURL(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	parsed, parseErr := url.Parse(rawURL)
	if parseErr != nil || parsed.Host == "" {
		return false
	}
	return parsed.Scheme == "http" || parsed.Scheme == "https"
}

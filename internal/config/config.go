// Package config holds the run configuration of mpreach. Values are taken
// from a yaml file, environment variables or both.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Debug is set from the command line and switches on debug logging and
// debug artifacts (screenshots of failed listings).
var Debug = false

type loggerCtxKey struct{}

// LoggerCtxKey is the context key under which a *slog.Logger is stored.
var LoggerCtxKey = loggerCtxKey{}

// ErrInvalid is returned when the configuration violates one of the
// constraints checked by Validate.
var ErrInvalid = errors.New("invalid configuration")

func GetLogLevel() slog.Level {
	if Debug {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// SelectorConfig contains every CSS selector mpreach relies on. Nothing
// outside of the marketplace package should need to know the site's markup.
type SelectorConfig struct {
	SearchInput     string   `yaml:"search_input" env:"SELECTOR_SEARCH_INPUT" env-default:"input[placeholder=\"Search Marketplace\"]"`
	Results         string   `yaml:"results" env:"SELECTOR_RESULTS" env-default:"div[role=\"main\"]"`
	ListingLink     string   `yaml:"listing_link" env:"SELECTOR_LISTING_LINK" env-default:"a[role=\"link\"][href*=\"/item/\"]"`
	ListingReady    string   `yaml:"listing_ready" env:"SELECTOR_LISTING_READY" env-default:"h1"`
	Title           string   `yaml:"title" env:"SELECTOR_TITLE" env-default:"h1"`
	Description     string   `yaml:"description" env:"SELECTOR_DESCRIPTION" env-default:"[data-testid=\"marketplace-feed-item-description\"]"`
	MessageButtons  []string `yaml:"message_buttons" env:"SELECTOR_MESSAGE_BUTTONS" env-default:"div[aria-label=\"Message\"],a[href*=\"/messages/\"]" env-separator:","`
	Compose         string   `yaml:"compose" env:"SELECTOR_COMPOSE" env-default:"div[role=\"dialog\"] textarea, div[role=\"dialog\"] div[contenteditable=\"true\"]"`
	SendButton      string   `yaml:"send_button" env:"SELECTOR_SEND_BUTTON" env-default:"div[role=\"dialog\"] div[aria-label=\"Send message\"]"`
	ListingURLMatch string   `yaml:"listing_url_match" env:"LISTING_URL_MATCH" env-default:"/item/"`
	// SearchURLMatch is part of the location of the results page. The
	// results are only read once the page has moved there.
	SearchURLMatch string `yaml:"search_url_match" env:"SEARCH_URL_MATCH" env-default:"/search"`
}

// MarketplaceConfig describes the site that is driven and the bounds of
// every wait performed on it.
type MarketplaceConfig struct {
	URL            string        `yaml:"url" env:"MARKETPLACE_URL" env-default:"https://www.facebook.com/marketplace/"`
	LoginURL       string        `yaml:"login_url" env:"LOGIN_URL" env-default:"https://www.facebook.com/login"`
	SearchTimeout  time.Duration `yaml:"search_timeout" env:"SEARCH_TIMEOUT" env-default:"60s"`
	PageTimeout    time.Duration `yaml:"page_timeout" env:"PAGE_TIMEOUT" env-default:"30s"`
	ComposeTimeout time.Duration `yaml:"compose_timeout" env:"COMPOSE_TIMEOUT" env-default:"45s"`
	Scrolls        int           `yaml:"scrolls" env:"SEARCH_SCROLLS" env-default:"0"`
	ScrollDelay    time.Duration `yaml:"scroll_delay" env:"SEARCH_SCROLL_DELAY" env-default:"1500ms"`
	// NoEnterSubmit disables the Enter key fallback when no send control
	// is found in the compose surface.
	NoEnterSubmit bool           `yaml:"no_enter_submit" env:"NO_ENTER_SUBMIT"`
	Selectors     SelectorConfig `yaml:"selectors"`
}

// FilterConfig is a regex filter on one of the listing fields. If Match is
// true a listing is kept only if the expression matches, otherwise it is
// kept only if the expression does not match.
type FilterConfig struct {
	Field      string `yaml:"field"`
	Expression string `yaml:"exp"`
	Match      bool   `yaml:"match"`
}

type SearchConfig struct {
	Keyword     string `yaml:"keyword" env:"KEYWORD"`
	MinQuantity int    `yaml:"min_quantity" env:"MIN_QUANTITY" env-default:"1"`
	// QuantityMatch is either 'exact', ie. the text has to contain
	// "<min_quantity> <keyword>", or 'at_least', ie. any count that is
	// greater or equal to min_quantity followed by the keyword is accepted.
	QuantityMatch string         `yaml:"quantity_match" env:"QUANTITY_MATCH" env-default:"exact"`
	Filters       []FilterConfig `yaml:"filters"`
}

type OutreachConfig struct {
	Message     string `yaml:"message" env:"MESSAGE"`
	MaxMessages int    `yaml:"max_messages" env:"MAX_MESSAGES" env-default:"10"`
	// SendUnfiltered sends to every opened listing regardless of the
	// filter result.
	SendUnfiltered bool `yaml:"send_unfiltered" env:"SEND_UNFILTERED"`
	TitleDistance  int  `yaml:"title_distance" env:"TITLE_DISTANCE" env-default:"0"`
}

type PacingConfig struct {
	Disabled      bool   `yaml:"disabled" env:"PACING_DISABLED"`
	MinDelayMS    int    `yaml:"min_delay_ms" env:"MIN_DELAY_MS" env-default:"3000"`
	MaxDelayMS    int    `yaml:"max_delay_ms" env:"MAX_DELAY_MS" env-default:"10000"`
	Typing        string `yaml:"typing" env:"TYPING" env-default:"paced"`
	MinKeyDelayMS int    `yaml:"min_key_delay_ms" env:"MIN_KEY_DELAY_MS" env-default:"50"`
	MaxKeyDelayMS int    `yaml:"max_key_delay_ms" env:"MAX_KEY_DELAY_MS" env-default:"150"`
}

type SessionConfig struct {
	Path      string        `yaml:"path" env:"SESSION_PATH" env-default:"cookies.json"`
	LoginWait time.Duration `yaml:"login_wait" env:"LOGIN_WAIT" env-default:"2m"`
}

type LedgerConfig struct {
	Type string `yaml:"type" env:"LEDGER_TYPE" env-default:"file"`
	Path string `yaml:"path" env:"LEDGER_PATH" env-default:"contacted.json"`
	DSN  string `yaml:"dsn" env:"LEDGER_DSN"`
}

type BrowserConfig struct {
	Headless  bool   `yaml:"headless" env:"HEADLESS" env-default:"false"`
	UserAgent string `yaml:"user_agent" env:"USER_AGENT"`
	Width     int    `yaml:"width" env:"WINDOW_WIDTH" env-default:"1440"`
	Height    int    `yaml:"height" env:"WINDOW_HEIGHT" env-default:"900"`
	DebugDir  string `yaml:"debug_dir" env:"DEBUG_DIR"`
}

type WriterConfig struct {
	Type     string `yaml:"type" env:"WRITER_TYPE" env-default:"stdout"`
	Uri      string `yaml:"uri" env:"WRITER_URI"`
	User     string `yaml:"user" env:"WRITER_USER"`         // we want to be able to pass credentials via env vars
	Password string `yaml:"password" env:"WRITER_PASSWORD"` // we want to be able to pass credentials via env vars
	FileDir  string `yaml:"filedir" env:"WRITER_FILEDIR" env-default:"."`
}

// Config is the immutable configuration of one run.
type Config struct {
	Marketplace MarketplaceConfig `yaml:"marketplace"`
	Search      SearchConfig      `yaml:"search"`
	Outreach    OutreachConfig    `yaml:"outreach"`
	Pacing      PacingConfig      `yaml:"pacing"`
	Session     SessionConfig     `yaml:"session"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Browser     BrowserConfig     `yaml:"browser"`
	Writer      WriterConfig      `yaml:"writer"`
}

// NewConfig reads the configuration from the file at path. If there is no
// such file the configuration is read from the environment only.
func NewConfig(path string) (*Config, error) {
	var config Config
	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &config); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(&config); err != nil {
			return nil, fmt.Errorf("error reading config from environment: %w", err)
		}
	} else {
		return nil, err
	}
	config.normalize()
	return &config, nil
}

func (c *Config) normalize() {
	c.Search.Keyword = strings.TrimSpace(c.Search.Keyword)
	c.Writer.Type = strings.ToLower(c.Writer.Type)
	c.Ledger.Type = strings.ToLower(c.Ledger.Type)
	c.Pacing.Typing = strings.ToLower(c.Pacing.Typing)
	c.Search.QuantityMatch = strings.ToLower(c.Search.QuantityMatch)
}

const mask = "********"

var (
	urlCredentials = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9+.-]*://[^:/@]+):(.*)@`)
	dsnCredentials = regexp.MustCompile(`^([^:/@]+):(.*)@`)
	dsnPassword    = regexp.MustCompile(`(?i)(password=)('[^']*'|\S+)`)
)

// MaskDSN replaces the password of a database connection string, in url,
// mysql or key/value form, by a fixed mask.
func MaskDSN(dsn string) string {
	switch {
	case urlCredentials.MatchString(dsn):
		return urlCredentials.ReplaceAllString(dsn, "${1}:"+mask+"@")
	case dsnCredentials.MatchString(dsn):
		return dsnCredentials.ReplaceAllString(dsn, "${1}:"+mask+"@")
	}
	return dsnPassword.ReplaceAllString(dsn, "${1}"+mask)
}

// Redacted returns a copy of c that is safe to print.
func (c *Config) Redacted() *Config {
	r := *c
	if r.Writer.Password != "" {
		r.Writer.Password = mask
	}
	r.Ledger.DSN = MaskDSN(r.Ledger.DSN)
	return &r
}

// Validate checks the constraints every run relies on. If withMessage is
// true the outreach settings are checked as well.
func (c *Config) Validate(withMessage bool) error {
	var errs []error
	if c.Search.Keyword == "" {
		errs = append(errs, errors.New("keyword must not be empty"))
	}
	if c.Search.MinQuantity < 1 {
		errs = append(errs, fmt.Errorf("min_quantity must be a positive integer, got %d", c.Search.MinQuantity))
	}
	if c.Search.QuantityMatch != "exact" && c.Search.QuantityMatch != "at_least" {
		errs = append(errs, fmt.Errorf("quantity_match must be one of [exact, at_least], got '%s'", c.Search.QuantityMatch))
	}
	if c.Marketplace.URL == "" {
		errs = append(errs, errors.New("marketplace url must not be empty"))
	}
	if c.Marketplace.Selectors.SearchURLMatch == "" {
		errs = append(errs, errors.New("search_url_match must not be empty"))
	}
	timeouts := []struct {
		name string
		d    time.Duration
	}{
		{"search_timeout", c.Marketplace.SearchTimeout},
		{"page_timeout", c.Marketplace.PageTimeout},
		{"compose_timeout", c.Marketplace.ComposeTimeout},
	}
	for _, to := range timeouts {
		if to.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", to.name, to.d))
		}
	}
	if c.Pacing.MinDelayMS < 0 || c.Pacing.MaxDelayMS < c.Pacing.MinDelayMS {
		errs = append(errs, fmt.Errorf("invalid delay range [%d, %d]", c.Pacing.MinDelayMS, c.Pacing.MaxDelayMS))
	}
	if c.Pacing.MinKeyDelayMS < 0 || c.Pacing.MaxKeyDelayMS < c.Pacing.MinKeyDelayMS {
		errs = append(errs, fmt.Errorf("invalid key delay range [%d, %d]", c.Pacing.MinKeyDelayMS, c.Pacing.MaxKeyDelayMS))
	}
	if c.Pacing.Typing != "paced" && c.Pacing.Typing != "instant" {
		errs = append(errs, fmt.Errorf("typing must be one of [paced, instant], got '%s'", c.Pacing.Typing))
	}
	for _, f := range c.Search.Filters {
		if f.Field != "title" && f.Field != "description" {
			errs = append(errs, fmt.Errorf("filter field must be one of [title, description], got '%s'", f.Field))
		}
	}
	if withMessage {
		if strings.TrimSpace(c.Outreach.Message) == "" {
			errs = append(errs, errors.New("message must not be empty"))
		}
		if c.Outreach.MaxMessages < 0 {
			errs = append(errs, fmt.Errorf("max_messages must not be negative, got %d", c.Outreach.MaxMessages))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

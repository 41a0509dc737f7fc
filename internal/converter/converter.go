package converter

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/xxxbrian/surge-qx/internal/errors"
	"github.com/xxxbrian/surge-qx/internal/logging"
)

// lineBreak matches CRLF, LF and bare CR alike.
var lineBreak = regexp.MustCompile(`\r\n|\r|\n`)

// Recorder receives the stats of every finished conversion.
type Recorder interface {
	Record(mode string, stats Stats)
}

// Converter handles rule conversion
type Converter struct {
	logger    zerolog.Logger
	recorder  Recorder
	standard  Mapper
	domainSet Mapper
}

// Option configures a Converter.
type Option func(*Converter)

// WithLogger sets the logger used for line diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Converter) {
		c.logger = logger
	}
}

// WithRecorder attaches a stats recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Converter) {
		c.recorder = r
	}
}

// WithStandardMapper replaces the mapper used for standard rule lists.
func WithStandardMapper(m Mapper) Option {
	return func(c *Converter) {
		c.standard = m
	}
}

// WithDomainSetMapper replaces the mapper used for domain-set lists.
func WithDomainSetMapper(m Mapper) Option {
	return func(c *Converter) {
		c.domainSet = m
	}
}

// NewConverter creates a new Converter
func NewConverter(opts ...Option) *Converter {
	c := &Converter{
		logger: logging.GetLogger("converter"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.standard == nil {
		c.standard = c.ProcessStandardRule
	}
	if c.domainSet == nil {
		c.domainSet = c.ProcessDomainSetLine
	}
	return c
}

// Convert converts Surge rule content to QuantumultX format.
// Empty content is the only fatal input; every other problem is confined to
// its line and counted in the returned stats.
func (c *Converter) Convert(content string, opts Options) (*Result, error) {
	if content == "" {
		return nil, errors.New(errors.ErrInvalidInput, "content must be a non-empty string")
	}
	if opts.Policy == "" {
		opts.Policy = DefaultPolicy
	}

	start := time.Now()
	mapper := c.standard
	if opts.UseDomainSet {
		mapper = c.domainSet
	}

	lines := lineBreak.Split(content, -1)
	stats := Stats{TotalLines: len(lines)}
	rules := make([]string, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if ShouldIgnore(line) {
			stats.SkippedLines++
			continue
		}

		rule, ok, err := c.apply(mapper, line, opts.Policy)
		switch {
		case err != nil:
			c.logger.Error().Err(err).Str("line", line).Msg("Failed to process line")
			stats.ErrorLines++
		case ok && rule != "":
			rules = append(rules, rule)
			stats.ProcessedLines++
		default:
			stats.ErrorLines++
		}
	}

	if c.recorder != nil {
		c.recorder.Record(opts.Mode(), stats)
	}
	c.logger.Debug().
		Str("mode", opts.Mode()).
		Str("policy", opts.Policy).
		Int("total", stats.TotalLines).
		Int("processed", stats.ProcessedLines).
		Int("skipped", stats.SkippedLines).
		Int("errors", stats.ErrorLines).
		Dur("duration", time.Since(start)).
		Msg("Conversion finished")

	return &Result{
		Content: RenderQuantumultX(rules),
		Stats:   stats,
	}, nil
}

// apply runs mapper on one line, turning a panic into an error.
func (c *Converter) apply(mapper Mapper, line, policy string) (rule string, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mapper panic: %v", r)
		}
	}()
	rule, ok = mapper(line, policy)
	return rule, ok, nil
}

// Package host runs a conversion on behalf of an embedding host that supplies
// a source (link + content) and a completion callback.
package host

import (
	"github.com/rs/zerolog"

	"github.com/xxxbrian/surge-qx/internal/converter"
	"github.com/xxxbrian/surge-qx/internal/errors"
	"github.com/xxxbrian/surge-qx/internal/logging"
)

const fallbackNotice = "# Original content preserved below"

// Source is the resource handed over by the host.
// Link carries conversion options in its fragment.
type Source interface {
	Link() string
	Content() string
}

// Output is passed to the completion callback.
type Output struct {
	Content string
}

// Done signals the host that output is ready.
type Done func(Output)

// StaticSource is a Source backed by two strings.
type StaticSource struct {
	URL  string
	Body string
}

func (s StaticSource) Link() string    { return s.URL }
func (s StaticSource) Content() string { return s.Body }

// Runner performs conversions for a host.
type Runner struct {
	conv    *converter.Converter
	logger  zerolog.Logger
	onFatal func(code string)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithFatalHook registers fn to be called with the error code of every
// conversion that ends in the fallback output.
func WithFatalHook(fn func(code string)) RunnerOption {
	return func(r *Runner) {
		r.onFatal = fn
	}
}

// NewRunner creates a Runner using conv.
func NewRunner(conv *converter.Converter, opts ...RunnerOption) *Runner {
	r := &Runner{
		conv:   conv,
		logger: logging.GetLogger("host"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run converts src and calls done exactly once, with either the converted
// rules or a fallback that reports the error and echoes the original content.
// A nil done cannot be notified, so only an error is returned in that case.
// The returned error is the fatal error, if any, after done has been called.
func (r *Runner) Run(src Source, done Done) (result *converter.Result, err error) {
	if done == nil {
		return nil, errors.New(errors.ErrHostUnavailable, "completion callback is not available")
	}

	var (
		content string
		called  bool
	)
	finish := func(out Output) {
		called = true
		done(out)
	}

	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = errors.Newf(errors.ErrInternal, "conversion aborted: %v", p)
		}
		if err == nil {
			return
		}
		code := string(errors.GetErrorCode(err))
		r.logger.Error().Err(err).Str("code", code).Msg("Conversion failed")
		if r.onFatal != nil {
			r.onFatal(code)
		}
		if !called {
			finish(Output{Content: FallbackContent(err, content)})
		}
	}()

	if src == nil {
		return nil, errors.New(errors.ErrHostUnavailable, "source is not available")
	}
	content = src.Content()

	params, err := converter.ParseURLParameters(src.Link())
	if err != nil {
		return nil, err
	}
	opts := converter.OptionsFromParameters(params)
	r.logger.Debug().Str("mode", opts.Mode()).Str("policy", opts.Policy).Msg("Options resolved")

	result, err = r.conv.Convert(content, opts)
	if err != nil {
		return nil, err
	}

	r.logger.Info().
		Int("processed", result.Stats.ProcessedLines).
		Int("errors", result.Stats.ErrorLines).
		Msg("Conversion complete")
	finish(Output{Content: result.Content})
	return result, nil
}

// FallbackContent is the output produced when a conversion cannot complete.
func FallbackContent(err error, content string) string {
	return "# Error: " + err.Error() + "\n" + fallbackNotice + "\n" + content
}

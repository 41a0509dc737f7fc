package host

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xxxbrian/surge-qx/internal/converter"
	"github.com/xxxbrian/surge-qx/internal/errors"
)

type capture struct {
	outputs []Output
}

func (c *capture) done(out Output) {
	c.outputs = append(c.outputs, out)
}

func newTestRunner(opts ...converter.Option) *Runner {
	var buf bytes.Buffer
	opts = append([]converter.Option{converter.WithLogger(zerolog.New(&buf))}, opts...)
	r := NewRunner(converter.NewConverter(opts...))
	r.logger = zerolog.Nop()
	return r
}

func TestRunStandard(t *testing.T) {
	r := newTestRunner()
	var c capture

	result, err := r.Run(StaticSource{
		URL:  "https://example.com/rules.list#policy=direct",
		Body: "DOMAIN,example.com,DIRECT\n# comment\nDOMAIN-SUFFIX,test.com",
	}, c.done)
	require.NoError(t, err)

	require.Len(t, c.outputs, 1)
	assert.Equal(t, "host,example.com,direct\nhost-suffix,test.com,direct", c.outputs[0].Content)
	assert.Equal(t, converter.Stats{TotalLines: 3, ProcessedLines: 2, SkippedLines: 1}, result.Stats)
}

func TestRunDomainSetDefaultsPolicy(t *testing.T) {
	r := newTestRunner()
	var c capture

	_, err := r.Run(StaticSource{
		URL:  "https://example.com/set.txt#domain-set=true&policy=",
		Body: ".example.com\nexample.org",
	}, c.done)
	require.NoError(t, err)

	require.Len(t, c.outputs, 1)
	assert.Equal(t, "host-suffix,example.com,proxy\nhost,example.org,proxy", c.outputs[0].Content)
}

func TestRunDomainSetRequiresExactTrue(t *testing.T) {
	r := newTestRunner()
	var c capture

	_, err := r.Run(StaticSource{URL: "x#domain-set=yes", Body: ".example.com"}, c.done)
	require.NoError(t, err)
	require.Len(t, c.outputs, 1)
	assert.Equal(t, "", c.outputs[0].Content, "standard mapper rejects a bare domain")
}

func TestRunEmptyContentFallsBack(t *testing.T) {
	r := newTestRunner()
	var c capture

	result, err := r.Run(StaticSource{URL: "https://example.com/a.list"}, c.done)
	assert.Nil(t, result)
	require.Error(t, err)
	assert.Equal(t, errors.ErrInvalidInput, errors.GetErrorCode(err))

	require.Len(t, c.outputs, 1)
	assert.True(t, strings.HasPrefix(c.outputs[0].Content, "# Error:"))
	assert.Equal(t, FallbackContent(err, ""), c.outputs[0].Content)
}

func TestRunMissingSourceFallsBack(t *testing.T) {
	r := newTestRunner()
	var c capture

	_, err := r.Run(nil, c.done)
	require.Error(t, err)
	assert.Equal(t, errors.ErrHostUnavailable, errors.GetErrorCode(err))
	require.Len(t, c.outputs, 1)
	assert.True(t, strings.HasPrefix(c.outputs[0].Content, "# Error:"))
	assert.True(t, strings.HasSuffix(c.outputs[0].Content, fallbackNotice+"\n"))
}

func TestRunMissingCallback(t *testing.T) {
	r := newTestRunner()

	_, err := r.Run(StaticSource{URL: "x", Body: "DOMAIN,a.com"}, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrHostUnavailable, errors.GetErrorCode(err))
}

func TestRunDecodeErrorPreservesContent(t *testing.T) {
	r := newTestRunner()
	var c capture

	body := "DOMAIN,a.com"
	_, err := r.Run(StaticSource{URL: "x#policy=%E0%A4%A", Body: body}, c.done)
	require.Error(t, err)
	assert.Equal(t, errors.ErrDecode, errors.GetErrorCode(err))

	require.Len(t, c.outputs, 1)
	assert.True(t, strings.HasPrefix(c.outputs[0].Content, "# Error:"))
	assert.True(t, strings.HasSuffix(c.outputs[0].Content, "\n"+body))
}

type panickyRecorder struct{}

func (panickyRecorder) Record(string, converter.Stats) { panic("recorder broke") }

func TestRunRecoversEscapingPanic(t *testing.T) {
	r := newTestRunner(converter.WithRecorder(panickyRecorder{}))
	var c capture

	_, err := r.Run(StaticSource{URL: "x", Body: "DOMAIN,a.com"}, c.done)
	require.Error(t, err)
	assert.Equal(t, errors.ErrInternal, errors.GetErrorCode(err))
	require.Len(t, c.outputs, 1)
	assert.Contains(t, c.outputs[0].Content, "recorder broke")
	assert.True(t, strings.HasSuffix(c.outputs[0].Content, "DOMAIN,a.com"))
}

func TestRunCallsDoneOnceWhenCallbackPanics(t *testing.T) {
	r := newTestRunner()
	calls := 0
	done := func(Output) {
		calls++
		panic("host callback failed")
	}

	_, err := r.Run(StaticSource{URL: "x", Body: "DOMAIN,a.com"}, done)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestFallbackContent(t *testing.T) {
	err := errors.New(errors.ErrInvalidInput, "content must be a non-empty string")
	got := FallbackContent(err, "raw")
	assert.Equal(t, "# Error: [INVALID_INPUT] content must be a non-empty string\n# Original content preserved below\nraw", got)
}

func TestRunReportsFatalCode(t *testing.T) {
	var codes []string
	r := NewRunner(converter.NewConverter(converter.WithLogger(zerolog.Nop())),
		WithFatalHook(func(code string) { codes = append(codes, code) }))
	r.logger = zerolog.Nop()
	var c capture

	_, _ = r.Run(StaticSource{URL: "x"}, c.done)
	_, _ = r.Run(StaticSource{URL: "x", Body: "DOMAIN,a.com"}, c.done)

	assert.Equal(t, []string{"INVALID_INPUT"}, codes)
	assert.Len(t, c.outputs, 2)
}

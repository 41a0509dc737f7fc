package cli

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/xxxbrian/surge-qx/internal/errors"
)

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestConvertStdin(t *testing.T) {
	out, _, err := execute(t, "DOMAIN,example.com,DIRECT\n# comment\nDOMAIN-SUFFIX,test.com", "convert")
	require.NoError(t, err)
	assert.Equal(t, "host,example.com,proxy\nhost-suffix,test.com,proxy\n", out)
}

func TestConvertFileWithFlags(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "set.txt")
	outPath := filepath.Join(dir, "out.list")
	require.NoError(t, os.WriteFile(in, []byte(".example.com\r\nexample.org\r\n"), 0o644))

	_, stderr, err := execute(t, "", "convert", in, "--domain-set", "--policy", "direct", "-o", outPath, "--stats")
	require.NoError(t, err)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "host-suffix,example.com,direct\nhost,example.org,direct\n", string(data))
	assert.Contains(t, stderr, "total=3 processed=2 skipped=1 errors=0")
}

func TestConvertLinkFragmentOptions(t *testing.T) {
	out, _, err := execute(t, ".example.com", "convert", "-", "--link", "https://x/set.txt#domain-set=true&policy=Japan")
	require.NoError(t, err)
	assert.Equal(t, "host-suffix,example.com,Japan\n", out)
}

func TestConvertFlagOverridesFragment(t *testing.T) {
	out, _, err := execute(t, "DOMAIN,a.com", "convert", "--link", "https://x/a.list#policy=Japan", "--policy", "direct")
	require.NoError(t, err)
	assert.Equal(t, "host,a.com,direct\n", out)
}

func TestConvertEmptyInputWritesFallback(t *testing.T) {
	out, _, err := execute(t, "", "convert")
	require.Error(t, err)
	assert.Equal(t, errors.ErrInvalidInput, errors.GetErrorCode(err))
	assert.True(t, strings.HasPrefix(out, "# Error:"))
}

func TestConvertURL(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "IP-CIDR6,2001:db8::/32,PROXY\nUSER-AGENT,Foo*")
	}))
	defer upstream.Close()

	out, stderr, err := execute(t, "", "convert", "--url", upstream.URL+"/rules.list#policy=direct", "--stats")
	require.NoError(t, err)
	assert.Equal(t, "ip6-cidr,2001:db8::/32,direct\n", out)
	assert.Contains(t, stderr, "errors=1")
}

func TestConvertURLWithFileIsRejected(t *testing.T) {
	_, _, err := execute(t, "", "convert", "--url", "https://x/a.list", "some-file")
	assert.Error(t, err)
}

func TestConvertConfigPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "surge-qx.yaml")
	require.NoError(t, os.WriteFile(path, []byte("convert:\n  policy: fallback\n"), 0o644))

	out, _, err := execute(t, "DOMAIN,a.com", "--config", path, "convert")
	require.NoError(t, err)
	assert.Equal(t, "host,a.com,fallback\n", out)

	out, _, err = execute(t, "DOMAIN,a.com", "--config", path, "convert", "--link", "x#policy=direct")
	require.NoError(t, err)
	assert.Equal(t, "host,a.com,direct\n", out, "an explicit fragment policy wins over config")
}

func TestConfigCommand(t *testing.T) {
	t.Setenv("SURGEQX_SERVER_PORT", "9191")

	out, _, err := execute(t, "", "config")
	require.NoError(t, err)

	var dumped map[string]map[string]interface{}
	require.NoError(t, yaml.Unmarshal([]byte(out), &dumped))
	assert.Equal(t, "9191", dumped["server"]["port"])
	assert.Equal(t, "30m0s", dumped["cache"]["upstream_ttl"])
}

func TestConvertHelpListsRuleTypes(t *testing.T) {
	out, _, err := execute(t, "", "convert", "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "Supported rule types: DOMAIN, DOMAIN-KEYWORD, DOMAIN-SUFFIX, IP-ASN, IP-CIDR, IP-CIDR6.")
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "surge-qx version dev")
}

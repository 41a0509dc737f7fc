package converter

import (
	"net/url"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"

	"github.com/xxxbrian/surge-qx/internal/errors"
)

// Fragment parameter names understood by the converter.
const (
	ParamPolicy    = "policy"
	ParamDomainSet = "domain-set"
)

// ParseURLParameters extracts key/value options from the fragment of link,
// e.g. "https://host/list#policy=direct&domain-set=true".
// A link without a fragment yields an empty map. Malformed percent escapes
// are reported as ErrDecode.
func ParseURLParameters(link string) (map[string]string, error) {
	params := make(map[string]string)

	idx := strings.Index(link, "#")
	if idx == -1 {
		return params, nil
	}
	fragment := link[idx+1:]
	if fragment == "" {
		return params, nil
	}

	for _, pair := range strings.Split(fragment, "&") {
		if pair == "" {
			continue
		}

		rawKey, rawValue, hasValue := strings.Cut(pair, "=")
		key, err := decodeComponent(rawKey)
		if err != nil {
			return nil, err
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}

		value := ""
		if hasValue {
			if value, err = decodeComponent(rawValue); err != nil {
				return nil, err
			}
			value = strings.TrimSpace(value)
		}
		params[key] = value
	}

	return params, nil
}

// decodeComponent percent-decodes s without treating '+' as a space.
func decodeComponent(s string) (string, error) {
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrDecode, "malformed URL parameter").WithDetail("component", s)
	}
	if !utf8.ValidString(decoded) {
		return "", errors.New(errors.ErrDecode, "URL parameter is not valid UTF-8").WithDetail("component", s)
	}
	return decoded, nil
}

// encodeComponent is the inverse of decodeComponent. Separators are escaped
// and a space becomes %20 so the value never reads back as '+'.
func encodeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// OptionsFromParameters derives conversion options from extracted parameters.
// An absent or empty policy falls back to DefaultPolicy, and only the exact
// value "true" enables domain-set mode.
func OptionsFromParameters(params map[string]string) Options {
	policy := params[ParamPolicy]
	if policy == "" {
		policy = DefaultPolicy
	}
	return Options{
		Policy:       policy,
		UseDomainSet: params[ParamDomainSet] == "true",
	}
}

// MergeParameters rewrites the fragment of link so that overrides replace or
// add parameters. Keys are emitted in sorted order. A fragment that fails to
// decode is returned untouched so the conversion can report it.
func MergeParameters(link string, overrides map[string]string) string {
	if len(overrides) == 0 {
		return link
	}

	params, err := ParseURLParameters(link)
	if err != nil {
		return link
	}
	params = lo.Assign(params, overrides)

	keys := lo.Keys(params)
	sort.Strings(keys)
	pairs := lo.Map(keys, func(key string, _ int) string {
		return encodeComponent(key) + "=" + encodeComponent(params[key])
	})

	base := link
	if idx := strings.Index(link, "#"); idx != -1 {
		base = link[:idx]
	}
	return base + "#" + strings.Join(pairs, "&")
}

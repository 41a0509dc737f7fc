// Package converter handles the conversion of Surge rule lists to QuantumultX filter format.
package converter

import (
	"sort"
)

// DefaultPolicy is appended to every converted rule when no policy is given.
const DefaultPolicy = "proxy"

// RuleKind represents a supported rule type.
type RuleKind int

const (
	RuleDomain RuleKind = iota
	RuleDomainSuffix
	RuleDomainKeyword
	RuleIPCIDR
	RuleIPCIDR6
	RuleIPASN
)

// ruleTypes is the closed set of Surge rule types that can be converted.
// Anything not listed here is rejected.
var ruleTypes = map[string]RuleKind{
	"DOMAIN":         RuleDomain,
	"DOMAIN-SUFFIX":  RuleDomainSuffix,
	"DOMAIN-KEYWORD": RuleDomainKeyword,
	"IP-CIDR":        RuleIPCIDR,
	"IP-CIDR6":       RuleIPCIDR6,
	"IP-ASN":         RuleIPASN,
}

// LookupRuleType returns the kind for an upper-case Surge rule type.
func LookupRuleType(surgeType string) (RuleKind, bool) {
	kind, ok := ruleTypes[surgeType]
	return kind, ok
}

// String returns the QuantumultX token for the kind.
func (k RuleKind) String() string {
	switch k {
	case RuleDomain:
		return "host"
	case RuleDomainSuffix:
		return "host-suffix"
	case RuleDomainKeyword:
		return "host-keyword"
	case RuleIPCIDR:
		return "ip-cidr"
	case RuleIPCIDR6:
		return "ip6-cidr"
	case RuleIPASN:
		return "ip-asn"
	default:
		return "unknown"
	}
}

// SupportedRuleTypes returns the Surge rule types mapped to their QuantumultX tokens.
func SupportedRuleTypes() map[string]string {
	out := make(map[string]string, len(ruleTypes))
	for surgeType, kind := range ruleTypes {
		out[surgeType] = kind.String()
	}
	return out
}

// SupportedRuleTypeNames returns the sorted Surge rule type names.
func SupportedRuleTypeNames() []string {
	names := make([]string, 0, len(ruleTypes))
	for name := range ruleTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Options controls a single conversion.
type Options struct {
	Policy       string
	UseDomainSet bool
}

// Mode names the input format selected by the options.
func (o Options) Mode() string {
	if o.UseDomainSet {
		return "domain-set"
	}
	return "standard"
}

// Stats counts how each input line was classified.
// TotalLines always equals ProcessedLines + SkippedLines + ErrorLines.
type Stats struct {
	TotalLines     int `json:"totalLines"`
	ProcessedLines int `json:"processedLines"`
	SkippedLines   int `json:"skippedLines"`
	ErrorLines     int `json:"errorLines"`
}

// Result is the output of a conversion.
type Result struct {
	Content string `json:"content"`
	Stats   Stats  `json:"stats"`
}

package converter

import (
	"strings"
)

// Mapper converts one trimmed, non-ignorable line into a QuantumultX rule.
// It returns false when the line produced no rule.
type Mapper func(line, policy string) (string, bool)

// ProcessDomainSetLine converts a domain-set entry. A leading dot selects a
// suffix match on the remainder, anything else is an exact host match.
func (c *Converter) ProcessDomainSetLine(line, policy string) (string, bool) {
	if strings.HasPrefix(line, ".") {
		domain := line[1:]
		if domain == "" {
			c.reject(line, "empty domain after leading dot")
			return "", false
		}
		return renderRule(RuleDomainSuffix, domain, policy), true
	}
	return renderRule(RuleDomain, line, policy), true
}

// ProcessStandardRule converts a "TYPE,target[,...]" Surge rule.
// Fields after the target, including the Surge policy, are ignored.
func (c *Converter) ProcessStandardRule(line, policy string) (string, bool) {
	parts := strings.Split(line, ",")
	if len(parts) < 2 {
		c.reject(line, "expected at least 2 comma-separated parts")
		return "", false
	}

	surgeType := strings.ToUpper(strings.TrimSpace(parts[0]))
	target := strings.TrimSpace(parts[1])
	if surgeType == "" || target == "" {
		c.reject(line, "empty rule type or target")
		return "", false
	}

	kind, ok := LookupRuleType(surgeType)
	if !ok {
		c.logger.Warn().
			Str("type", surgeType).
			Str("line", line).
			Msg("Unsupported rule type")
		return "", false
	}

	return renderRule(kind, target, policy), true
}

func (c *Converter) reject(line, reason string) {
	c.logger.Warn().
		Str("line", line).
		Str("reason", reason).
		Msg("Rejected rule line")
}

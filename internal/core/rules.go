package core

// rules.go implements the field mapping rule grammar.
//
// A rule is a short declarative string applied to one source value:
//
//	""              identity
//	uppercase       upper-case the value
//	lowercase       lower-case the value
//	trim            strip leading and trailing whitespace
//	prefix:<lit>    prepend <lit>
//	suffix:<lit>    append <lit>
//	default:<lit>   use <lit> when the value is empty
//	round:<n>       round a decimal number to n (0-30) fractional digits
//
// Keywords are case-insensitive; literals are used verbatim. Evaluation is
// total: an unknown rule or a non-numeric round input passes the value
// through and reports a warning kind instead of failing.

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// numericRegex validates a decimal number after cleanup.
// Matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// MaxRoundPlaces bounds round:<n>. Larger n would build n-digit strings.
const MaxRoundPlaces = 30

type ruleOp int

const (
	opIdentity ruleOp = iota
	opUpper
	opLower
	opTrim
	opPrefix
	opSuffix
	opDefault
	opRound
	opUnknown
)

// Rule is a compiled mapping rule. The zero value is the identity rule.
type Rule struct {
	Source string // Rule text as written
	op     ruleOp
	arg    string
	places int32
}

// CompileRule parses a rule string. It never fails: unrecognized rules
// compile to a pass-through rule that reports WarnUnknownRule.
func CompileRule(rule string) Rule {
	r := Rule{Source: rule}
	trimmed := strings.TrimSpace(rule)
	if trimmed == "" {
		return r
	}

	keyword, arg, hasArg := strings.Cut(trimmed, ":")
	if hasArg {
		// Literals keep their spacing; only the keyword part is trimmed
		_, arg, _ = strings.Cut(strings.TrimLeft(rule, " \t"), ":")
	}

	switch strings.ToLower(strings.TrimSpace(keyword)) {
	case "uppercase":
		r.op = opUpper
	case "lowercase":
		r.op = opLower
	case "trim":
		r.op = opTrim
	case "prefix":
		r.op, r.arg = opPrefix, arg
	case "suffix":
		r.op, r.arg = opSuffix, arg
	case "default":
		r.op, r.arg = opDefault, arg
	case "round":
		n, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 32)
		if err != nil || n < 0 || n > MaxRoundPlaces {
			r.op = opUnknown
			break
		}
		r.op, r.places = opRound, int32(n)
	default:
		r.op = opUnknown
	}

	// Bare keywords take no argument; "uppercase:x" is not a rule we know
	if hasArg && (r.op == opUpper || r.op == opLower || r.op == opTrim) {
		r.op = opUnknown
	}
	if !hasArg && (r.op == opPrefix || r.op == opSuffix || r.op == opDefault || r.op == opRound) {
		r.op = opUnknown
	}

	return r
}

// IsRound reports whether the rule was written as round:<n>, valid or not.
func (r Rule) IsRound() bool {
	keyword, _, _ := strings.Cut(strings.TrimSpace(r.Source), ":")
	return strings.EqualFold(strings.TrimSpace(keyword), "round")
}

// Valid reports whether the rule compiled to a known operation.
func (r Rule) Valid() bool {
	return r.op != opUnknown
}

// Apply evaluates the rule against value. The returned WarningKind is empty
// unless the rule could not be applied as written.
func (r Rule) Apply(value string) (string, WarningKind) {
	switch r.op {
	case opIdentity:
		return value, ""
	case opUpper:
		return strings.ToUpper(value), ""
	case opLower:
		return strings.ToLower(value), ""
	case opTrim:
		return strings.TrimSpace(value), ""
	case opPrefix:
		return r.arg + value, ""
	case opSuffix:
		return value + r.arg, ""
	case opDefault:
		if value == "" {
			return r.arg, ""
		}
		return value, ""
	case opRound:
		d, ok := parseDecimal(value)
		if !ok {
			return value, WarnTypeMismatch
		}
		return d.Round(r.places).StringFixed(r.places), ""
	default:
		return value, WarnUnknownRule
	}
}

// Evaluate applies rule to value.
func Evaluate(value, rule string) (string, WarningKind) {
	return CompileRule(rule).Apply(value)
}

// parseDecimal accepts plain decimals plus the usual spreadsheet noise:
// currency symbols, thousands separators, and accounting negatives "(1.50)".
func parseDecimal(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.NewReplacer("$", "", "€", "", "£", "", ",", "").Replace(s)
	s = strings.TrimSpace(s)
	if negative {
		s = "-" + s
	}

	if !numericRegex.MatchString(s) {
		return decimal.Decimal{}, false
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

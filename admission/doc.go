// Package admission evaluates a configurable rule before a health check is
// recorded.
//
// The rule is a CEL expression compiled once at startup and evaluated per
// check with two variables: checks (records stored so far) and limit (the
// configured ceiling). The default rule admits everything while the limit
// is unset and otherwise caps the number of recorded checks. Operators can
// replace the rule entirely through configuration.
package admission

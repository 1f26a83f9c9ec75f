// ABOUTME: Ordered route authorization rules matched with gobwas/glob patterns
// ABOUTME: The first matching rule decides; a path no rule matches is denied

package auth

import (
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

// Requirement is what a route demands of the caller.
type Requirement string

const (
	RequirePublic        Requirement = "public"
	RequireAuthenticated Requirement = "authenticated"
)

// ParseRequirement converts a config string to a Requirement.
func ParseRequirement(s string) (Requirement, error) {
	switch r := Requirement(strings.ToLower(strings.TrimSpace(s))); r {
	case RequirePublic, RequireAuthenticated:
		return r, nil
	default:
		return "", fmt.Errorf("unknown route requirement %q", s)
	}
}

// Decision is the policy's verdict for a request.
type Decision int

const (
	Deny Decision = iota
	Permit
)

func (d Decision) String() string {
	if d == Permit {
		return "permit"
	}
	return "deny"
}

// ErrInvalidRule is returned by NewPolicy for a rule that cannot be compiled.
var ErrInvalidRule = errors.New("invalid route rule")

// RouteRule binds a path pattern to a requirement. Patterns use '/' as the
// separator: "*" matches within one segment and "**" matches across
// segments. An empty Methods list matches every method.
type RouteRule struct {
	Pattern     string
	Methods     []string
	Requirement Requirement
}

type compiledRule struct {
	rule    RouteRule
	matcher glob.Glob
	methods map[string]struct{}
}

func (c compiledRule) matches(p, method string) bool {
	if len(c.methods) > 0 {
		if _, ok := c.methods[strings.ToUpper(method)]; !ok {
			return false
		}
	}
	return c.matcher.Match(p)
}

// Policy is an immutable ordered list of route rules.
type Policy struct {
	rules []compiledRule
}

// NewPolicy compiles rules in order.
func NewPolicy(rules ...RouteRule) (*Policy, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for i, r := range rules {
		if r.Requirement != RequirePublic && r.Requirement != RequireAuthenticated {
			return nil, fmt.Errorf("%w %d (%q): unknown requirement %q", ErrInvalidRule, i, r.Pattern, r.Requirement)
		}
		if !strings.HasPrefix(r.Pattern, "/") {
			return nil, fmt.Errorf("%w %d (%q): pattern must start with /", ErrInvalidRule, i, r.Pattern)
		}
		g, err := glob.Compile(r.Pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("%w %d (%q): %v", ErrInvalidRule, i, r.Pattern, err)
		}

		c := compiledRule{
			rule:    cloneRule(r),
			matcher: g,
		}
		if len(r.Methods) > 0 {
			c.methods = make(map[string]struct{}, len(r.Methods))
			for _, m := range r.Methods {
				c.methods[strings.ToUpper(m)] = struct{}{}
			}
		}
		compiled = append(compiled, c)
	}
	return &Policy{rules: compiled}, nil
}

// Authorize returns the decision of the first rule matching path and method.
// A nil identity means the request is anonymous.
func (p *Policy) Authorize(reqPath, method string, id *Identity) Decision {
	for _, r := range p.rules {
		if !r.matches(reqPath, method) {
			continue
		}
		if r.rule.Requirement == RequirePublic || id != nil {
			return Permit
		}
		return Deny
	}
	return Deny
}

// Rules returns a copy of the rules in evaluation order.
func (p *Policy) Rules() []RouteRule {
	out := make([]RouteRule, len(p.rules))
	for i, r := range p.rules {
		out[i] = cloneRule(r.rule)
	}
	return out
}

func cloneRule(r RouteRule) RouteRule {
	r.Methods = slices.Clone(r.Methods)
	return r
}

// DefaultRules is the route table used when none is configured: account
// endpoints, health and metrics are public, everything else needs a token.
func DefaultRules() []RouteRule {
	return []RouteRule{
		{Pattern: "/auth/**", Requirement: RequirePublic},
		{Pattern: "/health", Requirement: RequirePublic},
		{Pattern: "/health/**", Requirement: RequirePublic},
		{Pattern: "/metrics", Requirement: RequirePublic},
		{Pattern: "/grpc.health.v1.Health/*", Requirement: RequirePublic},
		{Pattern: "/**", Requirement: RequireAuthenticated},
	}
}

// cleanPath canonicalizes an HTTP request path the way net/http.ServeMux
// does, so dot segments cannot steer a request onto a public rule.
func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	np := path.Clean(p)
	if p[len(p)-1] == '/' && np != "/" {
		np += "/"
	}
	return np
}

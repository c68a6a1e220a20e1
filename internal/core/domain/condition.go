package domain

import "strings"

// Condition is a tagged sum evaluated against git branch/tag and environment
// state to decide whether a task executes (spec §6.1).
//
// Exactly one of the fields is populated, except And/Or/Not which recurse.
type Condition struct {
	Branch *string
	Tag    *string

	Env *EnvCondition

	And []Condition
	Or  []Condition
	Not *Condition

	Always *bool
}

// EnvCondition compares an environment variable against a value using one of
// three operators.
type EnvCondition struct {
	Name string
	// Exactly one of Equals, StartsWith, Contains is non-nil.
	Equals     *string
	StartsWith *string
	Contains   *string
}

// EvalContext supplies the git/env state a Condition is evaluated against.
type EvalContext struct {
	Branch string
	Tag    string
	Env    map[string]string
}

// Eval evaluates the condition against ctx (spec §4.5 step 2, §6.1). A nil
// Condition is always true - a task without a condition always runs.
func (c *Condition) Eval(ctx EvalContext) bool {
	if c == nil {
		return true
	}
	if c.Always != nil {
		return *c.Always
	}
	if c.Branch != nil {
		return globMatch(*c.Branch, ctx.Branch)
	}
	if c.Tag != nil {
		return globMatch(*c.Tag, ctx.Tag)
	}
	if c.Env != nil {
		return c.Env.eval(ctx)
	}
	if c.Not != nil {
		return !c.Not.Eval(ctx)
	}
	if len(c.And) > 0 {
		for i := range c.And {
			if !c.And[i].Eval(ctx) {
				return false
			}
		}
		return true
	}
	if len(c.Or) > 0 {
		for i := range c.Or {
			if c.Or[i].Eval(ctx) {
				return true
			}
		}
		return false
	}
	return true
}

func (e *EnvCondition) eval(ctx EvalContext) bool {
	actual, present := ctx.Env[e.Name]
	if !present {
		return false
	}
	switch {
	case e.Equals != nil:
		return actual == *e.Equals
	case e.StartsWith != nil:
		return strings.HasPrefix(actual, *e.StartsWith)
	case e.Contains != nil:
		return strings.Contains(actual, *e.Contains)
	default:
		return false
	}
}

// globMatch supports a single trailing "*" wildcard, the pattern vocabulary
// branch/tag conditions need (e.g. "release/*").
func globMatch(pattern, value string) bool {
	if pattern == value {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(value, strings.TrimSuffix(pattern, "*"))
	}
	return false
}

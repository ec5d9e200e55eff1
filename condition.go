package authcore

import (
	"fmt"
	"regexp"
	"strings"
)

// Operator names an attribute comparison.
type Operator string

const (
	OpEquals             Operator = "equals"
	OpNotEquals          Operator = "notEquals"
	OpContains           Operator = "contains"
	OpNotContains        Operator = "notContains"
	OpStartsWith         Operator = "startsWith"
	OpEndsWith           Operator = "endsWith"
	OpGreaterThan        Operator = "greaterThan"
	OpLessThan           Operator = "lessThan"
	OpGreaterThanOrEqual Operator = "greaterThanOrEqual"
	OpLessThanOrEqual    Operator = "lessThanOrEqual"
	OpIn                 Operator = "in"
	OpNotIn              Operator = "notIn"
	OpExists             Operator = "exists"
	OpNotExists          Operator = "notExists"
	OpBetween            Operator = "between"
	OpRegex              Operator = "regex"
)

// Condition is the declarative form of an attribute check as stored and
// configured. Value may be a "${path}" reference resolved per request.
type Condition struct {
	Field    string   `json:"field" yaml:"field" validate:"required"`
	Operator Operator `json:"operator" yaml:"operator" validate:"required"`
	Value    any      `json:"value,omitempty" yaml:"value,omitempty"`
}

// Predicate is a compiled condition.
type Predicate interface {
	Eval(attrs Attributes) bool
	String() string
}

// CompileConditions compiles every condition, failing on the first malformed one.
func CompileConditions(conds []Condition) ([]Predicate, error) {
	if len(conds) == 0 {
		return nil, nil
	}
	out := make([]Predicate, 0, len(conds))
	for i, c := range conds {
		p, err := CompileCondition(c)
		if err != nil {
			return nil, ErrValidationFailed.WithMessagef("condition %d: %s", i, errMessage(err))
		}
		out = append(out, p)
	}
	return out, nil
}

// EvaluateConditions reports whether every predicate holds.
func EvaluateConditions(preds []Predicate, attrs Attributes) bool {
	for _, p := range preds {
		if !p.Eval(attrs) {
			return false
		}
	}
	return true
}

var refPattern = regexp.MustCompile(`^\$\{([^}]+)\}$`)

// operand is either a literal or a reference into the attribute document.
type operand struct {
	literal any
	ref     string
}

func newOperand(v any) operand {
	if s, ok := v.(string); ok {
		if m := refPattern.FindStringSubmatch(s); m != nil {
			return operand{ref: strings.TrimSpace(m[1])}
		}
	}
	return operand{literal: v}
}

func (o operand) resolve(attrs Attributes) (any, bool) {
	if o.ref == "" {
		return o.literal, true
	}
	return attrs.Lookup(o.ref)
}

func (o operand) String() string {
	if o.ref != "" {
		return "${" + o.ref + "}"
	}
	return fmt.Sprintf("%v", o.literal)
}

// CompileCondition validates c and returns its predicate. Operand shapes are
// checked here so a malformed condition never reaches evaluation.
func CompileCondition(c Condition) (Predicate, error) {
	if strings.TrimSpace(c.Field) == "" {
		return nil, ErrValidationFailed.WithMessage("condition field is required")
	}
	if c.Operator == "" {
		return nil, ErrValidationFailed.WithMessagef("condition on %q: operator is required", c.Field)
	}
	op := newOperand(c.Value)
	bad := func(format string, args ...any) error {
		return ErrValidationFailed.WithMessagef("condition on %q (%s): %s", c.Field, c.Operator, fmt.Sprintf(format, args...))
	}

	switch c.Operator {
	case OpEquals, OpNotEquals:
		return &equalityPredicate{field: c.Field, value: op, negate: c.Operator == OpNotEquals}, nil

	case OpContains, OpNotContains:
		if op.ref == "" && op.literal == nil {
			return nil, bad("value is required")
		}
		return &containsPredicate{field: c.Field, value: op, negate: c.Operator == OpNotContains}, nil

	case OpStartsWith, OpEndsWith:
		if op.ref == "" {
			if _, ok := op.literal.(string); !ok {
				return nil, bad("value must be a string")
			}
		}
		return &affixPredicate{field: c.Field, value: op, suffix: c.Operator == OpEndsWith}, nil

	case OpGreaterThan, OpLessThan, OpGreaterThanOrEqual, OpLessThanOrEqual:
		if op.ref == "" && !orderable(op.literal) {
			return nil, bad("value must be a number, date or string")
		}
		return &orderingPredicate{field: c.Field, value: op, op: c.Operator}, nil

	case OpIn, OpNotIn:
		if op.ref == "" {
			if _, ok := toSlice(op.literal); !ok {
				return nil, bad("value must be an array")
			}
		}
		return &membershipPredicate{field: c.Field, set: op, negate: c.Operator == OpNotIn}, nil

	case OpExists, OpNotExists:
		return &existencePredicate{field: c.Field, negate: c.Operator == OpNotExists}, nil

	case OpBetween:
		items, ok := toSlice(c.Value)
		if !ok || len(items) != 2 {
			return nil, bad("value must be a two-element array")
		}
		lo, okLo := toFloat(items[0])
		hi, okHi := toFloat(items[1])
		if !okLo || !okHi {
			return nil, bad("bounds must be numbers")
		}
		if lo > hi {
			return nil, bad("lower bound %v exceeds upper bound %v", lo, hi)
		}
		return &rangePredicate{field: c.Field, lo: lo, hi: hi}, nil

	case OpRegex:
		if op.ref != "" {
			return &regexPredicate{field: c.Field, ref: op.ref}, nil
		}
		pattern, ok := op.literal.(string)
		if !ok {
			return nil, bad("value must be a string pattern")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, bad("invalid pattern: %v", err)
		}
		return &regexPredicate{field: c.Field, re: re}, nil
	}
	return nil, ErrValidationFailed.WithMessagef("condition on %q: unknown operator %q", c.Field, c.Operator)
}

func orderable(v any) bool {
	if _, ok := toFloat(v); ok {
		return true
	}
	if _, ok := asTime(v); ok {
		return true
	}
	_, ok := v.(string)
	return ok
}

// ============================================================================
// PREDICATES
// ============================================================================

type equalityPredicate struct {
	field  string
	value  operand
	negate bool
}

func (p *equalityPredicate) Eval(attrs Attributes) bool {
	actual, present := attrs.Lookup(p.field)
	expected, ok := p.value.resolve(attrs)
	eq := present && ok && strictEqual(actual, expected)
	return eq != p.negate
}

func (p *equalityPredicate) String() string {
	op := "=="
	if p.negate {
		op = "!="
	}
	return fmt.Sprintf("%s %s %s", p.field, op, p.value)
}

type containsPredicate struct {
	field  string
	value  operand
	negate bool
}

func (p *containsPredicate) Eval(attrs Attributes) bool {
	actual, present := attrs.Lookup(p.field)
	needle, ok := p.value.resolve(attrs)
	hit := present && ok && containsValue(actual, needle)
	return hit != p.negate
}

func (p *containsPredicate) String() string {
	if p.negate {
		return fmt.Sprintf("%s notContains %s", p.field, p.value)
	}
	return fmt.Sprintf("%s contains %s", p.field, p.value)
}

type affixPredicate struct {
	field  string
	value  operand
	suffix bool
}

func (p *affixPredicate) Eval(attrs Attributes) bool {
	actual, present := attrs.Lookup(p.field)
	if !present {
		return false
	}
	s, ok := actual.(string)
	if !ok {
		return false
	}
	v, ok := p.value.resolve(attrs)
	if !ok {
		return false
	}
	affix, ok := v.(string)
	if !ok {
		return false
	}
	if p.suffix {
		return strings.HasSuffix(s, affix)
	}
	return strings.HasPrefix(s, affix)
}

func (p *affixPredicate) String() string {
	if p.suffix {
		return fmt.Sprintf("%s endsWith %s", p.field, p.value)
	}
	return fmt.Sprintf("%s startsWith %s", p.field, p.value)
}

type orderingPredicate struct {
	field string
	value operand
	op    Operator
}

func (p *orderingPredicate) Eval(attrs Attributes) bool {
	actual, present := attrs.Lookup(p.field)
	if !present {
		return false
	}
	expected, ok := p.value.resolve(attrs)
	if !ok {
		return false
	}
	cmp, ok := compareOrdered(actual, expected)
	if !ok {
		return false
	}
	switch p.op {
	case OpGreaterThan:
		return cmp > 0
	case OpLessThan:
		return cmp < 0
	case OpGreaterThanOrEqual:
		return cmp >= 0
	case OpLessThanOrEqual:
		return cmp <= 0
	}
	return false
}

func (p *orderingPredicate) String() string {
	return fmt.Sprintf("%s %s %s", p.field, p.op, p.value)
}

type membershipPredicate struct {
	field  string
	set    operand
	negate bool
}

func (p *membershipPredicate) Eval(attrs Attributes) bool {
	actual, present := attrs.Lookup(p.field)
	raw, ok := p.set.resolve(attrs)
	if !ok {
		return p.negate
	}
	set, ok := toSlice(raw)
	if !ok {
		return false
	}
	hit := present && memberOf(actual, set)
	return hit != p.negate
}

func (p *membershipPredicate) String() string {
	if p.negate {
		return fmt.Sprintf("%s notIn %s", p.field, p.set)
	}
	return fmt.Sprintf("%s in %s", p.field, p.set)
}

type existencePredicate struct {
	field  string
	negate bool
}

func (p *existencePredicate) Eval(attrs Attributes) bool {
	v, present := attrs.Lookup(p.field)
	exists := present && v != nil
	return exists != p.negate
}

func (p *existencePredicate) String() string {
	if p.negate {
		return p.field + " notExists"
	}
	return p.field + " exists"
}

type rangePredicate struct {
	field  string
	lo, hi float64
}

func (p *rangePredicate) Eval(attrs Attributes) bool {
	v, present := attrs.Lookup(p.field)
	if !present {
		return false
	}
	f, ok := toFloat(v)
	return ok && f >= p.lo && f <= p.hi
}

func (p *rangePredicate) String() string {
	return fmt.Sprintf("%s between [%v, %v]", p.field, p.lo, p.hi)
}

// regexPredicate holds either a pattern compiled at construction or a
// reference whose pattern is compiled per evaluation.
type regexPredicate struct {
	field string
	re    *regexp.Regexp
	ref   string
}

func (p *regexPredicate) Eval(attrs Attributes) bool {
	v, present := attrs.Lookup(p.field)
	if !present {
		return false
	}
	s, ok := v.(string)
	if !ok {
		return false
	}
	re := p.re
	if re == nil {
		raw, ok := attrs.Lookup(p.ref)
		if !ok {
			return false
		}
		pattern, ok := raw.(string)
		if !ok {
			return false
		}
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		re = compiled
	}
	return re.MatchString(s)
}

func (p *regexPredicate) String() string {
	if p.re == nil {
		return fmt.Sprintf("%s matches ${%s}", p.field, p.ref)
	}
	return fmt.Sprintf("%s matches /%s/", p.field, p.re.String())
}

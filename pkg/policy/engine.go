// Package policy evaluates ODRL policies against a participant agent.
//
// Evaluation is scoped: only actions and left operands bound to the scope in
// the RuleBindingRegistry take part, everything else is ignored. A bound left
// operand needs a function registered for the scope (or for ScopeAll),
// otherwise its constraint fails.
package policy

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dataspace/pkg/errors"
	"github.com/DeBrosOfficial/dataspace/pkg/logging"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

// AtomicConstraintFunction decides one atomic constraint. rule is the
// permission, prohibition or duty the constraint belongs to.
type AtomicConstraintFunction func(op model.Operator, right any, rule model.Rule, pctx *Context) bool

// Evaluator is the engine surface used by the control plane.
type Evaluator interface {
	Evaluate(scope string, p model.Policy, pctx *Context) error
}

// Engine evaluates policies.
type Engine struct {
	bindings *RuleBindingRegistry
	logger   *logging.ColoredLogger

	mu        sync.RWMutex
	functions map[string]map[string]AtomicConstraintFunction
}

var _ Evaluator = (*Engine)(nil)

// NewEngine creates an engine over the given bindings.
func NewEngine(bindings *RuleBindingRegistry, logger *logging.ColoredLogger) *Engine {
	if bindings == nil {
		bindings = NewRuleBindingRegistry()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Engine{
		bindings:  bindings,
		logger:    logger,
		functions: map[string]map[string]AtomicConstraintFunction{},
	}
}

// Bindings returns the engine's rule binding registry.
func (e *Engine) Bindings() *RuleBindingRegistry { return e.bindings }

// RegisterFunction registers fn for leftOperand in scope.
func (e *Engine) RegisterFunction(scope, leftOperand string, fn AtomicConstraintFunction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.functions[scope] == nil {
		e.functions[scope] = map[string]AtomicConstraintFunction{}
	}
	e.functions[scope][model.StripNamespace(leftOperand)] = fn
}

func (e *Engine) function(scope, leftOperand string) AtomicConstraintFunction {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if fn := e.functions[scope][leftOperand]; fn != nil {
		return fn
	}
	return e.functions[ScopeAll][leftOperand]
}

// Evaluate returns nil when p is satisfied in scope, or a
// PolicyViolationError naming every failed rule.
func (e *Engine) Evaluate(scope string, p model.Policy, pctx *Context) error {
	if pctx == nil {
		pctx = NewContext(model.ParticipantAgent{})
	}
	pctx.Scope = scope

	var failures []string
	for _, perm := range p.Permissions {
		failures = append(failures, e.evaluateDuty("permission", perm, scope, pctx)...)
	}
	for _, ob := range p.Obligations {
		failures = append(failures, e.evaluateDuty("obligation", ob, scope, pctx)...)
	}
	for _, prohib := range p.Prohibitions {
		if !e.bindings.IsBound(prohib.Action, scope) {
			continue
		}
		// A prohibition applies when all its constraints hold.
		if fails := e.evaluateConstraints(prohib, scope, pctx); len(fails) == 0 {
			failures = append(failures, fmt.Sprintf("prohibition %s applies", model.StripNamespace(prohib.Action)))
		}
	}

	if len(failures) > 0 {
		e.logger.ComponentDebug(logging.ComponentPolicy, "Policy denied",
			zap.String("scope", scope),
			zap.String("participant", pctx.Agent.ID),
			zap.Strings("failures", failures),
		)
		return errors.NewPolicyViolationError(scope, failures)
	}
	return nil
}

// evaluateDuty checks a permission or obligation and its nested duties.
func (e *Engine) evaluateDuty(kind string, r model.Rule, scope string, pctx *Context) []string {
	if !e.bindings.IsBound(r.Action, scope) {
		return nil
	}
	var out []string
	for _, f := range e.evaluateConstraints(r, scope, pctx) {
		out = append(out, fmt.Sprintf("%s %s: %s", kind, model.StripNamespace(r.Action), f))
	}
	for _, d := range r.Duties {
		out = append(out, e.evaluateDuty("duty", d, scope, pctx)...)
	}
	return out
}

// evaluateConstraints returns a description of every failed constraint.
func (e *Engine) evaluateConstraints(r model.Rule, scope string, pctx *Context) []string {
	var out []string
	for _, c := range r.Constraints {
		pruned, ok := e.prune(c, scope)
		if !ok {
			continue
		}
		if !e.evaluateConstraint(pruned, r, scope, pctx) {
			out = append(out, describe(pruned))
		}
	}
	return out
}

// prune drops atomic constraints whose left operand is not bound in scope.
// It reports false when nothing is left to evaluate.
func (e *Engine) prune(c model.Constraint, scope string) (model.Constraint, bool) {
	if !c.IsLogical() {
		return c, e.bindings.IsBound(c.LeftOperand, scope)
	}
	pruneAll := func(cs []model.Constraint) []model.Constraint {
		var kept []model.Constraint
		for _, child := range cs {
			if p, ok := e.prune(child, scope); ok {
				kept = append(kept, p)
			}
		}
		return kept
	}
	out := model.Constraint{And: pruneAll(c.And), Or: pruneAll(c.Or), Xone: pruneAll(c.Xone)}
	return out, out.IsLogical()
}

func (e *Engine) evaluateConstraint(c model.Constraint, r model.Rule, scope string, pctx *Context) bool {
	switch {
	case len(c.And) > 0:
		for _, child := range c.And {
			if !e.evaluateConstraint(child, r, scope, pctx) {
				return false
			}
		}
		return true
	case len(c.Or) > 0:
		for _, child := range c.Or {
			if e.evaluateConstraint(child, r, scope, pctx) {
				return true
			}
		}
		return false
	case len(c.Xone) > 0:
		n := 0
		for _, child := range c.Xone {
			if e.evaluateConstraint(child, r, scope, pctx) {
				n++
			}
		}
		return n == 1
	}

	left := model.StripNamespace(c.LeftOperand)
	fn := e.function(scope, left)
	if fn == nil {
		e.logger.ComponentWarn(logging.ComponentPolicy, "No constraint function registered",
			zap.String("scope", scope),
			zap.String("left_operand", left),
		)
		return false
	}
	return fn(c.Operator, c.RightOperand, r, pctx)
}

func describe(c model.Constraint) string {
	if !c.IsLogical() {
		return fmt.Sprintf("%s %s %s", model.StripNamespace(c.LeftOperand), c.Operator, c.RightString())
	}
	join := func(op string, cs []model.Constraint) string {
		parts := make([]string, 0, len(cs))
		for _, child := range cs {
			parts = append(parts, describe(child))
		}
		return "(" + strings.Join(parts, " "+op+" ") + ")"
	}
	switch {
	case len(c.And) > 0:
		return join("and", c.And)
	case len(c.Or) > 0:
		return join("or", c.Or)
	}
	return join("xone", c.Xone)
}

package policy

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dataspace/pkg/config"
	"github.com/DeBrosOfficial/dataspace/pkg/logging"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

// Left operands handled by the bundled functions.
const (
	LeftEvaluationTime   = "POLICY_EVALUATION_TIME"
	LeftRegion           = "region"
	LeftLocation         = "locationConstraints"
	LeftRegulateFilePath = "POLICY_REGULATE_FILE_PATH"
)

// EvaluationTimeFunction compares the evaluation time against an RFC3339
// right operand.
func EvaluationTimeFunction(op model.Operator, right any, _ model.Rule, pctx *Context) bool {
	bound, err := parseTime(right)
	if err != nil {
		return false
	}
	now := pctx.now()
	switch op {
	case model.OpGt:
		return now.After(bound)
	case model.OpGeq:
		return !now.Before(bound)
	case model.OpLt:
		return now.Before(bound)
	case model.OpLeq:
		return !now.After(bound)
	case model.OpEq:
		return now.Equal(bound)
	case model.OpNeq:
		return !now.Equal(bound)
	}
	return false
}

func parseTime(v any) (time.Time, error) {
	s := model.Constraint{RightOperand: v}.RightString()
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000Z0700"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("not a timestamp: %q", s)
}

// RegionFunction compares the agent's region claim with the right operand.
func RegionFunction(logger *logging.ColoredLogger) AtomicConstraintFunction {
	return func(op model.Operator, right any, _ model.Rule, pctx *Context) bool {
		region := pctx.Agent.Claim(model.ClaimRegion)
		c := model.Constraint{RightOperand: right}
		logger.ComponentInfo(logging.ComponentPolicy, "Evaluating constraint: location",
			zap.String("operator", string(op)),
			zap.String("right", c.RightString()),
			zap.String("region", region),
		)
		switch op {
		case model.OpEq:
			return region == c.RightString()
		case model.OpNeq:
			return region != c.RightString()
		case model.OpIn, model.OpIsAnyOf:
			for _, r := range c.RightStrings() {
				if r == region {
					return true
				}
			}
		}
		return false
	}
}

// RegulateFilePathFunction rewrites the path of every local resource
// definition in the manifest under evaluation. It only supports eq.
func RegulateFilePathFunction(logger *logging.ColoredLogger) AtomicConstraintFunction {
	return func(op model.Operator, right any, _ model.Rule, pctx *Context) bool {
		if op != model.OpEq {
			return false
		}
		path := model.Constraint{RightOperand: right}.RightString()
		manifest, ok := ContextData[*model.ResourceManifest](pctx, DataResourceManifest)
		if !ok || manifest == nil {
			return true
		}
		for i := range manifest.Definitions {
			if manifest.Definitions[i].Type == model.ResourceTypeLocal {
				manifest.Definitions[i].PathName = path
			}
		}
		logger.ComponentDebug(logging.ComponentPolicy, "Regulated destination path", zap.String("path", path))
		return true
	}
}

// RegisterSampleFunctions binds the USE action and the bundled left operands
// and registers their functions, then applies any configured bindings.
func RegisterSampleFunctions(e *Engine, bindings []config.RuleBinding) {
	reg := e.Bindings()
	reg.Bind("USE", ScopeAll)
	for _, key := range []string{LeftEvaluationTime, LeftRegion, LeftLocation} {
		reg.Bind(key, ScopeAll)
	}
	reg.Bind(LeftRegulateFilePath, ScopeProvision)

	e.RegisterFunction(ScopeAll, LeftEvaluationTime, EvaluationTimeFunction)
	e.RegisterFunction(ScopeAll, LeftRegion, RegionFunction(e.logger))
	e.RegisterFunction(ScopeAll, LeftLocation, RegionFunction(e.logger))
	e.RegisterFunction(ScopeProvision, LeftRegulateFilePath, RegulateFilePathFunction(e.logger))

	ApplyBindings(e, bindings)
}

// ApplyBindings adds configured rule bindings.
func ApplyBindings(e *Engine, bindings []config.RuleBinding) {
	for _, b := range bindings {
		e.Bindings().Bind(b.Key, b.Scope)
	}
}

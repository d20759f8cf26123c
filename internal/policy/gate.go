// Package policy decides whether a ranked run should fail the pipeline.
package policy

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sastrank/api/schemas"
	"github.com/xkilldash9x/sastrank/internal/config"
)

// Gate is violated by any finding whose final score reaches Threshold, or
// for which the optional CEL Expression evaluates to true.
type Gate struct {
	Threshold  float64
	Expression string

	program cel.Program
	logger  *zap.Logger
}

// NewGate compiles the expression, if any. The expression must evaluate to a
// bool over the variables declared in newEnv.
func NewGate(threshold float64, expression string, logger *zap.Logger) (*Gate, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gate{
		Threshold:  threshold,
		Expression: strings.TrimSpace(expression),
		logger:     logger.Named("policy"),
	}
	if g.Expression == "" {
		return g, nil
	}

	env, err := newEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create policy environment: %w", err)
	}
	ast, iss := env.Compile(g.Expression)
	if iss.Err() != nil {
		return nil, fmt.Errorf("failed to compile policy expression: %w", iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("policy expression must evaluate to bool, got %s", ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build policy program: %w", err)
	}
	g.program = prg
	return g, nil
}

// NewGateFromConfig builds a gate from the policy section of the config.
func NewGateFromConfig(cfg config.PolicyConfig, logger *zap.Logger) (*Gate, error) {
	return NewGate(cfg.Threshold, cfg.Expression, logger)
}

func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("final_score", cel.DoubleType),
		cel.Variable("final_severity", cel.StringType),
		cel.Variable("heuristic_score", cel.DoubleType),
		cel.Variable("fp_probability", cel.DoubleType),
		cel.Variable("rule_id", cel.StringType),
		cel.Variable("category", cel.StringType),
		cel.Variable("file_path", cel.StringType),
		cel.Variable("tool", cel.StringType),
		cel.Variable("rank", cel.IntType),
	)
}

// Evaluate checks every finding. The threshold comparison is inclusive.
func (g *Gate) Evaluate(findings []schemas.PrioritizedFinding) schemas.PolicyVerdict {
	v := schemas.PolicyVerdict{
		Threshold:  g.Threshold,
		Expression: g.Expression,
		Offending:  []string{},
	}
	for _, pf := range findings {
		if pf.FinalScore >= g.Threshold || g.matches(pf) {
			v.Offending = append(v.Offending, pf.Finding.ID)
		}
	}
	v.Violated = len(v.Offending) > 0
	return v
}

// matches evaluates the expression. Runtime errors are logged and count as
// no match.
func (g *Gate) matches(pf schemas.PrioritizedFinding) bool {
	if g.program == nil {
		return false
	}
	out, _, err := g.program.Eval(activation(pf))
	if err != nil {
		g.logger.Warn("Policy expression failed to evaluate.",
			zap.String("finding_id", pf.Finding.ID),
			zap.Error(err),
		)
		return false
	}
	matched, ok := out.Value().(bool)
	return ok && matched
}

func activation(pf schemas.PrioritizedFinding) map[string]any {
	fp := -1.0
	if pf.AIFPProbability != nil {
		fp = *pf.AIFPProbability
	}
	return map[string]any{
		"final_score":     pf.FinalScore,
		"final_severity":  string(pf.FinalSeverity),
		"heuristic_score": pf.NormalizedScore,
		"fp_probability":  fp,
		"rule_id":         pf.Finding.RuleID,
		"category":        pf.Finding.Category,
		"file_path":       pf.Finding.FilePath,
		"tool":            pf.Finding.Tool,
		"rank":            int64(pf.Rank),
	}
}

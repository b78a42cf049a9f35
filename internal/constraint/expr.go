package constraint

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/google/cel-go/cel"

	"github.com/mattjoyce/herd/internal/log"
	"github.com/mattjoyce/herd/internal/pool"
)

const (
	EngineCEL = "cel"
	EngineJS  = "js"
)

// ExprSpec is a declarative constraint, typically loaded from config.
// Test is a boolean expression over value, worker_index, worker_identity,
// worker_kind and args. A nil OnSuccess/OnFailure means "no adjustment".
type ExprSpec struct {
	Name      string
	Engine    string
	Test      string
	Initial   float64
	OnSuccess *float64
	OnFailure *float64
}

// jsDeadline bounds one JavaScript evaluation. Tests run while the
// dispatcher holds its selection lock, so a script that never returns would
// stall every dispatch.
var jsDeadline = 250 * time.Millisecond

type predicate func(vars map[string]any) (bool, error)

// Compile turns spec into a Def whose Test evaluates the expression. An
// expression that fails at evaluation time makes the worker ineligible.
func Compile(spec ExprSpec) (Def, error) {
	if strings.TrimSpace(spec.Test) == "" {
		return Def{}, fmt.Errorf("%w: %s: test expression is empty", ErrInvalidDef, spec.Name)
	}

	var (
		pred predicate
		err  error
	)
	switch strings.ToLower(spec.Engine) {
	case "", EngineCEL:
		pred, err = compileCEL(spec.Test)
	case EngineJS:
		pred, err = compileJS(spec.Name, spec.Test)
	default:
		return Def{}, fmt.Errorf("%w: %s: unknown engine %q", ErrInvalidDef, spec.Name, spec.Engine)
	}
	if err != nil {
		return Def{}, fmt.Errorf("%w: %s: %v", ErrInvalidDef, spec.Name, err)
	}

	logger := log.WithComponent("constraint").With(slog.String("constraint", spec.Name))
	initial := spec.Initial
	def := Def{
		Name:         spec.Name,
		InitialValue: func(int) float64 { return initial },
		Test: func(w *pool.Worker, value float64, args any) bool {
			ok, err := pred(map[string]any{
				"value":           value,
				"worker_index":    int64(w.Index),
				"worker_identity": w.Identity,
				"worker_kind":     w.Kind,
				"args":            args,
			})
			if err != nil {
				logger.Warn("constraint expression failed", "worker_index", w.Index, "error", err)
				return false
			}
			return ok
		},
	}
	if spec.OnSuccess != nil {
		def.OnSuccess = Const(*spec.OnSuccess)
	}
	if spec.OnFailure != nil {
		def.OnFailure = Const(*spec.OnFailure)
	}
	return def, def.Validate()
}

func compileCEL(expr string) (predicate, error) {
	env, err := cel.NewEnv(
		cel.Variable("value", cel.DoubleType),
		cel.Variable("worker_index", cel.IntType),
		cel.Variable("worker_identity", cel.StringType),
		cel.Variable("worker_kind", cel.StringType),
		cel.Variable("args", cel.DynType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	prog, err := env.Program(ast)
	if err != nil {
		return nil, err
	}

	return func(vars map[string]any) (bool, error) {
		out, _, err := prog.Eval(vars)
		if err != nil {
			return false, err
		}
		b, ok := out.Value().(bool)
		if !ok {
			return false, fmt.Errorf("expression returned %T, want bool", out.Value())
		}
		return b, nil
	}, nil
}

func compileJS(name, expr string) (predicate, error) {
	prog, err := goja.Compile(name, "("+expr+")", true)
	if err != nil {
		return nil, err
	}

	// goja runtimes are not goroutine-safe; the compiled program is.
	return func(vars map[string]any) (bool, error) {
		vm := goja.New()
		for k, v := range vars {
			if err := vm.Set(k, v); err != nil {
				return false, fmt.Errorf("set %s: %w", k, err)
			}
		}
		timer := time.AfterFunc(jsDeadline, func() {
			vm.Interrupt(fmt.Sprintf("evaluation exceeded %s", jsDeadline))
		})
		defer timer.Stop()

		res, err := vm.RunProgram(prog)
		if err != nil {
			return false, err
		}
		return res.ToBoolean(), nil
	}, nil
}

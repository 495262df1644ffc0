package sandbox

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/lumenflow/orchestrator/common/logger"
)

// Sandbox evaluates connection conversion functions using CEL. CEL gives the
// restricted environment the contract demands for free: no I/O, no imports,
// no environment access, and a bounded evaluation cost. The expression sees
// one variable, `input`, and must produce a mapping; any other result is
// wrapped as {"converted_data": value}.
type Sandbox struct {
	env   *cel.Env
	cache map[string]cel.Program
	mu    sync.RWMutex
	log   *logger.Logger
}

// costLimit bounds evaluation work per conversion. Conversions are small
// reshaping expressions; anything that hits this limit is runaway.
const costLimit = 1_000_000

// New creates a sandbox with a shared compile cache
func New(log *logger.Logger) (*Sandbox, error) {
	env, err := cel.NewEnv(
		cel.Variable("input", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	return &Sandbox{
		env:   env,
		cache: make(map[string]cel.Program),
		log:   log,
	}, nil
}

// Convert applies a conversion function to an edge value. An empty source or
// the bare identity expression is a passthrough. Compile or runtime errors
// return the input unchanged and log a warning; a failing conversion never
// fails the edge.
func (s *Sandbox) Convert(source string, input map[string]any) map[string]any {
	if input == nil {
		input = make(map[string]any)
	}
	if source == "" || source == "input" {
		return input
	}

	prg, err := s.program(source)
	if err != nil {
		s.log.Warn("conversion function failed to compile, passing value through",
			"error", err)
		return input
	}

	out, _, err := prg.Eval(map[string]any{"input": input})
	if err != nil {
		s.log.Warn("conversion function failed at runtime, passing value through",
			"error", err)
		return input
	}

	// Mapping results are delivered as-is.
	if native, err := out.ConvertToNative(reflect.TypeOf(map[string]any{})); err == nil {
		if m, ok := native.(map[string]any); ok {
			return m
		}
	}

	// Non-mapping results get wrapped before delivery.
	return map[string]any{"converted_data": nativeValue(out.Value())}
}

// Eval evaluates an expression against an input mapping and returns the raw
// result. Unlike Convert, failures surface as errors: flow predicates and
// transform bodies must not silently pass values through.
func (s *Sandbox) Eval(source string, input map[string]any) (any, error) {
	if input == nil {
		input = make(map[string]any)
	}

	prg, err := s.program(source)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.Eval(map[string]any{"input": input})
	if err != nil {
		return nil, fmt.Errorf("CEL evaluation error: %w", err)
	}

	if native, err := out.ConvertToNative(reflect.TypeOf(map[string]any{})); err == nil {
		if m, ok := native.(map[string]any); ok {
			return m, nil
		}
	}
	if native, err := out.ConvertToNative(reflect.TypeOf([]any{})); err == nil {
		if l, ok := native.([]any); ok {
			return l, nil
		}
	}
	return nativeValue(out.Value()), nil
}

// Check compiles a conversion function without running it. Used at workflow
// validation time so broken functions are reported early, even though they
// would not fail the edge.
func (s *Sandbox) Check(source string) error {
	if source == "" || source == "input" {
		return nil
	}
	_, err := s.program(source)
	return err
}

// program returns a compiled program from cache, compiling on miss
func (s *Sandbox) program(source string) (cel.Program, error) {
	s.mu.RLock()
	prg, exists := s.cache[source]
	s.mu.RUnlock()

	if exists {
		return prg, nil
	}

	ast, issues := s.env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation error: %w", issues.Err())
	}

	prg, err := s.env.Program(ast,
		cel.EvalOptions(cel.OptTrackCost),
		cel.CostLimit(costLimit),
		cel.InterruptCheckFrequency(100),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	s.mu.Lock()
	s.cache[source] = prg
	s.mu.Unlock()

	return prg, nil
}

// CacheSize returns the number of cached programs
func (s *Sandbox) CacheSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

// nativeValue unwraps CEL scalar values to plain Go for JSON delivery
func nativeValue(v any) any {
	switch val := v.(type) {
	case int64, float64, bool, string, []byte:
		return val
	default:
		return v
	}
}

// Package filter evaluates CEL expressions against cached records.
//
// Every JSON field of a record is a top-level variable, so an options-flow
// filter reads `optionType == "put" && premium > 250000.0`. Decimal fields
// are exposed as doubles and times as CEL timestamps.
package filter

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// maxPrograms bounds the compiled-program cache.
const maxPrograms = 512

// Engine compiles and caches filter programs per kind.
type Engine struct {
	mu       sync.RWMutex
	envs     map[domain.Kind]*cel.Env
	programs map[string]*Program
}

// Program is a compiled filter for one kind.
type Program struct {
	Kind       domain.Kind
	Expression string
	program    cel.Program
}

// NewEngine creates an empty engine. Environments are built lazily.
func NewEngine() *Engine {
	return &Engine{
		envs:     make(map[domain.Kind]*cel.Env),
		programs: make(map[string]*Program),
	}
}

// Compile returns the program for expr, compiling it on first use.
// Invalid expressions wrap domain.ErrInvalidInput.
func (e *Engine) Compile(kind domain.Kind, expr string) (*Program, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty filter", domain.ErrInvalidInput)
	}
	key := string(kind) + "\x00" + expr

	e.mu.RLock()
	p, ok := e.programs[key]
	e.mu.RUnlock()
	if ok {
		return p, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if p, ok := e.programs[key]; ok {
		return p, nil
	}

	env, err := e.env(kind)
	if err != nil {
		return nil, err
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: filter %q: %v", domain.ErrInvalidInput, expr, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DynType {
		return nil, fmt.Errorf("%w: filter must return bool, got %s", domain.ErrInvalidInput, outputType)
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: filter %q: %v", domain.ErrInvalidInput, expr, err)
	}

	if len(e.programs) >= maxPrograms {
		e.programs = make(map[string]*Program)
	}
	p = &Program{Kind: kind, Expression: expr, program: prg}
	e.programs[key] = p
	return p, nil
}

// env builds the CEL environment of kind from its record's JSON fields.
// Callers hold e.mu.
func (e *Engine) env(kind domain.Kind) (*cel.Env, error) {
	if env, ok := e.envs[kind]; ok {
		return env, nil
	}

	rec, err := domain.NewRecord(kind)
	if err != nil {
		return nil, err
	}

	opts := []cel.EnvOption{cel.CrossTypeNumericComparisons(true)}
	for _, name := range fieldNames(reflect.TypeOf(rec).Elem()) {
		opts = append(opts, cel.Variable(name, cel.DynType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment for %s: %w", kind, err)
	}
	e.envs[kind] = env
	return env, nil
}

// Match reports whether rec satisfies the program.
func (p *Program) Match(rec domain.Record) (bool, error) {
	out, _, err := p.program.Eval(Activation(rec))
	if err != nil {
		return false, fmt.Errorf("evaluation error: %w", err)
	}
	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("filter returned %s, not bool", out.Type().TypeName())
	}
	return bool(b), nil
}

// Apply returns the records matching the program, preserving order.
func (p *Program) Apply(records []domain.Record) ([]domain.Record, error) {
	out := make([]domain.Record, 0, len(records))
	for _, rec := range records {
		ok, err := p.Match(rec)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

var (
	decimalType   = reflect.TypeOf(decimal.Decimal{})
	timeType      = reflect.TypeOf(time.Time{})
	extensionType = reflect.TypeOf(domain.Extension{})
)

// Activation flattens rec into CEL variables keyed by JSON name.
func Activation(rec domain.Record) map[string]any {
	v := reflect.ValueOf(rec)
	if v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	t := v.Type()

	out := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, ok := jsonName(t.Field(i))
		if !ok {
			continue
		}
		out[name] = celValue(v.Field(i))
	}
	return out
}

func celValue(f reflect.Value) any {
	switch f.Type() {
	case decimalType:
		return f.Interface().(decimal.Decimal).InexactFloat64()
	case timeType:
		return f.Interface().(time.Time)
	case extensionType:
		if f.IsNil() {
			return map[string]any{}
		}
		return map[string]any(f.Interface().(domain.Extension))
	}

	switch f.Kind() {
	case reflect.String:
		return f.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return f.Int()
	case reflect.Bool:
		return f.Bool()
	case reflect.Float32, reflect.Float64:
		return f.Float()
	default:
		return f.Interface()
	}
}

func fieldNames(t reflect.Type) []string {
	names := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		if name, ok := jsonName(t.Field(i)); ok {
			names = append(names, name)
		}
	}
	return names
}

func jsonName(f reflect.StructField) (string, bool) {
	if !f.IsExported() {
		return "", false
	}
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		name = f.Name
	}
	return name, true
}

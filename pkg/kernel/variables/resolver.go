package variables

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/google/uuid"

	"github.com/ormasoftchile/msgrun/pkg/kernel/schema"
)

// Variable kinds.
const (
	KindString   = "string"
	KindInt      = "int"
	KindDate     = "date"
	KindList     = "list"
	KindSequence = "sequence"
	KindUUID     = "uuid"
	KindExpr     = "expr"
)

const (
	defaultStringLength = 8
	defaultDateLayout   = time.RFC3339
)

var charsets = map[string]string{
	"alpha":        "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ",
	"numeric":      "0123456789",
	"alphanumeric": "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789",
	"hex":          "0123456789abcdef",
}

// Resolver generates variable values for one run. It owns the run-scoped
// random source and sequence counters; a Resolver is not safe for
// concurrent use.
type Resolver struct {
	rng      *rand.Rand
	now      func() time.Time
	seq      map[string]int64
	programs map[string]*vm.Program
}

// NewResolver returns a resolver whose random values are fully determined
// by seed.
func NewResolver(seed uint64) *Resolver {
	return &Resolver{
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now:      time.Now,
		seq:      make(map[string]int64),
		programs: make(map[string]*vm.Program),
	}
}

// WithClock replaces the time source used by date variables.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Generate produces one value for def.
func (r *Resolver) Generate(def *schema.VariableDef) (string, error) {
	if def.Value != nil {
		return *def.Value, nil
	}
	switch def.Kind {
	case KindString, "":
		return r.genString(def)
	case KindInt:
		return strconv.FormatInt(r.intIn(def.Min, def.Max), 10), nil
	case KindDate:
		return r.genDate(def)
	case KindList:
		if len(def.Values) == 0 {
			return "", fmt.Errorf("variable %q: list has no values", def.Name)
		}
		return def.Values[r.rng.IntN(len(def.Values))], nil
	case KindSequence:
		return r.nextSeq(def), nil
	case KindUUID:
		return r.genUUID()
	case KindExpr:
		return r.evalExpr(def)
	default:
		return "", fmt.Errorf("variable %q: unknown kind %q", def.Name, def.Kind)
	}
}

// GenerateFor generates one fresh value for every catalog variable
// referenced by any of texts. Names the catalog does not define are skipped.
func (r *Resolver) GenerateFor(cat Catalog, texts ...string) (map[string]string, error) {
	if cat == nil {
		return nil, nil
	}
	var out map[string]string
	for _, t := range texts {
		for _, name := range Names(t) {
			if _, done := out[name]; done {
				continue
			}
			def, ok := cat.Lookup(name)
			if !ok {
				continue
			}
			v, err := r.Generate(def)
			if err != nil {
				return nil, err
			}
			if out == nil {
				out = make(map[string]string)
			}
			out[name] = v
		}
	}
	return out, nil
}

func (r *Resolver) genString(def *schema.VariableDef) (string, error) {
	n := def.Length
	if n <= 0 {
		n = defaultStringLength
	}
	cs := def.Charset
	if cs == "" {
		cs = "alphanumeric"
	}
	alphabet, ok := charsets[cs]
	if !ok {
		return "", fmt.Errorf("variable %q: unknown charset %q", def.Name, cs)
	}
	var b strings.Builder
	b.Grow(n)
	for range n {
		b.WriteByte(alphabet[r.rng.IntN(len(alphabet))])
	}
	return b.String(), nil
}

// intIn returns a value in [lo, hi]. An empty range means [0, MaxInt32].
func (r *Resolver) intIn(lo, hi int64) int64 {
	if lo == 0 && hi == 0 {
		hi = 1<<31 - 1
	}
	if hi < lo {
		lo, hi = hi, lo
	}
	width := uint64(hi) - uint64(lo)
	if width == math.MaxUint64 {
		return int64(r.rng.Uint64())
	}
	return lo + int64(r.rng.Uint64N(width+1))
}

func (r *Resolver) genDate(def *schema.VariableDef) (string, error) {
	t := r.now()
	if def.Offset != "" {
		d, err := time.ParseDuration(def.Offset)
		if err != nil {
			return "", fmt.Errorf("variable %q: offset: %w", def.Name, err)
		}
		t = t.Add(d)
	}
	if def.Spread != "" {
		d, err := time.ParseDuration(def.Spread)
		if err != nil {
			return "", fmt.Errorf("variable %q: spread: %w", def.Name, err)
		}
		if d > 0 {
			t = t.Add(time.Duration(r.rng.Int64N(int64(2*d)+1)) - d)
		}
	}
	layout := def.Layout
	if layout == "" {
		layout = defaultDateLayout
	}
	return t.Format(layout), nil
}

func (r *Resolver) nextSeq(def *schema.VariableDef) string {
	step := def.Step
	if step == 0 {
		step = 1
	}
	cur, ok := r.seq[def.Name]
	if !ok {
		cur = def.Min
	} else {
		cur += step
		if def.Max != 0 && cur > def.Max {
			cur = def.Min
		}
	}
	r.seq[def.Name] = cur
	return strconv.FormatInt(cur, 10)
}

func (r *Resolver) genUUID() (string, error) {
	var b [16]byte
	for i := range b {
		b[i] = byte(r.rng.UintN(256))
	}
	// version 4, RFC 4122 variant
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	id, err := uuid.FromBytes(b[:])
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (r *Resolver) exprEnv() map[string]any {
	return map[string]any{
		"now":     r.now,
		"randInt": func(lo, hi int) int { return int(r.intIn(int64(lo), int64(hi))) },
		"pick": func(xs ...string) string {
			if len(xs) == 0 {
				return ""
			}
			return xs[r.rng.IntN(len(xs))]
		},
		"uuid": func() string {
			s, _ := r.genUUID()
			return s
		},
	}
}

func (r *Resolver) evalExpr(def *schema.VariableDef) (string, error) {
	env := r.exprEnv()
	program, ok := r.programs[def.Name]
	if !ok {
		var err error
		program, err = expr.Compile(def.Expr, expr.Env(env))
		if err != nil {
			return "", fmt.Errorf("compile variable %q: %w", def.Name, err)
		}
		r.programs[def.Name] = program
	}
	output, err := expr.Run(program, env)
	if err != nil {
		return "", fmt.Errorf("eval variable %q: %w", def.Name, err)
	}
	return fmt.Sprint(output), nil
}

package engine

import (
	"strings"
	"testing"

	"github.com/ormasoftchile/msgrun/pkg/kernel/result"
	"github.com/ormasoftchile/msgrun/pkg/kernel/schema"
	"github.com/ormasoftchile/msgrun/pkg/kernel/variables"
)

func strPtr(s string) *string { return &s }

func TestResolveGlobals_Order(t *testing.T) {
	cat := variables.MapCatalog{
		"a": {Name: "a", Kind: variables.KindSequence, Min: 10},
		"b": {Name: "b", Kind: variables.KindSequence, Min: 20},
		"c": {Name: "c", Kind: variables.KindSequence, Min: 30},
	}
	decls := []schema.GlobalVariable{
		{Name: "a"},
		{Name: "b", ConstantValue: strPtr("const")},
		{Name: "c", ConstantValue: strPtr("const")},
	}
	got, f := resolveGlobals(decls, cat, variables.NewResolver(1), map[string]string{"c": "cli"})
	if f != nil {
		t.Fatal(f)
	}
	if got["a"] != "10" {
		t.Errorf("a = %q, want generated 10", got["a"])
	}
	if got["b"] != "const" {
		t.Errorf("b = %q, want const", got["b"])
	}
	if got["c"] != "cli" {
		t.Errorf("c = %q, want override cli", got["c"])
	}
}

func TestResolveGlobals_NotFound(t *testing.T) {
	cat := variables.MapCatalog{"orderId": {Name: "orderId"}}
	_, f := resolveGlobals([]schema.GlobalVariable{{Name: "orderID", ConstantValue: strPtr("x")}}, cat, variables.NewResolver(1), nil)
	if f == nil {
		t.Fatal("expected failure")
	}
	if f.Kind != result.VariableNotFound || f.Name != "orderID" {
		t.Errorf("failure = %+v", f)
	}
	if want := `did you mean "orderId"?`; !strings.Contains(f.Message, want) {
		t.Errorf("message = %q, want hint %q", f.Message, want)
	}
}

func TestResolveGlobals_NilCatalog(t *testing.T) {
	_, f := resolveGlobals([]schema.GlobalVariable{{Name: "x"}}, nil, variables.NewResolver(1), nil)
	if f == nil || f.Kind != result.VariableNotFound {
		t.Errorf("failure = %v", f)
	}
}

func TestResolveGlobals_GeneratorError(t *testing.T) {
	cat := variables.MapCatalog{"e": {Name: "e", Kind: variables.KindExpr, Expr: "1 +"}}
	_, f := resolveGlobals([]schema.GlobalVariable{{Name: "e"}}, cat, variables.NewResolver(1), nil)
	if f == nil || f.Kind != result.ValidationException || f.Err == nil {
		t.Errorf("failure = %v", f)
	}
}

func TestClosest(t *testing.T) {
	if got := closest("/orders/nwe", []string{"/orders/new", "/billing/x"}); got != "/orders/new" {
		t.Errorf("closest = %q", got)
	}
	if got := closest("abc", []string{"xyz123"}); got != "" {
		t.Errorf("closest = %q, want none", got)
	}
}

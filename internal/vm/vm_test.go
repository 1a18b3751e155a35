package vm

import (
	"bytes"
	"strings"
	"testing"
)

type vmTestCase struct {
	input    string
	expected string
}

func newTestVM() (*VM, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	m := New()
	m.Stdout = &out
	m.Stderr = &errOut
	return m, &out, &errOut
}

func runVMTests(t *testing.T, tests []vmTestCase) {
	t.Helper()
	for _, tt := range tests {
		m, out, errOut := newTestVM()
		if result := m.Interpret(tt.input); result != OK {
			t.Fatalf("input %q: Interpret returned %s, stderr: %s", tt.input, result, errOut.String())
		}
		if got := strings.TrimRight(out.String(), "\n"); got != tt.expected {
			t.Errorf("input %q: stdout = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestArithmetic(t *testing.T) {
	runVMTests(t, []vmTestCase{
		{"print 1 + 2 * 3;", "7"},
		{"print (1 + 2) * 3;", "9"},
		{"print 10 / 4;", "2.5"},
		{"print -5 + 2;", "-3"},
		{"print 1 <> 2;", "-1"},
		{"print 2 <> 2;", "0"},
		{"print 3 <> 2;", "1"},
	})
}

func TestBooleanLogicAndComparison(t *testing.T) {
	runVMTests(t, []vmTestCase{
		{"print true;", "true"},
		{"print false;", "false"},
		{"print nil;", "nil"},
		{"print !false;", "true"},
		{"print 1 < 2;", "true"},
		{"print 1 > 2;", "false"},
		{"print 1 == 1;", "true"},
		{"print 1 != 1;", "false"},
		{"print 1 <= 1;", "true"},
		{"print 2 >= 3;", "false"},
		{"print true and false;", "false"},
		{"print true or false;", "true"},
		{"print false and (1/0 == 1);", "false"},
	})
}

func TestStrings(t *testing.T) {
	runVMTests(t, []vmTestCase{
		{"print `hello`;", "hello"},
		{"print `foo` + `bar`;", "foobar"},
	})
}

// TestStringInterning exercises spec.md §8's reference-equality
// property: two OP_CONSTANT loads of the same literal text push the
// same *object.String, so concatenation results that happen to match
// an existing literal are still the same object.
func TestStringInterning(t *testing.T) {
	m, out, _ := newTestVM()
	src := "var a = `foo` + `bar`; var b = `foobar`; print a == b;"
	if result := m.Interpret(src); result != OK {
		t.Fatalf("Interpret returned %s", result)
	}
	if got := strings.TrimRight(out.String(), "\n"); got != "true" {
		t.Fatalf("stdout = %q, want %q", got, "true")
	}

	a, _ := m.globals.Get(m.InternString("a"))
	b, _ := m.globals.Get(m.InternString("b"))
	if a.AsObj != b.AsObj {
		t.Fatalf("expected interned strings to share one *object.String, got distinct pointers")
	}
}

func TestGlobalsAndScoping(t *testing.T) {
	runVMTests(t, []vmTestCase{
		{"var x = 1; { var x = 2; print x; } print x;", "2\n1"},
		{"var x = 10; x = x + 5; print x;", "15"},
	})
}

func TestControlFlow(t *testing.T) {
	runVMTests(t, []vmTestCase{
		{"if (true) print 1; else print 2;", "1"},
		{"if (false) print 1; else print 2;", "2"},
		{"var i = 0; while (i < 3) { print i; i = i + 1; }", "0\n1\n2"},
	})
}

func TestRuntimeErrors(t *testing.T) {
	tests := []string{
		"print 1 + true;",
		"print -true;",
		"print x;",
		"x = 1;",
	}
	for _, input := range tests {
		m, _, _ := newTestVM()
		if result := m.Interpret(input); result != RuntimeError {
			t.Errorf("input %q: Interpret returned %s, want RUNTIME_ERROR", input, result)
		}
	}
}

// TestStackOverflowIsRuntimeError exercises a deeply nested expression
// that keeps more than StackMax boolean values live before any pop —
// true + (true + (true + ( ... ))) never touches the constant table,
// so it must be caught by push's own depth check rather than panicking.
func TestStackOverflowIsRuntimeError(t *testing.T) {
	src := "print "
	for i := 0; i < StackMax+10; i++ {
		src += "true + ("
	}
	src += "true"
	for i := 0; i < StackMax+10; i++ {
		src += ")"
	}
	src += ";"

	m, _, errOut := newTestVM()
	if result := m.Interpret(src); result != RuntimeError {
		t.Fatalf("Interpret returned %s, want RUNTIME_ERROR", result)
	}
	if !strings.Contains(errOut.String(), "Stack overflow") {
		t.Fatalf("stderr = %q, want it to mention stack overflow", errOut.String())
	}

	// the VM must remain usable afterward, per spec.md §7.
	out := &bytes.Buffer{}
	m.Stdout = out
	if result := m.Interpret("print 1;"); result != OK {
		t.Fatalf("expected OK after recovering from stack overflow, got %s", result)
	}
	if got := strings.TrimRight(out.String(), "\n"); got != "1" {
		t.Fatalf("stdout = %q, want %q", got, "1")
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []string{
		"1 +;",
		"print 1",
		"1 + 2 = 3;",
	}
	for _, input := range tests {
		m, _, _ := newTestVM()
		if result := m.Interpret(input); result != CompileError {
			t.Errorf("input %q: Interpret returned %s, want COMPILE_ERROR", input, result)
		}
	}
}

// TestVMReusableAfterError checks spec.md §7's "VM remains usable for
// subsequent interpret calls" guarantee.
func TestVMReusableAfterError(t *testing.T) {
	m, out, _ := newTestVM()
	if result := m.Interpret("print 1 + true;"); result != RuntimeError {
		t.Fatalf("expected RUNTIME_ERROR, got %s", result)
	}
	out.Reset()
	if result := m.Interpret("print 42;"); result != OK {
		t.Fatalf("expected OK after recovering from a runtime error, got %s", result)
	}
	if got := strings.TrimRight(out.String(), "\n"); got != "42" {
		t.Fatalf("stdout = %q, want %q", got, "42")
	}
}

package kernelmock

import (
	"context"
	"errors"
	"testing"

	"pkt.systems/kernelx/schema"
)

type recordEmitter struct {
	streams []string
	clears  int
}

func (r *recordEmitter) stream(_ schema.StreamName, text string) { r.streams = append(r.streams, text) }
func (r *recordEmitter) display(schema.MimeBundle, schema.DisplayID, bool) {}
func (r *recordEmitter) clear(bool)                                       { r.clears++ }

func evalString(t *testing.T, in *interpreter, code string) string {
	t.Helper()
	value, err := in.run(context.Background(), code, &recordEmitter{})
	if err != nil {
		t.Fatalf("run %q: %v", code, err)
	}
	return repr(value)
}

func TestEvaluateExpressions(t *testing.T) {
	in := newInterpreter()
	cases := map[string]string{
		"1 + 2 * 3":         "7",
		"7 / 2":             "3.5",
		"6 / 3":             "2.0",
		"7 % 4":             "3",
		"-(2 - 5)":          "3",
		"\"a\" + \"b\"":     "'ab'",
		"1 < 2 && 3 >= 3":   "True",
		"\"x\" == 1":        "False",
		"len(\"héllo\")":    "5",
		"str(1.5) + \"!\"":  "'1.5!'",
		"None":              "None",
		"'z'":               "'z'",
		"10000000000 * 100": "1000000000000",
	}
	for code, want := range cases {
		if got := evalString(t, in, code); got != want {
			t.Fatalf("%s: got %s want %s", code, got, want)
		}
	}
}

func TestEvaluateErrors(t *testing.T) {
	in := newInterpreter()
	cases := map[string]string{
		"missing":        "NameError",
		"1 +":            "SyntaxError",
		"\"a\" - 1":      "TypeError",
		"1 % 0":          "ZeroDivisionError",
		"fail(\"nope\")": "RuntimeError",
		"nosuch(1)":      "NameError",
		"None + 1":       "TypeError",
		"\"a\" < 1":      "TypeError",
	}
	for code, want := range cases {
		_, err := in.run(context.Background(), code, &recordEmitter{})
		var evalErr *evalError
		if !errors.As(err, &evalErr) || evalErr.name != want {
			t.Fatalf("%s: expected %s, got %v", code, want, err)
		}
	}
}

func TestAssignmentAndComments(t *testing.T) {
	in := newInterpreter()
	emit := &recordEmitter{}
	value, err := in.run(context.Background(), "# setup\na = 4\nb = a == 4\nprint(a, b)\nclear_output()", emit)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if value != nil {
		t.Fatalf("expected None result, got %v", value)
	}
	if len(emit.streams) != 1 || emit.streams[0] != "4 True\n" || emit.clears != 1 {
		t.Fatalf("unexpected effects %+v", emit)
	}
}

func TestSleepHonorsCancellation(t *testing.T) {
	in := newInterpreter()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := in.run(ctx, "sleep(1)", &recordEmitter{})
	var evalErr *evalError
	if !errors.As(err, &evalErr) || evalErr.name != "KeyboardInterrupt" {
		t.Fatalf("expected KeyboardInterrupt, got %v", err)
	}
}

package kernelmock

import (
	"context"
	"fmt"
	"go/ast"
	"go/constant"
	"go/parser"
	"go/token"
	"strconv"
	"strings"
	"time"

	"pkt.systems/kernelx/schema"
)

// evalError is an exception raised by evaluated code.
type evalError struct {
	name  string
	value string
}

func (e *evalError) Error() string {
	if e.value == "" {
		return e.name
	}
	return e.name + ": " + e.value
}

func raise(name, format string, args ...any) *evalError {
	return &evalError{name: name, value: fmt.Sprintf(format, args...)}
}

// emitter receives the side effects of builtins.
type emitter interface {
	stream(name schema.StreamName, text string)
	display(data schema.MimeBundle, id schema.DisplayID, update bool)
	clear(wait bool)
}

// interpreter evaluates one expression or assignment per line using Go
// constant arithmetic. A nil value is None.
type interpreter struct {
	vars map[string]constant.Value
}

func newInterpreter() *interpreter {
	return &interpreter{vars: make(map[string]constant.Value)}
}

// run executes code and returns the value of the last line when it is an
// expression.
func (in *interpreter) run(ctx context.Context, code string, emit emitter) (constant.Value, error) {
	var last constant.Value
	for _, line := range strings.Split(code, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, &evalError{name: "KeyboardInterrupt"}
		}
		value, err := in.exec(ctx, line, emit)
		if err != nil {
			return nil, err
		}
		last = value
	}
	return last, nil
}

func (in *interpreter) exec(ctx context.Context, line string, emit emitter) (constant.Value, error) {
	if name, rhs, ok := splitAssignment(line); ok {
		expr, err := parser.ParseExpr(rhs)
		if err != nil {
			return nil, raise("SyntaxError", "%v", err)
		}
		value, err := in.eval(ctx, expr, emit)
		if err != nil {
			return nil, err
		}
		in.vars[name] = value
		return nil, nil
	}
	expr, err := parser.ParseExpr(line)
	if err != nil {
		return nil, raise("SyntaxError", "%v", err)
	}
	return in.eval(ctx, expr, emit)
}

func splitAssignment(line string) (string, string, bool) {
	idx := strings.IndexByte(line, '=')
	if idx <= 0 || idx+1 >= len(line) || line[idx+1] == '=' {
		return "", "", false
	}
	if strings.ContainsRune("!<>=", rune(line[idx-1])) {
		return "", "", false
	}
	name := strings.TrimSpace(line[:idx])
	if !token.IsIdentifier(name) {
		return "", "", false
	}
	return name, strings.TrimSpace(line[idx+1:]), true
}

func (in *interpreter) eval(ctx context.Context, expr ast.Expr, emit emitter) (constant.Value, error) {
	switch e := expr.(type) {
	case *ast.BasicLit:
		value := constant.MakeFromLiteral(e.Value, e.Kind, 0)
		if value.Kind() == constant.Unknown {
			return nil, raise("SyntaxError", "invalid literal %s", e.Value)
		}
		if e.Kind == token.CHAR {
			r, _ := constant.Int64Val(value)
			return constant.MakeString(string(rune(r))), nil
		}
		return value, nil
	case *ast.Ident:
		switch e.Name {
		case "True":
			return constant.MakeBool(true), nil
		case "False":
			return constant.MakeBool(false), nil
		case "None":
			return nil, nil
		}
		value, ok := in.vars[e.Name]
		if !ok {
			return nil, raise("NameError", "name '%s' is not defined", e.Name)
		}
		return value, nil
	case *ast.ParenExpr:
		return in.eval(ctx, e.X, emit)
	case *ast.UnaryExpr:
		x, err := in.operand(ctx, e.X, emit)
		if err != nil {
			return nil, err
		}
		switch e.Op {
		case token.ADD, token.SUB:
			if !numeric(x) {
				return nil, raise("TypeError", "bad operand type for unary %s", e.Op)
			}
		case token.NOT:
			if x.Kind() != constant.Bool {
				return nil, raise("TypeError", "bad operand type for unary %s", e.Op)
			}
		default:
			return nil, raise("SyntaxError", "unsupported operator %s", e.Op)
		}
		return constant.UnaryOp(e.Op, x, 0), nil
	case *ast.BinaryExpr:
		return in.binary(ctx, e, emit)
	case *ast.CallExpr:
		return in.call(ctx, e, emit)
	default:
		return nil, raise("SyntaxError", "unsupported expression")
	}
}

// operand evaluates an expression that must not be None.
func (in *interpreter) operand(ctx context.Context, expr ast.Expr, emit emitter) (constant.Value, error) {
	value, err := in.eval(ctx, expr, emit)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, raise("TypeError", "unsupported operand type: NoneType")
	}
	return value, nil
}

func (in *interpreter) binary(ctx context.Context, e *ast.BinaryExpr, emit emitter) (constant.Value, error) {
	x, err := in.operand(ctx, e.X, emit)
	if err != nil {
		return nil, err
	}
	y, err := in.operand(ctx, e.Y, emit)
	if err != nil {
		return nil, err
	}
	compatible := (numeric(x) && numeric(y)) || x.Kind() == y.Kind()
	switch e.Op {
	case token.EQL, token.NEQ:
		if !compatible {
			return constant.MakeBool(e.Op == token.NEQ), nil
		}
		return constant.MakeBool(constant.Compare(x, e.Op, y)), nil
	case token.LSS, token.LEQ, token.GTR, token.GEQ:
		if !compatible || x.Kind() == constant.Bool {
			return nil, raise("TypeError", "'%s' not supported between %s and %s", e.Op, typeName(x), typeName(y))
		}
		return constant.MakeBool(constant.Compare(x, e.Op, y)), nil
	case token.LAND, token.LOR:
		if x.Kind() != constant.Bool || y.Kind() != constant.Bool {
			return nil, raise("TypeError", "'%s' requires bool operands", e.Op)
		}
		return constant.BinaryOp(x, e.Op, y), nil
	case token.ADD:
		if x.Kind() == constant.String && y.Kind() == constant.String {
			return constant.BinaryOp(x, e.Op, y), nil
		}
	case token.SUB, token.MUL:
	case token.QUO:
		if numeric(x) && numeric(y) && constant.Sign(y) == 0 {
			return nil, raise("ZeroDivisionError", "division by zero")
		}
	case token.REM:
		if x.Kind() != constant.Int || y.Kind() != constant.Int {
			return nil, raise("TypeError", "'%%' requires int operands")
		}
		if constant.Sign(y) == 0 {
			return nil, raise("ZeroDivisionError", "integer modulo by zero")
		}
	default:
		return nil, raise("SyntaxError", "unsupported operator %s", e.Op)
	}
	if !numeric(x) || !numeric(y) {
		return nil, raise("TypeError", "unsupported operand types for %s: %s and %s", e.Op, typeName(x), typeName(y))
	}
	return constant.BinaryOp(x, e.Op, y), nil
}

func (in *interpreter) call(ctx context.Context, e *ast.CallExpr, emit emitter) (constant.Value, error) {
	fn, ok := e.Fun.(*ast.Ident)
	if !ok {
		return nil, raise("TypeError", "object is not callable")
	}
	args := make([]constant.Value, 0, len(e.Args))
	for _, arg := range e.Args {
		value, err := in.eval(ctx, arg, emit)
		if err != nil {
			return nil, err
		}
		args = append(args, value)
	}
	switch fn.Name {
	case "print", "eprint":
		parts := make([]string, 0, len(args))
		for _, arg := range args {
			parts = append(parts, str(arg))
		}
		name := schema.StreamStdout
		if fn.Name == "eprint" {
			name = schema.StreamStderr
		}
		emit.stream(name, strings.Join(parts, " ")+"\n")
		return nil, nil
	case "display", "update_display":
		if len(args) == 0 || len(args) > 2 || (fn.Name == "update_display" && len(args) != 2) {
			return nil, raise("TypeError", "%s() takes a value and a display id", fn.Name)
		}
		var id schema.DisplayID
		if len(args) == 2 {
			id = schema.DisplayID(str(args[1]))
		}
		emit.display(schema.MimeBundle{"text/plain": str(args[0])}, id, fn.Name == "update_display")
		return nil, nil
	case "clear_output":
		wait := len(args) > 0 && args[0] != nil && args[0].Kind() == constant.Bool && constant.BoolVal(args[0])
		emit.clear(wait)
		return nil, nil
	case "sleep":
		if len(args) != 1 || args[0] == nil || !numeric(args[0]) {
			return nil, raise("TypeError", "sleep() takes milliseconds")
		}
		ms, _ := constant.Float64Val(constant.ToFloat(args[0]))
		timer := time.NewTimer(time.Duration(ms * float64(time.Millisecond)))
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, &evalError{name: "KeyboardInterrupt"}
		}
	case "fail":
		message := ""
		if len(args) > 0 {
			message = str(args[0])
		}
		return nil, &evalError{name: "RuntimeError", value: message}
	case "str":
		if len(args) != 1 {
			return nil, raise("TypeError", "str() takes one argument")
		}
		return constant.MakeString(str(args[0])), nil
	case "len":
		if len(args) != 1 || args[0] == nil || args[0].Kind() != constant.String {
			return nil, raise("TypeError", "len() takes a string")
		}
		return constant.MakeInt64(int64(len([]rune(constant.StringVal(args[0]))))), nil
	default:
		return nil, raise("NameError", "name '%s' is not defined", fn.Name)
	}
}

func numeric(value constant.Value) bool {
	kind := value.Kind()
	return kind == constant.Int || kind == constant.Float
}

func typeName(value constant.Value) string {
	if value == nil {
		return "NoneType"
	}
	switch value.Kind() {
	case constant.Bool:
		return "bool"
	case constant.String:
		return "str"
	case constant.Int:
		return "int"
	case constant.Float:
		return "float"
	default:
		return "object"
	}
}

// str formats a value the way print shows it.
func str(value constant.Value) string {
	if value == nil {
		return "None"
	}
	switch value.Kind() {
	case constant.String:
		return constant.StringVal(value)
	case constant.Bool:
		if constant.BoolVal(value) {
			return "True"
		}
		return "False"
	case constant.Int:
		return value.ExactString()
	case constant.Float:
		f, _ := constant.Float64Val(value)
		text := strconv.FormatFloat(f, 'g', -1, 64)
		if !strings.ContainsAny(text, ".eIN") {
			text += ".0"
		}
		return text
	default:
		return value.String()
	}
}

// repr formats a value the way an expression result shows it.
func repr(value constant.Value) string {
	if value != nil && value.Kind() == constant.String {
		return "'" + strings.ReplaceAll(constant.StringVal(value), "'", `\'`) + "'"
	}
	return str(value)
}

package story

import (
	"fmt"
	"math"
	"sort"

	lua "github.com/Shopify/go-lua"
)

// Script owns the Lua state a story's code runs in. Story variables are the
// scalar globals the init chunk declares; they live in machine state and are
// pushed into Lua before every call and read back after it.
type Script struct {
	l        *lua.State
	baseline map[string]bool
	fixed    map[string]bool
	initial  map[string]any
}

var sandboxed = []string{"io", "os", "dofile", "loadfile", "require", "package", "debug"}

func NewScript(init string) (*Script, error) {
	l := lua.NewState()
	lua.OpenLibraries(l)
	for _, name := range sandboxed {
		l.PushNil()
		l.SetGlobal(name)
	}
	s := &Script{l: l, baseline: map[string]bool{}, fixed: map[string]bool{}}
	for _, name := range s.globalNames() {
		s.baseline[name] = true
	}
	if init != "" {
		if err := s.run(init, "init"); err != nil {
			return nil, fmt.Errorf("init: %w", err)
		}
	}
	s.initial = map[string]any{}
	for _, name := range s.globalNames() {
		if s.baseline[name] {
			continue
		}
		l.Global(name)
		v, ok := scalar(l, -1)
		l.Pop(1)
		if ok {
			s.initial[name] = v
		} else {
			s.fixed[name] = true
		}
	}
	return s, nil
}

// Initial returns a copy of the variables declared by the init chunk.
func (s *Script) Initial() map[string]any {
	return copyVars(s.initial)
}

// Exec runs chunk against vars and returns the variables it leaves behind.
func (s *Script) Exec(chunk, name string, vars map[string]any) (map[string]any, error) {
	if err := s.sync(vars); err != nil {
		return nil, err
	}
	if err := s.run(chunk, name); err != nil {
		return nil, err
	}
	return s.readVars(), nil
}

// Eval evaluates a boolean expression against vars. Lua truthiness applies.
func (s *Script) Eval(expr string, vars map[string]any) (bool, error) {
	if err := s.sync(vars); err != nil {
		return false, err
	}
	top := s.l.Top()
	defer s.l.SetTop(top)
	if err := lua.LoadBuffer(s.l, "return ("+expr+")", expr, ""); err != nil {
		return false, luaError(s.l, err)
	}
	if err := s.l.ProtectedCall(0, 1, 0); err != nil {
		return false, luaError(s.l, err)
	}
	return s.l.ToBoolean(-1), nil
}

func (s *Script) run(chunk, name string) error {
	top := s.l.Top()
	defer s.l.SetTop(top)
	if err := lua.LoadBuffer(s.l, chunk, name, ""); err != nil {
		return luaError(s.l, err)
	}
	if err := s.l.ProtectedCall(0, 0, 0); err != nil {
		return luaError(s.l, err)
	}
	return nil
}

// sync makes the Lua globals match vars exactly. Globals a previous call
// created are cleared so state never leaks between sibling branches.
func (s *Script) sync(vars map[string]any) error {
	for _, name := range s.globalNames() {
		if s.baseline[name] || s.fixed[name] {
			continue
		}
		if _, ok := vars[name]; !ok {
			s.l.PushNil()
			s.l.SetGlobal(name)
		}
	}
	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		switch v := vars[name].(type) {
		case nil:
			s.l.PushNil()
		case bool:
			s.l.PushBoolean(v)
		case string:
			s.l.PushString(v)
		case float64:
			s.l.PushNumber(v)
		case int:
			s.l.PushNumber(float64(v))
		default:
			return fmt.Errorf("variable %s has unsupported type %T", name, v)
		}
		s.l.SetGlobal(name)
	}
	return nil
}

func (s *Script) readVars() map[string]any {
	out := map[string]any{}
	for _, name := range s.globalNames() {
		if s.baseline[name] || s.fixed[name] {
			continue
		}
		s.l.Global(name)
		if v, ok := scalar(s.l, -1); ok {
			out[name] = v
		}
		s.l.Pop(1)
	}
	return out
}

func (s *Script) globalNames() []string {
	l := s.l
	top := l.Top()
	defer l.SetTop(top)
	var names []string
	l.PushGlobalTable()
	l.PushNil()
	for l.Next(-2) {
		if l.TypeOf(-2) == lua.TypeString {
			if k, ok := l.ToString(-2); ok {
				names = append(names, k)
			}
		}
		l.Pop(1)
	}
	sort.Strings(names)
	return names
}

func scalar(l *lua.State, idx int) (any, bool) {
	switch l.TypeOf(idx) {
	case lua.TypeBoolean:
		return l.ToBoolean(idx), true
	case lua.TypeNumber:
		n, _ := l.ToNumber(idx)
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return int(n), true
		}
		return n, true
	case lua.TypeString:
		s, _ := l.ToString(idx)
		return s, true
	}
	return nil, false
}

func luaError(l *lua.State, err error) error {
	if msg, ok := l.ToString(-1); ok && msg != "" {
		return fmt.Errorf("%s", msg)
	}
	return err
}

// CheckChunk reports a syntax error in a statement block.
func CheckChunk(chunk string) error {
	l := lua.NewState()
	if err := lua.LoadBuffer(l, chunk, "check", ""); err != nil {
		return luaError(l, err)
	}
	return nil
}

// CheckExpr reports a syntax error in an expression.
func CheckExpr(expr string) error {
	return CheckChunk("return (" + expr + ")")
}

func copyVars(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

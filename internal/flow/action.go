package flow

import (
	"strconv"
	"time"

	"github.com/sebas/aria/internal/script"
)

// Action is one executable instruction in a call script. Actions for a
// script are stored in a flat slice on the Call; the call's cursor index
// is the only notion of position. Children are populated only for verbs
// that nest (Gather); the engine ignores them elsewhere.
type Action struct {
	Name     string
	Value    string
	Params   map[string]string
	Children []Action
}

// buildActions converts parsed script elements into the action slice the
// engine executes. Nesting is preserved one level deep.
func buildActions(elems []*script.Element) []Action {
	actions := make([]Action, 0, len(elems))
	for _, el := range elems {
		actions = append(actions, buildAction(el))
	}
	return actions
}

func buildAction(el *script.Element) Action {
	a := Action{
		Name:   el.Name,
		Value:  el.Value,
		Params: el.Attrs,
	}
	for _, child := range el.Children {
		a.Children = append(a.Children, buildAction(child))
	}
	return a
}

// Param returns the named parameter, or def if absent.
func (a *Action) Param(name, def string) string {
	if v, ok := a.Params[name]; ok {
		return v
	}
	return def
}

// ParamInt returns the named parameter as an integer. Absent or
// unparseable values yield def.
func (a *Action) ParamInt(name string, def int) int {
	v, ok := a.Params[name]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// ParamBool returns the named parameter as a boolean. Absent or
// unparseable values yield def.
func (a *Action) ParamBool(name string, def bool) bool {
	v, ok := a.Params[name]
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// ParamSeconds returns the named parameter, interpreted as a count of
// seconds, as a duration.
func (a *Action) ParamSeconds(name string, def time.Duration) time.Duration {
	v, ok := a.Params[name]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

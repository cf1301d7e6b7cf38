package demo

import (
	"github.com/roach88/livedoc/internal/engine"
	"github.com/roach88/livedoc/internal/ir"
)

// Counter anyone may bump. Only the owner may reset, and only the owner
// sees peek.
func Counter() engine.Program {
	owner := func(rt *engine.Runtime) ir.Client {
		c, _ := ir.ClientFrom(rt.Get("owner"))
		return c
	}
	return &engine.Handlers{
		OnConstruct: func(rt *engine.Runtime, who ir.Client, arg ir.IRObject) {
			rt.Set("owner", who.Object())
			rt.SetInt("count", arg.Int("start"))
			rt.SetStr("secret", arg.Str("secret"))
		},
		OnConnected: func(rt *engine.Runtime, who ir.Client) bool {
			return true
		},
		Channels: map[string]func(rt *engine.Runtime, who ir.Client, msg ir.IRValue){
			"bump": func(rt *engine.Runtime, who ir.Client, msg ir.IRValue) {
				by := msg.(ir.IRObject).Int("by")
				if by < 0 {
					rt.Abort("cannot bump by %d", by)
				}
				n := rt.Add("count", by)
				if who == owner(rt) {
					rt.SetInt("peek", n)
				}
			},
			"reset": func(rt *engine.Runtime, who ir.Client, msg ir.IRValue) {
				if who != owner(rt) {
					rt.Abort("%s may not reset", who)
				}
				rt.SetInt("count", msg.(ir.IRObject).Int("by"))
			},
		},
		Policies: map[string]func(rt *engine.Runtime, who ir.Client) bool{
			"is_owner": func(rt *engine.Runtime, who ir.Client) bool {
				return who == owner(rt)
			},
		},
		Formulas: map[string]func(rt *engine.Runtime) ir.IRValue{
			"doubled": func(rt *engine.Runtime) ir.IRValue {
				return ir.IRInt(rt.Int("count") * 2)
			},
		},
		Bubbles: map[string]func(rt *engine.Runtime, who ir.Client, state ir.IRObject) ir.IRValue{
			"you": func(rt *engine.Runtime, who ir.Client, state ir.IRObject) ir.IRValue {
				if name := state.Str("nick"); name != "" {
					return ir.IRString(name)
				}
				return ir.IRString(who.Agent)
			},
		},
	}
}

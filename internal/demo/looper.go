package demo

import (
	"github.com/roach88/livedoc/internal/engine"
	"github.com/roach88/livedoc/internal/ir"
)

// TickInterval is the looper's timer period in milliseconds.
const TickInterval = 1000

// Looper counts ticks up to limit, one per TickInterval. A kick with n > 0
// restarts the timer; a kick with n == 0 spins forever; undo rewinds.
func Looper() engine.Program {
	return &engine.Handlers{
		OnConstruct: func(rt *engine.Runtime, who ir.Client, arg ir.IRObject) {
			limit := arg.Int("limit")
			if limit <= 0 {
				limit = 3
			}
			rt.SetInt("limit", limit)
			rt.TransitionIn("tick", TickInterval)
		},
		OnConnected: func(rt *engine.Runtime, who ir.Client) bool {
			return true
		},
		Channels: map[string]func(rt *engine.Runtime, who ir.Client, msg ir.IRValue){
			"kick": func(rt *engine.Runtime, who ir.Client, msg ir.IRValue) {
				rt.Add("kicks", 1)
				if msg.(ir.IRObject).Int("n") == 0 {
					rt.Transition("spin")
					return
				}
				rt.SetInt("ticks", 0)
				rt.TransitionIn("tick", TickInterval)
			},
			"undo": func(rt *engine.Runtime, who ir.Client, msg ir.IRValue) {
				rt.Rewind(msg.(ir.IRObject).Int("to"))
			},
		},
		Labels: map[string]func(rt *engine.Runtime){
			"tick": func(rt *engine.Runtime) {
				if rt.Add("ticks", 1) < rt.Int("limit") {
					rt.TransitionIn("tick", TickInterval)
				}
			},
			"spin": func(rt *engine.Runtime) {
				rt.Transition("spin")
			},
		},
	}
}

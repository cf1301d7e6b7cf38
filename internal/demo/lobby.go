package demo

import (
	"fmt"

	"github.com/roach88/livedoc/internal/engine"
	"github.com/roach88/livedoc/internal/ir"
)

const lobbyRounds = 3

// Lobby waits for two joins, then plays rounds of odds and evens: each
// round awaits two picks, and an even sum scores for the first player.
func Lobby() engine.Program {
	return &engine.Handlers{
		OnConstruct: func(rt *engine.Runtime, who ir.Client, arg ir.IRObject) {
			rt.Transition("gather")
		},
		OnConnected: func(rt *engine.Runtime, who ir.Client) bool {
			return true
		},
		Labels: map[string]func(rt *engine.Runtime){
			"gather": func(rt *engine.Runtime) {
				first := rt.Await("join").(ir.IRObject).Str("name")
				second := rt.Await("join").(ir.IRObject).Str("name")
				rt.Set("players", ir.IRArray{ir.IRString(first), ir.IRString(second)})
				rt.Transition("play")
			},
			"play": func(rt *engine.Runtime) {
				a := rt.Await("pick").(ir.IRObject).Int("n")
				b := rt.Await("pick").(ir.IRObject).Int("n")
				round := rt.Add("round", 1)
				if (a+b)%2 == 0 {
					rt.Add("evens", 1)
				} else {
					rt.Add("odds", 1)
				}
				rt.SetStr("log", rt.Str("log")+fmt.Sprintf("%d:%d+%d;", round, a, b))
				if round < lobbyRounds {
					rt.Transition("play")
					return
				}
				rt.Transition("done")
			},
			"done": func(rt *engine.Runtime) {
				players, _ := rt.Get("players").(ir.IRArray)
				if len(players) != 2 {
					rt.Abort("lobby finished without two players")
				}
				winner := players[0]
				if rt.Int("odds") > rt.Int("evens") {
					winner = players[1]
				}
				rt.Set("winner", winner)
			},
		},
	}
}

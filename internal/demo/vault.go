package demo

import (
	"github.com/roach88/livedoc/internal/engine"
	"github.com/roach88/livedoc/internal/ir"
)

// BannedAuthority may not blind send to a vault.
const BannedAuthority = "banned"

// Vault accepts uploads from its owner and notes from anyone not banned.
func Vault() engine.Program {
	return &engine.Handlers{
		OnConstruct: func(rt *engine.Runtime, who ir.Client, arg ir.IRObject) {
			rt.Set("owner", who.Object())
		},
		OnConnected: func(rt *engine.Runtime, who ir.Client) bool {
			return who.Authority != BannedAuthority
		},
		OnCanAttach: func(rt *engine.Runtime, who ir.Client) bool {
			owner, err := ir.ClientFrom(rt.Get("owner"))
			return err == nil && owner == who
		},
		OnAttached: func(rt *engine.Runtime, who ir.Client, asset ir.Asset) {
			files, _ := rt.Get("files").(ir.IRArray)
			rt.Set("files", append(ir.IRArray{}, append(files, asset.Object())...))
			rt.Set("last", asset.Object())
		},
		OnBlindSend: func(who ir.Client) bool {
			return who.Authority != BannedAuthority
		},
		Channels: map[string]func(rt *engine.Runtime, who ir.Client, msg ir.IRValue){
			"note": func(rt *engine.Runtime, who ir.Client, msg ir.IRValue) {
				text := msg.(ir.IRObject).Str("text")
				if text == "" {
					rt.Abort("empty note")
				}
				notes, _ := rt.Get("notes").(ir.IRArray)
				rt.Set("notes", append(ir.IRArray{}, append(notes, ir.IRString(who.Agent+": "+text))...))
			},
		},
		Formulas: map[string]func(rt *engine.Runtime) ir.IRValue{
			"count": func(rt *engine.Runtime) ir.IRValue {
				files, _ := rt.Get("files").(ir.IRArray)
				return ir.IRInt(len(files))
			},
		},
	}
}

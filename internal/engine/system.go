package engine

import (
	"slices"
	"strconv"

	"github.com/roach88/livedoc/internal/ir"
	"github.com/roach88/livedoc/internal/reactive"
)

// Persisted system fields. They live in the reactive graph next to user
// fields so a revert restores them too.
const (
	fieldState          = "__state"
	fieldConstructed    = "__constructed"
	fieldSeq            = "__seq"
	fieldEntropy        = "__entropy"
	fieldTime           = "__time"
	fieldBlocked        = "__blocked"
	fieldBlockedOn      = "__blocked_on"
	fieldDedupe         = "__dedupe"
	fieldClients        = "__clients"
	fieldMessages       = "__messages"
	fieldNextTime       = "__next_time"
	fieldLastExpireTime = "__last_expire_time"
	fieldConnectionID   = "__connection_id"
	fieldMessageID      = "__message_id"
	fieldAutoFutureID   = "__auto_future_id"
	fieldAutoTableRowID = "__auto_table_row_id"
)

var systemFields = []struct {
	name string
	zero ir.IRValue
}{
	{fieldState, ir.IRString("")},
	{fieldConstructed, ir.IRBool(false)},
	{fieldSeq, ir.IRInt(0)},
	{fieldEntropy, ir.IRString("0")},
	{fieldTime, ir.IRInt(0)},
	{fieldBlocked, ir.IRBool(false)},
	{fieldBlockedOn, ir.IRString("")},
	{fieldDedupe, ir.IRObject{}},
	{fieldClients, ir.IRObject{}},
	{fieldMessages, ir.IRObject{}},
	{fieldNextTime, ir.IRInt(0)},
	{fieldLastExpireTime, ir.IRInt(0)},
	{fieldConnectionID, ir.IRInt(0)},
	{fieldMessageID, ir.IRInt(0)},
	{fieldAutoFutureID, ir.IRInt(0)},
	{fieldAutoTableRowID, ir.IRInt(0)},
}

// rewindPreserved lists system fields a rewind must not roll back: the
// seq and clock only move forward, ids must never be reissued, consumed
// markers stay consumed, and the connected set reflects live sessions.
var rewindPreserved = []string{
	fieldSeq, fieldTime, fieldClients, fieldDedupe,
	fieldConnectionID, fieldMessageID, fieldAutoFutureID, fieldAutoTableRowID,
}

// buildGraph lays out system slots, then stored user fields, then formulas.
// Generations continue from counter so views never see one go backward.
func buildGraph(schema *ir.SchemaSpec, counter int64) *reactive.Graph {
	g := reactive.NewAt(counter)
	for _, f := range systemFields {
		_ = g.Define(f.name, reactive.Stored, f.zero)
	}
	for _, f := range schema.Fields {
		switch {
		case f.Formula:
			_ = g.Define(f.Name, reactive.Derived, f.Zero())
		case f.Privacy != ir.PrivacyBubble:
			_ = g.Define(f.Name, reactive.Stored, f.Zero())
		}
	}
	return g
}

func isEmptyValue(v ir.IRValue) bool {
	switch val := v.(type) {
	case ir.IRString:
		return val == ""
	case ir.IRInt:
		return val == 0
	case ir.IRBool:
		return !bool(val)
	case ir.IRObject:
		return len(val) == 0
	case ir.IRArray:
		return len(val) == 0
	default:
		return true
	}
}

func (d *Document) sys(name string) ir.IRValue {
	v, _ := d.graph.Get(name)
	return v
}

func (d *Document) sysInt(name string) int64 {
	v, _ := d.sys(name).(ir.IRInt)
	return int64(v)
}

func (d *Document) sysStr(name string) string {
	v, _ := d.sys(name).(ir.IRString)
	return string(v)
}

func (d *Document) sysBool(name string) bool {
	v, _ := d.sys(name).(ir.IRBool)
	return bool(v)
}

func (d *Document) sysObj(name string) ir.IRObject {
	v, _ := d.sys(name).(ir.IRObject)
	return v
}

// setSys writes a system slot. System slots always exist.
func (d *Document) setSys(name string, v ir.IRValue) {
	_ = d.graph.Set(name, v)
}

// incSys bumps a counter slot and returns the new value.
func (d *Document) incSys(name string) int64 {
	n := d.sysInt(name) + 1
	d.setSys(name, ir.IRInt(n))
	return n
}

// Clients

func (d *Document) connectionOf(who ir.Client) (string, bool) {
	for id, v := range d.sysObj(fieldClients) {
		if c, err := ir.ClientFrom(v); err == nil && c == who {
			return id, true
		}
	}
	return "", false
}

func (d *Document) addClient(who ir.Client) {
	id := d.incSys(fieldConnectionID)
	clients := d.sysObj(fieldClients).Clone()
	clients[strconv.FormatInt(id, 10)] = who.Object()
	d.setSys(fieldClients, clients)
}

func (d *Document) removeClient(who ir.Client) {
	id, ok := d.connectionOf(who)
	if !ok {
		return
	}
	clients := d.sysObj(fieldClients).Clone()
	delete(clients, id)
	d.setSys(fieldClients, clients)
}

// clients lists connected clients in connection order.
func (d *Document) clients() []ir.Client {
	obj := d.sysObj(fieldClients)
	ids := numericKeys(obj)
	out := make([]ir.Client, 0, len(ids))
	for _, id := range ids {
		if c, err := ir.ClientFrom(obj[strconv.FormatInt(id, 10)]); err == nil {
			out = append(out, c)
		}
	}
	return out
}

// Dedupe

func (d *Document) markerUsed(marker string) bool {
	_, ok := d.sysObj(fieldDedupe)[marker]
	return ok
}

func (d *Document) recordMarker(marker string, ts int64) {
	dedupe := d.sysObj(fieldDedupe).Clone()
	dedupe[marker] = ir.IRString(strconv.FormatInt(ts, 10))
	d.setSys(fieldDedupe, dedupe)
}

// numericKeys returns the keys of obj parsed as integers, ascending.
// Keys that are not integers are skipped.
func numericKeys(obj ir.IRObject) []int64 {
	ids := make([]int64, 0, len(obj))
	for k := range obj {
		if n, err := strconv.ParseInt(k, 10, 64); err == nil {
			ids = append(ids, n)
		}
	}
	slices.Sort(ids)
	return ids
}

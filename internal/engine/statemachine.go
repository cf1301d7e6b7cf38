package engine

import "github.com/roach88/livedoc/internal/ir"

// drive runs due state labels until the machine is idle, blocked, or
// waiting on a future time. Each step costs goodwill, so a label that
// transitions to itself forever ends in a fatal error, not a hang.
func (d *Document) drive(rt *Runtime) {
	for {
		label, blocked := d.State()
		if label == "" || blocked || d.sysInt(fieldNextTime) > rt.Now() {
			return
		}
		d.step(rt, label)
	}
}

func (d *Document) step(rt *Runtime, label string) {
	rt.Tick(1)
	d.setSys(fieldState, ir.IRString(""))
	d.setSys(fieldNextTime, ir.IRInt(0))

	rt.label, rt.preempted = label, false
	rt.taken, rt.consumed = nil, nil
	defer func() {
		rt.label, rt.preempted = "", false
		rt.taken, rt.consumed = nil, nil
	}()

	channel, blocked := d.runStep(rt, label)
	if blocked {
		if !rt.preempted {
			d.setSys(fieldState, ir.IRString(label))
		}
		d.setSys(fieldBlocked, ir.IRBool(true))
		d.setSys(fieldBlockedOn, ir.IRString(channel))
	} else {
		d.consumeMessages(rt.consumed)
	}
	d.monitor.Step(d.key, label, blocked)
}

// runStep runs one label, catching the block signal. Every other panic
// continues to the transaction boundary.
func (d *Document) runStep(rt *Runtime, label string) (channel string, blocked bool) {
	defer func() {
		if r := recover(); r != nil {
			sig, ok := r.(blockSignal)
			if !ok {
				panic(r)
			}
			channel, blocked = sig.channel, true
		}
	}()
	if !d.factory.program.Step(rt, label) {
		rt.fail(faultError(CodeUnknownLabel, "no step for state label %q", label))
	}
	return "", false
}

// wake unblocks the machine when a message on channel may satisfy it.
func (d *Document) wake(channel string) {
	if !d.sysBool(fieldBlocked) {
		return
	}
	on := d.sysStr(fieldBlockedOn)
	if on != "" && on != channel {
		return
	}
	d.setSys(fieldBlocked, ir.IRBool(false))
	d.setSys(fieldBlockedOn, ir.IRString(""))
}

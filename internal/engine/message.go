package engine

import (
	"strconv"

	"github.com/roach88/livedoc/internal/ir"
)

// DefaultMessageCeiling caps the active messages a document may queue.
const DefaultMessageCeiling = 128

// Message is a queued send awaiting a future.
type Message struct {
	ID        int64
	Channel   string
	Who       ir.Client
	Marker    string
	Timestamp int64
	Value     ir.IRValue
	Active    bool
}

// Object encodes the message for the __messages slot.
func (m Message) Object() ir.IRObject {
	obj := ir.IRObject{
		"channel":   ir.IRString(m.Channel),
		"who":       m.Who.Object(),
		"timestamp": ir.IRString(strconv.FormatInt(m.Timestamp, 10)),
		"value":     ir.Clone(m.Value),
		"active":    ir.IRBool(m.Active),
	}
	if m.Marker != "" {
		obj["marker"] = ir.IRString(m.Marker)
	}
	return obj
}

// messageFrom decodes a __messages entry. A missing "active" flag reads as
// active, which is how rows written before consumption tracking look.
func messageFrom(id int64, v ir.IRValue) (Message, bool) {
	obj, ok := v.(ir.IRObject)
	if !ok {
		return Message{}, false
	}
	m := Message{
		ID:      id,
		Channel: obj.Str("channel"),
		Marker:  obj.Str("marker"),
		Value:   obj["value"],
		Active:  true,
	}
	if m.Value == nil {
		m.Value = ir.IRNull{}
	}
	if who, err := ir.ClientFrom(obj["who"]); err == nil {
		m.Who = who
	}
	m.Timestamp = parseMillis(obj["timestamp"])
	if a, ok := obj["active"].(ir.IRBool); ok {
		m.Active = bool(a)
	}
	return m, true
}

// parseMillis reads a timestamp stored either as an integer or as a decimal
// string. Anything else is -1.
func parseMillis(v ir.IRValue) int64 {
	switch t := v.(type) {
	case ir.IRInt:
		return int64(t)
	case ir.IRString:
		n, err := strconv.ParseInt(string(t), 10, 64)
		if err != nil {
			return -1
		}
		return n
	default:
		return -1
	}
}

// Messages returns every queued message, active or consumed, oldest first.
func (d *Document) Messages() []Message {
	obj := d.sysObj(fieldMessages)
	ids := numericKeys(obj)
	out := make([]Message, 0, len(ids))
	for _, id := range ids {
		if m, ok := messageFrom(id, obj[strconv.FormatInt(id, 10)]); ok {
			out = append(out, m)
		}
	}
	return out
}

func (d *Document) activeMessages() int {
	n := 0
	for _, m := range d.Messages() {
		if m.Active {
			n++
		}
	}
	return n
}

// enqueueMessage stores a message under the next message id.
func (d *Document) enqueueMessage(m Message) (Message, error) {
	if d.activeMessages() >= d.messageCeiling {
		return m, newError(KindCapacity, CodeTooManyMessages, "message queue full (%d active)", d.messageCeiling)
	}
	m.ID = d.incSys(fieldMessageID)
	m.Active = true
	msgs := d.sysObj(fieldMessages).Clone()
	msgs[strconv.FormatInt(m.ID, 10)] = m.Object()
	d.setSys(fieldMessages, msgs)
	return m, nil
}

// oldestActive returns the oldest active message on channel not in skip.
func (d *Document) oldestActive(channel string, skip map[int64]bool) (Message, bool) {
	for _, m := range d.Messages() {
		if m.Active && m.Channel == channel && !skip[m.ID] {
			return m, true
		}
	}
	return Message{}, false
}

// consumeMessages marks messages inactive.
func (d *Document) consumeMessages(ids []int64) {
	if len(ids) == 0 {
		return
	}
	msgs := d.sysObj(fieldMessages).Clone()
	for _, id := range ids {
		k := strconv.FormatInt(id, 10)
		obj, ok := msgs[k].(ir.IRObject)
		if !ok {
			continue
		}
		obj = obj.Clone()
		obj["active"] = ir.IRBool(false)
		msgs[k] = obj
	}
	d.setSys(fieldMessages, msgs)
}

// expireState drops markers and consumed messages older than cutoff.
func (d *Document) expireState(cutoff int64) (markers, messages int) {
	dedupe := d.sysObj(fieldDedupe).Clone()
	for k, v := range dedupe {
		if parseMillis(v) < cutoff {
			delete(dedupe, k)
			markers++
		}
	}
	d.setSys(fieldDedupe, dedupe)

	msgs := d.sysObj(fieldMessages).Clone()
	for _, m := range d.Messages() {
		if !m.Active && m.Timestamp < cutoff {
			delete(msgs, strconv.FormatInt(m.ID, 10))
			messages++
		}
	}
	d.setSys(fieldMessages, msgs)
	return markers, messages
}

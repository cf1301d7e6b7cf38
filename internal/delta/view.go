package delta

import (
	"github.com/roach88/livedoc/internal/ir"
)

// FieldInfo is what a Source reports about one field.
type FieldInfo struct {
	Name       string
	Type       ir.FieldType
	Privacy    ir.Privacy
	Generation int64
	Value      ir.IRValue
}

// Source is the document side of a projection.
type Source interface {
	// Fields lists every projectable field in a stable order.
	Fields() []FieldInfo
	// Visible evaluates a policy-guarded field for a viewer.
	Visible(field FieldInfo, who ir.Client) bool
	// Bubble computes a per-viewer field.
	Bubble(field FieldInfo, who ir.Client, viewerState ir.IRObject) ir.IRValue
}

// PrivateView is one viewer's projection state.
type PrivateView struct {
	ID  string
	Who ir.Client

	perspective Perspective
	encoder     AssetIDEncoder
	viewerState ir.IRObject

	stamps  map[string]int64
	shown   map[string]bool
	bubbles map[string]string
	seq     int64
	alive   bool
}

// NewPrivateView creates a view that has not observed anything yet.
func NewPrivateView(id string, who ir.Client, perspective Perspective, viewerState ir.IRObject, encoder AssetIDEncoder) *PrivateView {
	if viewerState == nil {
		viewerState = ir.IRObject{}
	}
	if encoder == nil {
		encoder = HashEncoder{}
	}
	return &PrivateView{
		ID:          id,
		Who:         who,
		perspective: perspective,
		encoder:     encoder,
		viewerState: viewerState.Clone(),
		stamps:      make(map[string]int64),
		shown:       make(map[string]bool),
		bubbles:     make(map[string]string),
		alive:       true,
	}
}

// ViewerState returns a copy of the viewer state blob.
func (v *PrivateView) ViewerState() ir.IRObject {
	return v.viewerState.Clone()
}

// SetViewerState replaces the viewer state blob.
func (v *PrivateView) SetViewerState(state ir.IRObject) {
	if state == nil {
		state = ir.IRObject{}
	}
	v.viewerState = state.Clone()
}

// Alive reports whether the view still wants updates.
func (v *PrivateView) Alive() bool {
	return v.alive
}

// Kill marks the view dead. The next garbage collection sweep removes it.
func (v *PrivateView) Kill() {
	v.alive = false
}

// Disconnect kills the view and notifies its perspective.
func (v *PrivateView) Disconnect() {
	if !v.alive {
		return
	}
	v.alive = false
	v.perspective.Disconnect()
}

// Seq returns the seq of the last delivered update.
func (v *PrivateView) Seq() int64 {
	return v.seq
}

// Stamp returns the generation this view last observed for a field.
func (v *PrivateView) Stamp(field string) int64 {
	return v.stamps[field]
}

// Update is a planned, undelivered change to one view.
type Update struct {
	view    *PrivateView
	Seq     int64
	Payload string
	Changed bool

	stamps  map[string]int64
	shown   map[string]bool
	bubbles map[string]string
}

// Plan computes the update this view needs at seq. The view itself is not
// modified until Deliver.
func (v *PrivateView) Plan(src Source, seq int64) *Update {
	u := &Update{
		view:    v,
		Seq:     seq,
		stamps:  make(map[string]int64),
		shown:   make(map[string]bool),
		bubbles: make(map[string]string),
	}
	data := ir.IRObject{}

	for _, f := range src.Fields() {
		switch f.Privacy {
		case ir.PrivacyPrivate:
			continue
		case ir.PrivacyBubble:
			value := v.encode(f.Type, src.Bubble(f, v.Who, v.viewerState))
			canonical := ir.Canonical(value)
			if last, ok := v.bubbles[f.Name]; !ok || last != canonical {
				data[f.Name] = value
			}
			u.bubbles[f.Name] = canonical
			continue
		}

		visible := f.Privacy == ir.PrivacyPublic || src.Visible(f, v.Who)
		wasShown := v.shown[f.Name]
		switch {
		case visible && (!wasShown || v.stamps[f.Name] != f.Generation):
			data[f.Name] = v.encode(f.Type, f.Value)
		case !visible && wasShown:
			data[f.Name] = ir.IRNull{}
		}
		u.stamps[f.Name] = f.Generation
		u.shown[f.Name] = visible
	}

	msg := ir.IRObject{"seq": ir.IRInt(seq)}
	if len(data) > 0 {
		msg["data"] = data
		u.Changed = true
	}
	u.Payload = ir.Canonical(msg)
	return u
}

// Deliver applies a planned update to its view and pushes the payload.
// Updates older than the view's current seq are dropped. Dead views drop
// everything.
func (u *Update) Deliver() {
	v := u.view
	if !v.alive || u.Seq < v.seq {
		return
	}
	for k, g := range u.stamps {
		v.stamps[k] = g
	}
	for k, s := range u.shown {
		v.shown[k] = s
	}
	for k, b := range u.bubbles {
		v.bubbles[k] = b
	}
	v.seq = u.Seq
	v.perspective.Data(u.Payload)
}

// View returns the view this update targets.
func (u *Update) View() *PrivateView {
	return u.view
}

// encode rewrites asset ids through the view's encoder.
func (v *PrivateView) encode(t ir.FieldType, value ir.IRValue) ir.IRValue {
	if t != ir.TypeAsset {
		return value
	}
	obj, ok := value.(ir.IRObject)
	if !ok {
		return value
	}
	id := obj.Str("id")
	if id == "" {
		return value
	}
	out := obj.Clone()
	out["id"] = ir.IRString(v.encoder.Encode(id))
	return out
}

package delta

import "github.com/roach88/livedoc/internal/ir"

// Registry tracks a document's views in creation order.
type Registry struct {
	views []*PrivateView
}

// Add registers a view.
func (r *Registry) Add(v *PrivateView) {
	r.views = append(r.views, v)
}

// Live returns the live views in creation order.
func (r *Registry) Live() []*PrivateView {
	out := make([]*PrivateView, 0, len(r.views))
	for _, v := range r.views {
		if v.alive {
			out = append(out, v)
		}
	}
	return out
}

// For returns the live views held by who.
func (r *Registry) For(who ir.Client) []*PrivateView {
	var out []*PrivateView
	for _, v := range r.views {
		if v.alive && v.Who == who {
			out = append(out, v)
		}
	}
	return out
}

// Len counts tracked views, dead or alive.
func (r *Registry) Len() int {
	return len(r.views)
}

// Collect removes dead views held by who and returns how many live views
// that client still has.
func (r *Registry) Collect(who ir.Client) int {
	kept := r.views[:0]
	remaining := 0
	for _, v := range r.views {
		if v.Who == who {
			if !v.alive {
				continue
			}
			remaining++
		}
		kept = append(kept, v)
	}
	clear(r.views[len(kept):])
	r.views = kept
	return remaining
}

// Sweep removes every dead view and returns how many were removed.
func (r *Registry) Sweep() int {
	kept := r.views[:0]
	for _, v := range r.views {
		if v.alive {
			kept = append(kept, v)
		}
	}
	removed := len(r.views) - len(kept)
	clear(r.views[len(kept):])
	r.views = kept
	return removed
}

// DisconnectClient disconnects every live view held by who.
func (r *Registry) DisconnectClient(who ir.Client) {
	for _, v := range r.views {
		if v.Who == who {
			v.Disconnect()
		}
	}
}

// DisconnectAll disconnects every live view.
func (r *Registry) DisconnectAll() {
	for _, v := range r.views {
		v.Disconnect()
	}
}

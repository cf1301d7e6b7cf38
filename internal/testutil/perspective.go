package testutil

import "sync"

// ArrayPerspective records every update it receives.
//
// It satisfies delta.Perspective.
type ArrayPerspective struct {
	mu           sync.Mutex
	datas        []string
	disconnected bool
}

// NewArrayPerspective creates an empty recorder.
func NewArrayPerspective() *ArrayPerspective {
	return &ArrayPerspective{}
}

// Data records one update.
func (p *ArrayPerspective) Data(data string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.datas = append(p.datas, data)
}

// Disconnect records that the stream ended.
func (p *ArrayPerspective) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnected = true
}

// Datas returns a copy of every recorded update.
func (p *ArrayPerspective) Datas() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.datas...)
}

// Last returns the most recent update, or "".
func (p *ArrayPerspective) Last() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.datas) == 0 {
		return ""
	}
	return p.datas[len(p.datas)-1]
}

// Len counts recorded updates.
func (p *ArrayPerspective) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.datas)
}

// Disconnected reports whether Disconnect was called.
func (p *ArrayPerspective) Disconnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnected
}

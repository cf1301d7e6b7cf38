package delta

import "github.com/roach88/livedoc/internal/ir"

// Perspective receives one viewer's stream of updates.
type Perspective interface {
	// Data delivers one canonical JSON update.
	Data(data string)
	// Disconnect tells the viewer the stream has ended.
	Disconnect()
}

// AssetIDEncoder rewrites storage asset ids into viewer-facing tokens.
type AssetIDEncoder interface {
	Encode(assetID string) string
}

// HashEncoder derives tokens with a salted domain-separated SHA-256.
type HashEncoder struct {
	Salt string
}

// Encode implements AssetIDEncoder.
func (e HashEncoder) Encode(assetID string) string {
	return ir.AssetToken(e.Salt, assetID)
}

// PerspectiveFunc adapts a function to Perspective. Disconnect is a no-op.
type PerspectiveFunc func(data string)

// Data implements Perspective.
func (f PerspectiveFunc) Data(data string) { f(data) }

// Disconnect implements Perspective.
func (PerspectiveFunc) Disconnect() {}

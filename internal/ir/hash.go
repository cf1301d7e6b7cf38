package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes. The version suffix allows the
// algorithm to change without colliding with old digests.
const (
	DomainSnapshot = "livedoc/snapshot/v1"
	DomainAsset    = "livedoc/asset/v1"
	DomainSchema   = "livedoc/schema/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator keeps domain and data from running together.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// SnapshotHash digests a document snapshot. Equal snapshots hash equal
// regardless of key order.
func SnapshotHash(snapshot IRObject) (string, error) {
	canonical, err := MarshalCanonical(snapshot)
	if err != nil {
		return "", fmt.Errorf("SnapshotHash: %w", err)
	}
	return hashWithDomain(DomainSnapshot, canonical), nil
}

// SchemaHash digests a compiled schema.
func SchemaHash(spec *SchemaSpec) (string, error) {
	obj := IRObject{"name": IRString(spec.Name)}
	fields := make(IRArray, 0, len(spec.Fields))
	for _, f := range spec.Fields {
		fo := IRObject{
			"name":    IRString(f.Name),
			"type":    IRString(f.Type),
			"privacy": IRString(f.Privacy),
			"policy":  IRString(f.Policy),
			"formula": IRBool(f.Formula),
		}
		if f.Default != nil {
			fo["default"] = f.Default
		}
		fields = append(fields, fo)
	}
	obj["fields"] = fields
	channels := make(IRArray, 0, len(spec.Channels))
	for _, c := range spec.Channels {
		channels = append(channels, IRObject{
			"name":    IRString(c.Name),
			"message": IRString(c.Message),
			"array":   IRBool(c.Array),
			"direct":  IRBool(c.Direct),
		})
	}
	obj["channels"] = channels

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("SchemaHash: %w", err)
	}
	return hashWithDomain(DomainSchema, canonical), nil
}

// AssetToken derives an opaque, stable token for an asset id under a salt.
// Viewers see the token in place of the storage id.
func AssetToken(salt, assetID string) string {
	return hashWithDomain(DomainAsset, []byte(salt+"\x00"+assetID))[:32]
}

package pthash

import (
	"fmt"

	"github.com/tamirms/pthash/internal/bits"
)

// Check verifies f over the keys it was built from: every key must map
// into range and no two keys may share a position. For minimal functions
// this proves the mapping is a bijection onto [0, len(keys)).
func Check(keys [][]byte, f Function) error {
	n := uint64(len(keys))
	if f.NumKeys() != n {
		return fmt.Errorf("function was built from %d keys, got %d", f.NumKeys(), n)
	}
	bound := f.TableSize()
	if f.IsMinimal() {
		bound = n
	}
	seen := bits.NewBitVector(bound)
	for i, k := range keys {
		p := f.Lookup(k)
		if p >= bound {
			return fmt.Errorf("key %d maps to %d, out of range [0, %d)", i, p, bound)
		}
		if seen.Get(p) {
			return fmt.Errorf("key %d collides at position %d", i, p)
		}
		seen.Set(p)
	}
	return nil
}

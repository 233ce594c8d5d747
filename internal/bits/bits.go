// Package bits provides low-level bit manipulation primitives shared by the
// bucket mapper, the pilot search, and the pilot encoders.
package bits

import "math/bits"

// FastRange maps a 64-bit hash uniformly to [0, n).
// Uses the "fastrange" technique: multiply and take high bits.
// This is the standard way to map hashes to ranges without modulo bias.
func FastRange(hash uint64, n uint64) uint64 {
	if n == 0 {
		return 0
	}
	hi, _ := bits.Mul64(hash, n)
	return hi
}

// Mix64 applies the SplitMix64 finalizer (Stafford variant, from splitmix64.c
// by Sebastiano Vigna). FastRange consumes high bits, so inputs whose entropy
// sits in the low bits must be mixed first or the mapping degenerates.
func Mix64(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

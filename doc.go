// Package pthash builds minimal perfect hash functions in the PTHash
// style: keys are hashed into skewed buckets, and for each bucket a search
// finds a small pilot value that displaces the bucket's keys into free
// slots of a table. Storing only the compressed pilots yields a function
// of a few bits per key that answers lookups with one hash, one pilot
// access and one multiply.
//
// Build constructs a function from a key set:
//
//	cfg := pthash.NewBuildConfig()
//	cfg.Seed = 42
//	f, _, err := pthash.Build(keys, cfg)
//	if err != nil {
//		// handle
//	}
//	pos := f.Lookup(keys[0]) // in [0, len(keys))
//
// With cfg.NumPartitions > 1 the key set is split by hash and the parts
// are built concurrently; cfg.RAM bounds resident memory by spilling hash
// codes to files under cfg.TmpDir.
//
// Functions serialize with MarshalBinary and load with Decode, Load or
// Open. The first eight bytes of the serialized form are always the seed,
// so PeekSeed recovers it without decoding, and DecodeWithSeed re-attaches
// it to the remaining bytes.
package pthash

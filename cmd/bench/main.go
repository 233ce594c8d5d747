// Bench is a benchmarking tool for measuring PHF build performance, space
// usage and query throughput.
//
// Usage:
//
//	go run ./cmd/bench -keys 10000000 -encoder dictionary_dictionary
//
// Flags:
//
//	-keys        Number of keys to index (default: 10,000,000)
//	-c           Bucket density parameter (default: 6.0)
//	-alpha       Table load factor (default: 0.94)
//	-encoder     dictionary_dictionary, elias_fano or partitioned_compact
//	-partitions  Number of partitions (default: 1)
//	-threads     Worker goroutines for partitioned builds (default: NumCPU)
//	-seed        Fixed build seed, -1 for random (default: -1)
//	-ram         RAM budget in bytes, 0 for unlimited (default: 0)
//	-out         Serialize the function to this path and re-open it
package main

import (
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tamirms/pthash"
)

// getMaxRSS returns the maximum resident set size in bytes.
// Uses getrusage(RUSAGE_SELF) which tracks peak RSS since process start.
func getMaxRSS() uint64 {
	var rusage syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &rusage); err != nil {
		return 0
	}
	// On macOS, MaxRss is in bytes. On Linux, it's in kilobytes.
	maxRSS := uint64(rusage.Maxrss)
	if runtime.GOOS == "linux" {
		maxRSS *= 1024
	}
	return maxRSS
}

func main() {
	keysFlag := flag.Int("keys", 10_000_000, "number of keys")
	cFlag := flag.Float64("c", 6.0, "bucket density parameter")
	alphaFlag := flag.Float64("alpha", 0.94, "table load factor")
	encoderFlag := flag.String("encoder", "dictionary_dictionary", "pilot encoder")
	partitionsFlag := flag.Int("partitions", 1, "number of partitions")
	threadsFlag := flag.Int("threads", runtime.NumCPU(), "worker goroutines")
	seedFlag := flag.Int64("seed", -1, "fixed build seed, -1 for random")
	ramFlag := flag.Uint64("ram", 0, "RAM budget in bytes, 0 for unlimited")
	outFlag := flag.String("out", "", "serialize to this path and re-open it")
	verboseFlag := flag.Bool("verbose", false, "log build phases")
	flag.Parse()

	numKeys := *keysFlag
	fmt.Println("Generating keys...")
	keys := make([][]byte, numKeys)
	buf := make([]byte, numKeys*16)
	_, _ = rand.Read(buf) // crypto/rand.Read error is a fatal system issue
	for i := range keys {
		keys[i] = buf[i*16 : (i+1)*16]
	}

	encoder, err := pthash.EncoderByName(*encoderFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg := pthash.NewBuildConfig()
	cfg.C = *cFlag
	cfg.Alpha = *alphaFlag
	cfg.Encoder = encoder
	cfg.NumPartitions = *partitionsFlag
	cfg.NumThreads = *threadsFlag
	cfg.RAM = *ramFlag
	if *seedFlag >= 0 {
		cfg.Seed = uint64(*seedFlag)
	}
	if *verboseFlag {
		logger, _ := zap.NewDevelopment()
		cfg.Verbose = true
		cfg.Logger = logger
	}

	fmt.Printf("Building over %d keys (c=%.2f alpha=%.2f encoder=%s partitions=%d threads=%d)...\n",
		numKeys, cfg.C, cfg.Alpha, cfg.Encoder, cfg.NumPartitions, cfg.NumThreads)
	start := time.Now()
	f, timings, err := pthash.Build(keys, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "build failed:", err)
		os.Exit(1)
	}
	elapsed := time.Since(start)

	fmt.Printf("Build: %v total (hash %v, map+order %v, search %v, encode %v)\n",
		elapsed, timings.Hashing, timings.MapOrder, timings.Search, timings.Encode)
	fmt.Printf("Seed: %d\n", f.Seed())
	fmt.Printf("Space: %.2f bits/key (%d bits total)\n",
		float64(f.NumBits())/float64(numKeys), f.NumBits())
	fmt.Printf("Peak RSS: %.1f MiB\n", float64(getMaxRSS())/(1<<20))

	fmt.Println("Checking...")
	if err := pthash.Check(keys, f); err != nil {
		fmt.Fprintln(os.Stderr, "check failed:", err)
		os.Exit(1)
	}

	if *outFlag != "" {
		if err := pthash.Save(f, *outFlag); err != nil {
			fmt.Fprintln(os.Stderr, "save failed:", err)
			os.Exit(1)
		}
		f, err = pthash.Open(*outFlag)
		if err != nil {
			fmt.Fprintln(os.Stderr, "open failed:", err)
			os.Exit(1)
		}
		fmt.Printf("Round-tripped through %s\n", *outFlag)
	}

	fmt.Println("Querying...")
	queryStart := time.Now()
	var sink uint64
	for _, k := range keys {
		sink ^= f.Lookup(k)
	}
	queryElapsed := time.Since(queryStart)
	fmt.Printf("Query: %.0f ns/key (%.2f Mqps, sink %d)\n",
		float64(queryElapsed.Nanoseconds())/float64(numKeys),
		float64(numKeys)/queryElapsed.Seconds()/1e6, sink)
}

package engine

// The cost model is shared by all adapters so that cross-engine
// differences measure accounting arithmetic, not cost sampling.
// Slippage is scaled by a noise factor derived from (seed, symbol,
// session index) through an integer hash, quantized to four decimal
// places. Because the quantum is an integer, every adapter computes the
// exact same factor regardless of its internal number representation.

const (
	// noiseQuanta is the number of discrete slippage scale steps.
	// Factors range over [0, 2) in steps of 1/10000.
	noiseQuanta = 20000

	splitmixGamma = 0x9E3779B97F4A7C15
	fnvPrime      = 1099511628211
)

// slipQuantum returns the slippage scale for one order as an integer in
// [0, noiseQuanta). The effective slippage rate is
// slippage_bps * quantum / 10000, so the factor averages 1.
func slipQuantum(seed int64, symbol string, session int) int64 {
	h := uint64(seed)
	for i := 0; i < len(symbol); i++ {
		h = (h ^ uint64(symbol[i])) * fnvPrime
	}
	h ^= uint64(session) * splitmixGamma
	return int64(splitmix(h) % noiseQuanta)
}

// splitmix is the splitmix64 finalizer. It decorrelates the folded
// inputs so adjacent sessions and similar symbols produce unrelated
// quanta.
func splitmix(x uint64) uint64 {
	x += splitmixGamma
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	return x ^ (x >> 31)
}

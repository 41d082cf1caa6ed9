package contract

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/lockstephq/lockstep/internal/canonical"
)

// ConfigHash computes the deterministic digest of a run's logical experiment
// design: strategy, symbols (order-normalized), parameters, window, and
// initial cash. The random seed and snapshot id are excluded, so reruns of
// the same design with different seeds hash identically. Two requests with
// equal config hashes are the same experiment design.
func ConfigHash(req *RunRequest) (string, error) {
	symbols := append([]string(nil), req.Symbols...)
	sort.Strings(symbols)
	symbolList := make([]any, len(symbols))
	for i, s := range symbols {
		symbolList[i] = s
	}

	params := make(map[string]any, len(req.Params))
	for k, v := range req.Params {
		params[k] = v
	}

	doc := map[string]any{
		"strategy":     req.Strategy,
		"symbols":      symbolList,
		"params":       params,
		"initial_cash": req.InitialCash,
		"window": map[string]any{
			"start": req.Start,
			"end":   req.End,
		},
	}

	hash, err := canonical.HashValue(canonical.DomainConfig, doc)
	if err != nil {
		return "", fmt.Errorf("config hash: %w", err)
	}
	return hash, nil
}

// SnapshotID computes the content-addressed identifier of an input dataset.
// The id is stable across process runs, independent of map iteration and
// column order, and sensitive to every timestamp and value: only datasets
// whose canonical serialization is bit-identical share an id.
func SnapshotID(series Series) (string, error) {
	payload, err := SnapshotBytes(series)
	if err != nil {
		return "", err
	}
	return canonical.Hash(canonical.DomainSnapshot, payload), nil
}

// SnapshotBytes returns the canonical serialization of a dataset. This is
// exactly what the snapshot registry stores, so stored bytes re-hash to
// their own id.
func SnapshotBytes(series Series) ([]byte, error) {
	bySymbol := make(map[string]any, len(series))
	for sym, bars := range series {
		list := make([]any, len(bars))
		for i, b := range bars {
			list[i] = map[string]any{
				"time":  b.Time,
				"close": b.Close,
			}
		}
		bySymbol[sym] = list
	}

	payload, err := canonical.Marshal(map[string]any{"series": bySymbol})
	if err != nil {
		return nil, fmt.Errorf("snapshot serialization: %w", err)
	}
	return payload, nil
}

// DefaultSeed derives the deterministic default random seed from a config
// hash: the first 8 digest bytes, big-endian, masked non-negative. The same
// experiment design therefore defaults to the same seed on every rerun.
func DefaultSeed(configHash string) int64 {
	if len(configHash) < 16 {
		return 0
	}
	raw, err := hex.DecodeString(configHash[:16])
	if err != nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(raw) &^ (1 << 63))
}

// SeedFor resolves the seed an engine must use: the request's explicit seed
// when present, otherwise the deterministic default for the config hash.
func SeedFor(req *RunRequest, configHash string) int64 {
	if req.Seed != nil {
		return *req.Seed
	}
	return DefaultSeed(configHash)
}

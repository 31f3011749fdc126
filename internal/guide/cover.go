// Package guide maintains the merged program guide: it decides which subset
// of devices to poll, fetches their guide feeds, and reconciles entries into
// per-channel aging timelines.
package guide

import (
	"errors"
	"sort"

	"github.com/snapetech/hdhrbridge/internal/lineup"
)

// ErrNoCover reports that no device subset reaches every channel (including
// the degenerate empty-fleet case). The caller skips the guide cycle and
// retries on the next pass.
var ErrNoCover = errors.New("guide: no covering device set")

// SelectCovering returns a minimum-size subset of devices such that every
// channel's capable-device set intersects it. Guide fetches are expensive
// external calls and devices frequently mirror each other's channel sets,
// so polling a minimal cover avoids redundant requests.
//
// Device counts are small (single digits to low tens), so this is an exact
// brute-force search: subset sizes are tried in increasing order, and the
// k-subsets of the sorted device list are enumerated lexicographically. The
// first covering subset found is returned, which makes the result
// deterministic for a given fleet and channel map.
func SelectCovering(caps map[lineup.GuideNumber][]uint32, devices []uint32) ([]uint32, error) {
	if len(devices) == 0 {
		return nil, ErrNoCover
	}
	sorted := append([]uint32(nil), devices...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	// Capability sets as bitmasks over the sorted device index space.
	idx := make(map[uint32]int, len(sorted))
	for i, id := range sorted {
		idx[id] = i
	}
	masks := make([]uint64, 0, len(caps))
	for _, devs := range caps {
		var m uint64
		for _, id := range devs {
			if i, ok := idx[id]; ok {
				m |= 1 << i
			}
		}
		if m == 0 {
			// A channel no known device serves; nothing can cover it.
			return nil, ErrNoCover
		}
		masks = append(masks, m)
	}
	if len(masks) == 0 {
		return nil, nil // no channels: the empty subset covers vacuously
	}

	n := len(sorted)
	comb := make([]int, 0, n)
	for k := 1; k <= n; k++ {
		comb = comb[:0]
		for i := 0; i < k; i++ {
			comb = append(comb, i)
		}
		for {
			var m uint64
			for _, i := range comb {
				m |= 1 << i
			}
			if coversAll(masks, m) {
				out := make([]uint32, k)
				for i, c := range comb {
					out[i] = sorted[c]
				}
				return out, nil
			}
			if !nextCombination(comb, n) {
				break
			}
		}
	}
	return nil, ErrNoCover
}

func coversAll(masks []uint64, m uint64) bool {
	for _, cm := range masks {
		if cm&m == 0 {
			return false
		}
	}
	return true
}

// nextCombination advances comb to the next k-combination of [0,n) in
// lexicographic order, returning false after the last one.
func nextCombination(comb []int, n int) bool {
	k := len(comb)
	for i := k - 1; i >= 0; i-- {
		if comb[i] < n-k+i {
			comb[i]++
			for j := i + 1; j < k; j++ {
				comb[j] = comb[j-1] + 1
			}
			return true
		}
	}
	return false
}

package pipeline

import (
	"math/rand/v2"
	"sort"

	"github.com/banshee-data/blelocate/internal/ble"
)

// sample keeps at most perGroup windows of every stream, chosen by a
// shuffle seeded with seed. The selection depends only on the windows and
// the seed, and the kept windows stay in their original order. perGroup <= 0
// keeps everything.
func sample(windows []ble.Window, perGroup int, seed uint64) []ble.Window {
	if perGroup <= 0 {
		return windows
	}
	groups := make(map[ble.StreamKey][]int)
	var keys []ble.StreamKey
	for i, w := range windows {
		if _, ok := groups[w.Stream]; !ok {
			keys = append(keys, w.Stream)
		}
		groups[w.Stream] = append(groups[w.Stream], i)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	var keep []int
	for _, k := range keys {
		idx := groups[k]
		if len(idx) <= perGroup {
			keep = append(keep, idx...)
			continue
		}
		shuffled := append([]int(nil), idx...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		keep = append(keep, shuffled[:perGroup]...)
	}
	sort.Ints(keep)

	out := make([]ble.Window, len(keep))
	for i, idx := range keep {
		out[i] = windows[idx]
	}
	return out
}

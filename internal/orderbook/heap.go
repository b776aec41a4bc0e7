package orderbook

import "github.com/exchange-kernel/spotkernel/internal/fixedpoint"

// maxPriceHeap tracks resting bid price levels, best (highest) price at
// the root. Mirrors the sibling kernel's MaxPriceHeap, generalized from
// int64 to the arbitrary-precision Amount price type.
type maxPriceHeap []fixedpoint.Amount

func (h maxPriceHeap) Len() int            { return len(h) }
func (h maxPriceHeap) Less(i, j int) bool  { return h[i].Cmp(h[j]) > 0 }
func (h maxPriceHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxPriceHeap) Push(x interface{}) { *h = append(*h, x.(fixedpoint.Amount)) }
func (h *maxPriceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
func (h maxPriceHeap) Peek() fixedpoint.Amount { return h[0] }

// minPriceHeap tracks resting ask price levels, best (lowest) price at
// the root.
type minPriceHeap []fixedpoint.Amount

func (h minPriceHeap) Len() int            { return len(h) }
func (h minPriceHeap) Less(i, j int) bool  { return h[i].Cmp(h[j]) < 0 }
func (h minPriceHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minPriceHeap) Push(x interface{}) { *h = append(*h, x.(fixedpoint.Amount)) }
func (h *minPriceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
func (h minPriceHeap) Peek() fixedpoint.Amount { return h[0] }

package mot

// distancePair is a candidate (track, detection) assignment
type distancePair struct {
	trackIdx     int
	detectionIdx int
	distance     float64
	// seq is position of the pair in row-major (track, detection) order. Equal
	// distances are resolved by it, so the greedy pass is reproducible.
	seq int
}

// Copied from container/heap - https://golang.org/pkg/container/heap/
// Why make copy? Just want to avoid type conversion

type distanceHeap []*distancePair

func (h distanceHeap) Len() int { return len(h) }
func (h distanceHeap) Less(i, j int) bool {
	if h[i].distance == h[j].distance {
		return h[i].seq < h[j].seq
	}
	return h[i].distance < h[j].distance
}
func (h distanceHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push pushes the element x onto the heap.
// The complexity is O(log n) where n = h.Len().
func (h *distanceHeap) Push(x *distancePair) {
	*h = append(*h, x)
	h.up(h.Len() - 1)
}

// Pop removes and returns the minimum element (according to Less) from the heap.
// The complexity is O(log n) where n = h.Len().
func (h *distanceHeap) Pop() *distancePair {
	n := h.Len() - 1
	h.Swap(0, n)
	h.down(0, n)
	heapSize := len(*h)
	lastNode := (*h)[heapSize-1]
	*h = (*h)[0 : heapSize-1]
	return lastNode
}

// Peek returns the minimum element without removing it
func (h distanceHeap) Peek() *distancePair {
	return h[0]
}

func (h distanceHeap) up(j int) {
	for {
		i := (j - 1) / 2
		if i == j || !h.Less(j, i) {
			break
		}
		h.Swap(i, j)
		j = i
	}
}

func (h distanceHeap) down(i0, n int) bool {
	i := i0
	for {
		j1 := 2*i + 1
		if j1 >= n || j1 < 0 {
			break
		}
		j := j1
		if j2 := j1 + 1; j2 < n && h.Less(j2, j1) {
			j = j2
		}
		if !h.Less(j, i) {
			break
		}
		h.Swap(i, j)
		i = j
	}
	return i > i0
}

package warmer

import "sync"

// SegmentTracker remembers recently warmed segment URLs in a fixed-size
// ring so a live playlist refreshed every few seconds does not queue the
// same segments again. The oldest URL is forgotten once the ring is full.
type SegmentTracker struct {
	segments    []string
	segmentMap  map[string]int
	head        int
	maxSize     int
	currentSize int
	mutex       sync.Mutex
}

// NewSegmentTracker creates a tracker holding at most maxSize URLs.
func NewSegmentTracker(maxSize int) *SegmentTracker {
	if maxSize < 1 {
		maxSize = 1
	}
	return &SegmentTracker{
		segments:   make([]string, maxSize),
		segmentMap: make(map[string]int, maxSize),
		maxSize:    maxSize,
	}
}

// MarkIfNew records segmentURL and reports whether it was not tracked yet.
// Check and insert happen under one lock so two refreshes racing on the same
// playlist cannot both claim a segment.
func (st *SegmentTracker) MarkIfNew(segmentURL string) bool {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	if _, exists := st.segmentMap[segmentURL]; exists {
		return false
	}

	if st.currentSize >= st.maxSize {
		if old := st.segments[st.head]; old != "" {
			delete(st.segmentMap, old)
		}
	} else {
		st.currentSize++
	}

	st.segments[st.head] = segmentURL
	st.segmentMap[segmentURL] = st.head
	st.head = (st.head + 1) % st.maxSize
	return true
}

// Forget drops segmentURL so a later refresh may retry it.
func (st *SegmentTracker) Forget(segmentURL string) {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	pos, exists := st.segmentMap[segmentURL]
	if !exists {
		return
	}
	delete(st.segmentMap, segmentURL)
	st.segments[pos] = ""
}

// Has reports whether segmentURL is tracked.
func (st *SegmentTracker) Has(segmentURL string) bool {
	st.mutex.Lock()
	defer st.mutex.Unlock()
	_, exists := st.segmentMap[segmentURL]
	return exists
}

// Size returns the number of tracked URLs.
func (st *SegmentTracker) Size() int {
	st.mutex.Lock()
	defer st.mutex.Unlock()
	return len(st.segmentMap)
}

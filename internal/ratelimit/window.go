package ratelimit

import "time"

// SlidingWindow counts requests in the trailing window. It is not safe for
// concurrent use; Limiter serializes access per key.
type SlidingWindow struct {
	window time.Duration
	max    int
	stamps []time.Time
}

func NewSlidingWindow(window time.Duration, max int) *SlidingWindow {
	return &SlidingWindow{window: window, max: max}
}

// Check evicts stale stamps and reports whether one more request fits.
// When it does not, retryAfter is the time until the oldest stamp leaves
// the window.
func (w *SlidingWindow) Check(now time.Time) (ok bool, retryAfter time.Duration) {
	if w == nil || w.max <= 0 {
		return true, 0
	}
	w.evict(now)
	if len(w.stamps) < w.max {
		return true, 0
	}
	return false, w.stamps[0].Add(w.window).Sub(now)
}

// Record stores a request at now.
func (w *SlidingWindow) Record(now time.Time) {
	if w == nil || w.max <= 0 {
		return
	}
	w.stamps = append(w.stamps, now)
}

// Allow is Check followed by Record when admitted.
func (w *SlidingWindow) Allow(now time.Time) bool {
	ok, _ := w.Check(now)
	if ok {
		w.Record(now)
	}
	return ok
}

func (w *SlidingWindow) Count(now time.Time) int {
	w.evict(now)
	return len(w.stamps)
}

func (w *SlidingWindow) evict(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

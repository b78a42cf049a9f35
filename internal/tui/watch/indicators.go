package watch

import (
	"strings"
	"time"
)

const (
	activityBuckets = 12
	bucketWidth     = 5 * time.Second
	stallAfter      = 30 * time.Second
)

var sparkLevels = []rune("▁▂▃▄▅▆▇█")

// Activity counts events in fixed five-second buckets over the last minute and
// remembers when the scheduler last ticked.
type Activity struct {
	counts    [activityBuckets]int
	head      time.Time
	lastEvent time.Time
	lastTick  time.Time
}

// NewActivity starts the tick clock at now so a fresh view is not reported as
// stalled before the first scheduler.tick arrives.
func NewActivity(now time.Time) Activity {
	return Activity{head: now.Truncate(bucketWidth), lastTick: now}
}

// Record counts one event at t. Scheduler ticks also reset the stall clock.
func (a *Activity) Record(t time.Time, tick bool) {
	a.advance(t)
	a.counts[activityBuckets-1]++
	a.lastEvent = t
	if tick {
		a.lastTick = t
	}
}

// advance shifts buckets so the newest one covers t.
func (a *Activity) advance(t time.Time) {
	bucket := t.Truncate(bucketWidth)
	if !bucket.After(a.head) {
		return
	}
	shift := int(bucket.Sub(a.head) / bucketWidth)
	if shift >= activityBuckets {
		a.counts = [activityBuckets]int{}
	} else {
		copy(a.counts[:], a.counts[shift:])
		for i := activityBuckets - shift; i < activityBuckets; i++ {
			a.counts[i] = 0
		}
	}
	a.head = bucket
}

// Stalled reports whether the scheduler has been silent past the stall window.
func (a Activity) Stalled(now time.Time) bool {
	return now.Sub(a.lastTick) > stallAfter
}

// LastEvent is the time of the most recent event, zero if none arrived.
func (a Activity) LastEvent() time.Time { return a.lastEvent }

// Total is the number of events seen in the window.
func (a Activity) Total() int {
	n := 0
	for _, c := range a.counts {
		n += c
	}
	return n
}

// Sparkline renders one glyph per bucket, scaled to the busiest bucket.
func (a Activity) Sparkline(now time.Time) string {
	a.advance(now)
	peak := 0
	for _, c := range a.counts {
		peak = max(peak, c)
	}
	var b strings.Builder
	for _, c := range a.counts {
		if peak == 0 || c == 0 {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(sparkLevels[(c*(len(sparkLevels)-1))/peak])
	}
	return b.String()
}

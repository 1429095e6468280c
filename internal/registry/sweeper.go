package registry

import (
	"container/heap"
	"context"
	"log/slog"
	"time"

	"github.com/riftcast/streamscribe/internal/types"
)

// deadlineItem is one pending terminal-grace removal: a session that has
// already reached Closed/Failed but whose subscriber may not have finished
// draining the outbound channel yet.
type deadlineItem struct {
	id       types.SessionID
	deadline time.Time
}

// deadlineHeap is a min-heap ordered by deadline, adapted from the
// priority-ordered segment heap used elsewhere in this codebase for
// ordering by a different key. Popping always yields the
// soonest-expiring entry.
type deadlineHeap []deadlineItem

func newDeadlineHeap() *deadlineHeap {
	h := make(deadlineHeap, 0)
	heap.Init(&h)
	return &h
}

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h deadlineHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

// Push appends x to the heap. Called by [container/heap.Push]; callers must
// not invoke this directly.
func (h *deadlineHeap) Push(x any) { *h = append(*h, x.(deadlineItem)) }

// Pop removes and returns the last element. Called by [container/heap.Pop];
// callers must not invoke this directly.
func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// scheduleSweep queues id for terminal-grace removal at deadline. Called
// once per session, the first time the sweeper observes it in a terminal
// state.
func (r *Registry) scheduleSweep(id types.SessionID, deadline time.Time) {
	r.sweepMu.Lock()
	heap.Push(r.sweepDeadlines, deadlineItem{id: id, deadline: deadline})
	r.sweepMu.Unlock()
}

// popExpired drains every deadlineHeap entry whose deadline has passed.
func (r *Registry) popExpired(now time.Time) []types.SessionID {
	r.sweepMu.Lock()
	defer r.sweepMu.Unlock()

	var ids []types.SessionID
	for r.sweepDeadlines.Len() > 0 {
		next := (*r.sweepDeadlines)[0]
		if next.deadline.After(now) {
			break
		}
		heap.Pop(r.sweepDeadlines)
		ids = append(ids, next.id)
	}
	return ids
}

// sweepLoop is the Registry's background maintenance task: on every tick it
// closes idle-expired and over-duration live sessions (an implicit finish)
// and removes terminal sessions once their grace period for a straggling
// subscriber has elapsed.
func (r *Registry) sweepLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case now := <-ticker.C:
			r.sweepTick(now)
		}
	}
}

func (r *Registry) sweepTick(now time.Time) {
	idleTimeout := r.idleTimeout()
	maxAge := time.Duration(r.maxSessionAgeNs.Load())

	for _, sh := range r.shards {
		sh.mu.Lock()
		for id, e := range sh.sessions {
			st := e.sess.State()
			switch {
			case st.IsTerminal():
				if !e.hasTerminal {
					e.hasTerminal = true
					e.terminalSince = now
					grace := time.Duration(r.terminalGraceNs.Load())
					if grace <= 0 {
						grace = 30 * time.Second
					}
					r.scheduleSweep(id, now.Add(grace))
				}
			default:
				idleSince := now.Sub(e.sess.LastActivity())
				age := now.Sub(e.sess.CreatedAt())
				if idleSince >= idleTimeout || (maxAge > 0 && age >= maxAge) {
					go finishOrClose(e.sess)
				}
			}
		}
		sh.mu.Unlock()
	}

	for _, id := range r.popExpired(now) {
		r.Remove(id)
	}
}

// finishOrClose attempts a graceful finish of a live session that has
// exceeded its idle timeout or maximum duration; if Finish fails (the
// session is already Finishing, or the sentinel cannot be enqueued within
// 2s) it is force-closed instead.
func finishOrClose(sess interface {
	Finish(ctx context.Context) error
	Close()
}) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sess.Finish(ctx); err != nil {
		slog.Warn("sweeper: graceful finish failed, forcing close", "error", err)
		sess.Close()
	}
}

package frames

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrFrameUnavailable is returned when a frame is unknown or the two
	// frames of a lookup are not connected.
	ErrFrameUnavailable = errors.New("frame unavailable")
	// ErrExtrapolation is returned when the requested stamp lies outside the
	// buffered history of a transform.
	ErrExtrapolation = errors.New("extrapolation outside transform history")
	// ErrLookupTimeout is returned by Lookup when the context ends before
	// the transform becomes available.
	ErrLookupTimeout = errors.New("transform lookup timed out")
)

// DefaultCacheDuration is how much history each dynamic transform keeps.
const DefaultCacheDuration = 10 * time.Second

// maxChainDepth bounds tree walks so a malformed tree cannot loop forever.
const maxChainDepth = 64

// StampedTransform is a transform from ChildFrame to ParentFrame valid at
// Stamp. Static transforms are valid at every stamp.
type StampedTransform struct {
	Transform
	Stamp       time.Time
	ParentFrame string
	ChildFrame  string
	Static      bool
}

// Broadcaster accepts transforms for other components to look up.
type Broadcaster interface {
	SendTransform(tf StampedTransform) error
}

type frameHistory struct {
	parent  string
	static  bool
	entries []StampedTransform // sorted by Stamp
}

// Buffer stores the transform tree and answers lookups. It is safe for
// concurrent use and implements Broadcaster.
type Buffer struct {
	mu            sync.Mutex
	frames        map[string]*frameHistory // keyed by child frame
	cacheDuration time.Duration
	notify        chan struct{}
}

// NewBuffer creates an empty buffer keeping cacheDuration of history per
// dynamic transform. A non-positive duration selects DefaultCacheDuration.
func NewBuffer(cacheDuration time.Duration) *Buffer {
	if cacheDuration <= 0 {
		cacheDuration = DefaultCacheDuration
	}
	return &Buffer{
		frames:        make(map[string]*frameHistory),
		cacheDuration: cacheDuration,
		notify:        make(chan struct{}),
	}
}

// SendTransform inserts tf into the buffer and wakes pending lookups.
// A child that is re-parented drops its previous history.
func (b *Buffer) SendTransform(tf StampedTransform) error {
	if tf.ParentFrame == "" || tf.ChildFrame == "" {
		return fmt.Errorf("%w: empty frame id", ErrInvalidTransform)
	}
	if tf.ParentFrame == tf.ChildFrame {
		return fmt.Errorf("%w: frame %q cannot be its own parent", ErrInvalidTransform, tf.ChildFrame)
	}
	norm, err := tf.Transform.Normalize()
	if err != nil {
		return fmt.Errorf("%s -> %s: %w", tf.ChildFrame, tf.ParentFrame, err)
	}
	tf.Transform = norm

	b.mu.Lock()
	defer b.mu.Unlock()

	h, ok := b.frames[tf.ChildFrame]
	if !ok || h.parent != tf.ParentFrame || h.static != tf.Static {
		h = &frameHistory{parent: tf.ParentFrame, static: tf.Static}
		b.frames[tf.ChildFrame] = h
	}

	if h.static {
		h.entries = append(h.entries[:0], tf)
	} else {
		i := sort.Search(len(h.entries), func(i int) bool { return !h.entries[i].Stamp.Before(tf.Stamp) })
		if i < len(h.entries) && h.entries[i].Stamp.Equal(tf.Stamp) {
			h.entries[i] = tf
		} else {
			h.entries = append(h.entries, StampedTransform{})
			copy(h.entries[i+1:], h.entries[i:])
			h.entries[i] = tf
		}
		b.prune(h, tf.Stamp)
	}

	close(b.notify)
	b.notify = make(chan struct{})
	return nil
}

// prune keeps the entries within the cache duration of around, the stamp
// that was just inserted. A broadcast far from the current history (a
// replayed recording, a sensor clock behind the host) therefore replaces
// that history instead of being discarded by it.
func (b *Buffer) prune(h *frameHistory, around time.Time) {
	lo, hi := around.Add(-b.cacheDuration), around.Add(b.cacheDuration)
	n := 0
	for _, e := range h.entries {
		if e.Stamp.Before(lo) || e.Stamp.After(hi) {
			continue
		}
		h.entries[n] = e
		n++
	}
	h.entries = h.entries[:n]
}

// CanTransform reports whether a lookup from source to target at stamp
// would succeed right now. A zero stamp asks for the latest transforms.
func (b *Buffer) CanTransform(target, source string, stamp time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, _, err := b.lookupLocked(target, source, stamp)
	return err
}

// Lookup returns the transform that maps points in the source frame into
// the target frame at stamp. When the transform is not yet available it
// waits for new transforms until ctx is done. Requests older than the
// buffered history fail immediately.
func (b *Buffer) Lookup(ctx context.Context, target, source string, stamp time.Time) (StampedTransform, error) {
	for {
		b.mu.Lock()
		tf, retry, err := b.lookupLocked(target, source, stamp)
		notify := b.notify
		b.mu.Unlock()

		if err == nil {
			return tf, nil
		}
		if !retry {
			return StampedTransform{}, err
		}

		select {
		case <-notify:
		case <-ctx.Done():
			return StampedTransform{}, fmt.Errorf("%w: %w", ErrLookupTimeout, err)
		}
	}
}

// lookupLocked resolves target<-source at stamp. retry reports whether
// waiting for more transforms could make the lookup succeed.
func (b *Buffer) lookupLocked(target, source string, stamp time.Time) (StampedTransform, bool, error) {
	result := StampedTransform{ParentFrame: target, ChildFrame: source, Stamp: stamp}
	if target == source {
		result.Transform = Identity()
		return result, false, nil
	}

	srcChain, err := b.chainLocked(source)
	if err != nil {
		return StampedTransform{}, true, err
	}
	dstChain, err := b.chainLocked(target)
	if err != nil {
		return StampedTransform{}, true, err
	}

	// Find the closest common ancestor.
	depth := make(map[string]int, len(dstChain))
	for i, f := range dstChain {
		depth[f] = i
	}
	si, di := -1, -1
	for i, f := range srcChain {
		if j, ok := depth[f]; ok {
			si, di = i, j
			break
		}
	}
	if si < 0 {
		return StampedTransform{}, true, fmt.Errorf("%w: %q and %q are not connected", ErrFrameUnavailable, source, target)
	}

	if stamp.IsZero() {
		stamp = b.latestCommonLocked(srcChain[:si], dstChain[:di])
	}

	ancFromSrc, retry, err := b.accumulateLocked(srcChain[:si], stamp)
	if err != nil {
		return StampedTransform{}, retry, err
	}
	ancFromDst, retry, err := b.accumulateLocked(dstChain[:di], stamp)
	if err != nil {
		return StampedTransform{}, retry, err
	}

	result.Transform = ancFromDst.Inverse().Compose(ancFromSrc)
	result.Stamp = stamp
	return result, false, nil
}

// chainLocked returns frame followed by its ancestors up to the root.
func (b *Buffer) chainLocked(frame string) ([]string, error) {
	if _, ok := b.frames[frame]; !ok && !b.isParentLocked(frame) {
		return nil, fmt.Errorf("%w: unknown frame %q", ErrFrameUnavailable, frame)
	}
	chain := []string{frame}
	for cur := frame; len(chain) <= maxChainDepth; {
		h, ok := b.frames[cur]
		if !ok {
			return chain, nil
		}
		cur = h.parent
		chain = append(chain, cur)
	}
	return nil, fmt.Errorf("%w: frame tree above %q is deeper than %d", ErrFrameUnavailable, frame, maxChainDepth)
}

func (b *Buffer) isParentLocked(frame string) bool {
	for _, h := range b.frames {
		if h.parent == frame {
			return true
		}
	}
	return false
}

// accumulateLocked composes the edges of chain (child first) into one
// transform from chain[0] to the parent of the last element.
func (b *Buffer) accumulateLocked(chain []string, stamp time.Time) (Transform, bool, error) {
	acc := Identity()
	for _, f := range chain {
		tf, retry, err := b.frames[f].at(stamp)
		if err != nil {
			return Transform{}, retry, fmt.Errorf("%s -> %s: %w", f, b.frames[f].parent, err)
		}
		acc = tf.Compose(acc)
	}
	return acc, false, nil
}

// latestCommonLocked returns the newest stamp every dynamic edge in the
// given chains can serve.
func (b *Buffer) latestCommonLocked(chains ...[]string) time.Time {
	var latest time.Time
	first := true
	for _, chain := range chains {
		for _, f := range chain {
			h := b.frames[f]
			if h.static || len(h.entries) == 0 {
				continue
			}
			s := h.entries[len(h.entries)-1].Stamp
			if first || s.Before(latest) {
				latest = s
				first = false
			}
		}
	}
	return latest
}

func (h *frameHistory) at(stamp time.Time) (Transform, bool, error) {
	if len(h.entries) == 0 {
		return Transform{}, true, ErrFrameUnavailable
	}
	if h.static || stamp.IsZero() {
		return h.entries[len(h.entries)-1].Transform, false, nil
	}

	oldest := h.entries[0].Stamp
	newest := h.entries[len(h.entries)-1].Stamp
	switch {
	case stamp.After(newest):
		return Transform{}, true, fmt.Errorf("%w: requested %s is %v after the newest transform",
			ErrExtrapolation, stamp.Format(time.RFC3339Nano), stamp.Sub(newest))
	case stamp.Before(oldest):
		return Transform{}, false, fmt.Errorf("%w: requested %s is %v before the oldest transform",
			ErrExtrapolation, stamp.Format(time.RFC3339Nano), oldest.Sub(stamp))
	}

	i := sort.Search(len(h.entries), func(i int) bool { return !h.entries[i].Stamp.Before(stamp) })
	hi := h.entries[i]
	if hi.Stamp.Equal(stamp) {
		return hi.Transform, false, nil
	}
	lo := h.entries[i-1]
	ratio := float64(stamp.Sub(lo.Stamp)) / float64(hi.Stamp.Sub(lo.Stamp))
	return Interpolate(lo.Transform, hi.Transform, ratio), false, nil
}

// FrameInfo describes one edge of the transform tree.
type FrameInfo struct {
	Child    string    `json:"child"`
	Parent   string    `json:"parent"`
	Static   bool      `json:"static"`
	Entries  int       `json:"entries"`
	Newest   time.Time `json:"newest"`
	Earliest time.Time `json:"earliest"`
}

// Frames lists every edge in the buffer, sorted by child frame id.
func (b *Buffer) Frames() []FrameInfo {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]FrameInfo, 0, len(b.frames))
	for child, h := range b.frames {
		info := FrameInfo{Child: child, Parent: h.parent, Static: h.static, Entries: len(h.entries)}
		if len(h.entries) > 0 {
			info.Earliest = h.entries[0].Stamp
			info.Newest = h.entries[len(h.entries)-1].Stamp
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Child < out[j].Child })
	return out
}

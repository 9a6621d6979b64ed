package paginator

import (
	"context"
)

// ScrollTo widens w until it holds messageID, checking up to the
// configured number of attempts with a pause between them.
func (w *Window) ScrollTo(ctx context.Context, messageID string) error {
	if w.p == nil {
		return ErrMessageNotLoaded
	}
	for i := 0; i < w.p.opts.ScrollAttempts; i++ {
		if w.Contains(messageID) {
			return nil
		}
		if _, err := w.LoadMore(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.p.clk.After(w.p.opts.ScrollInterval):
		}
	}
	if w.Contains(messageID) {
		return nil
	}
	return ErrMessageNotLoaded
}

// ScrollAnchor keeps the viewport on the same message when older
// messages are prepended above it.
type ScrollAnchor struct {
	OldScrollHeight float64 `json:"oldScrollHeight"`
	Offset          float64 `json:"offset"`
}

func CaptureAnchor(scrollHeight, scrollTop float64) ScrollAnchor {
	return ScrollAnchor{OldScrollHeight: scrollHeight, Offset: scrollTop}
}

// Restore returns the scrollTop that shows the anchored content after the
// content grew to newScrollHeight.
func (a ScrollAnchor) Restore(newScrollHeight float64) float64 {
	return newScrollHeight - a.OldScrollHeight + a.Offset
}

// NearTop reports whether scrollTop is within threshold of the top, the
// point at which a client asks for more history.
func NearTop(scrollTop, threshold float64) bool { return scrollTop <= threshold }

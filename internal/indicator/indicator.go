// Package indicator projects live sessions into what a session indicator
// shows: a countdown, a colour and a health summary per unlocked tag. It also
// forwards the manual controls (extend, lock, unlock, end, panic) to the
// session manager.
package indicator

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/gophjournal/internal/common"
	"github.com/dmitrijs2005/gophjournal/internal/config"
	"github.com/dmitrijs2005/gophjournal/internal/session"
	"github.com/fatih/color"
)

// Color is the indicator tint for a session.
type Color string

const (
	Green  Color = "green"
	Cyan   Color = "cyan"
	Yellow Color = "yellow"
	Red    Color = "red"
	Gray   Color = "gray"
)

// View is the display projection of one session. It is rebuilt from the
// manager on every call and never cached.
type View struct {
	TagID     string
	TagName   string
	SessionID string
	Remaining time.Duration
	Countdown string
	Color     Color
	Status    session.Status
	Health    session.Health
}

type Indicator struct {
	manager  *session.Manager
	interval time.Duration
}

func New(manager *session.Manager, cfg *config.Config) *Indicator {
	interval := cfg.CountdownInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &Indicator{manager: manager, interval: interval}
}

// Views returns one view per live session, oldest first.
func (i *Indicator) Views() []View {
	sessions := i.manager.Active()
	out := make([]View, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, i.view(s))
	}
	return out
}

// View returns the view of tagID's session.
func (i *Indicator) View(tagID string) (View, error) {
	s, ok := i.manager.Get(tagID)
	if !ok {
		return View{}, fmt.Errorf("indicator %s: %w", tagID, common.ErrNotFound)
	}
	return i.view(s), nil
}

func (i *Indicator) Extend(tagID string, extra time.Duration) (View, error) {
	s, err := i.manager.Extend(tagID, extra)
	if err != nil {
		return View{}, err
	}
	return i.view(s), nil
}

func (i *Indicator) Lock(tagID string) (View, error) {
	if err := i.manager.Lock(tagID); err != nil {
		return View{}, err
	}
	return i.View(tagID)
}

func (i *Indicator) Unlock(tagID string) (View, error) {
	if err := i.manager.Unlock(tagID); err != nil {
		return View{}, err
	}
	return i.View(tagID)
}

// Terminate ends tagID's session.
func (i *Indicator) Terminate(tagID string) error {
	return i.manager.Deactivate(tagID)
}

func (i *Indicator) TerminateAll() int {
	return i.manager.DeactivateAll()
}

func (i *Indicator) Panic() {
	i.manager.Panic()
}

// Watch calls fn with fresh views right away, on every countdown tick and
// after every session event, until ctx is done. fn runs on the calling
// goroutine.
func (i *Indicator) Watch(ctx context.Context, fn func([]View)) {
	changed := make(chan struct{}, 1)
	sub := i.manager.Subscribe(func(session.Event) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer i.manager.Unsubscribe(sub)

	ticker := time.NewTicker(i.interval)
	defer ticker.Stop()

	fn(i.Views())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-changed:
		}
		fn(i.Views())
	}
}

// Render writes one colour-coded line per live session to w.
func (i *Indicator) Render(w io.Writer) error {
	views := i.Views()
	if len(views) == 0 {
		_, err := fmt.Fprintln(w, color.HiBlackString("no unlocked tags"))
		return err
	}
	for _, v := range views {
		paint := painter(v.Color)
		_, err := fmt.Fprintf(w, "%s %-16s %8s  %-6s  health %3d %s\n",
			paint("●"), v.TagName, paint("%s", v.Countdown), v.Status, v.Health.Score, paint("%s", v.Health.Status))
		if err != nil {
			return err
		}
	}
	return nil
}

func (i *Indicator) view(s session.Session) View {
	now := i.manager.Now()
	h := i.manager.HealthOf(s)
	remaining := s.Remaining(now)
	return View{
		TagID:     s.TagID,
		TagName:   s.TagName,
		SessionID: s.SessionID,
		Remaining: remaining,
		Countdown: Countdown(remaining),
		Color:     colorFor(s, h),
		Status:    s.Status(),
		Health:    h,
	}
}

// Countdown formats d as MM:SS, or H:MM:SS from one hour up. Partial
// seconds are dropped.
func Countdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	h, m, s := total/3600, (total/60)%60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func colorFor(s session.Session, h session.Health) Color {
	if s.Locked {
		return Gray
	}
	switch h.Status {
	case session.HealthExcellent:
		return Green
	case session.HealthGood:
		return Cyan
	case session.HealthWarning:
		return Yellow
	default:
		return Red
	}
}

func painter(c Color) func(format string, a ...interface{}) string {
	switch c {
	case Green:
		return color.GreenString
	case Cyan:
		return color.CyanString
	case Yellow:
		return color.YellowString
	case Red:
		return color.RedString
	default:
		return color.HiBlackString
	}
}

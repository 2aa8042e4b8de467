package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophjournal/internal/common"
	"github.com/dmitrijs2005/gophjournal/internal/config"
	"github.com/dmitrijs2005/gophjournal/internal/entries"
	"github.com/dmitrijs2005/gophjournal/internal/indicator"
	"github.com/dmitrijs2005/gophjournal/internal/logging"
	"github.com/dmitrijs2005/gophjournal/internal/phrase"
	"github.com/dmitrijs2005/gophjournal/internal/session"
	"github.com/fatih/color"
)

// Deps are the components the CLI drives.
type Deps struct {
	Config    *config.Config
	Registry  *phrase.Registry
	Sessions  *session.Manager
	Entries   *entries.Manager
	Indicator *indicator.Indicator
	Logger    logging.Logger
}

// App is the interactive journal shell.
type App struct {
	Deps
	reader *bufio.Reader
	out    io.Writer
}

func NewApp(d Deps, in io.Reader, out io.Writer) *App {
	return &App{Deps: d, reader: bufio.NewReader(in), out: &lockedWriter{w: out}}
}

// lockedWriter serialises writes from the command loop and from session
// notices, which arrive on the sweeper goroutine.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// Run prints session notices as they happen and serves commands until the
// input ends, the user exits or ctx is done.
func (a *App) Run(ctx context.Context) {
	sub := a.Sessions.Subscribe(a.notify)
	defer a.Sessions.Unsubscribe(sub)

	fmt.Fprintln(a.out, "Journal (type 'help' for commands)")
	runREPL(ctx, a, a.status, a.reader)
}

func (a *App) status() string {
	n := len(a.Sessions.Active())
	if n == 1 {
		return "1 tag unlocked"
	}
	return fmt.Sprintf("%d tags unlocked", n)
}

func (a *App) notify(e session.Event) {
	switch e.Type {
	case session.EventExpired:
		fmt.Fprintf(a.out, "%s session for %s expired\n", color.YellowString("!"), e.TagName)
	case session.EventSecurityAlert:
		fmt.Fprintf(a.out, "%s security alert: %s\n", color.RedString("!"), e.Reason)
	}
}

func (a *App) fail(err error) error {
	fmt.Fprintln(a.out, color.RedString("✗"), common.UserMessage(err))
	return err
}

func (a *App) ok(format string, args ...any) {
	fmt.Fprintln(a.out, color.GreenString("✓"), fmt.Sprintf(format, args...))
}

// resolveTag accepts a tag id or a tag name in any case.
func (a *App) resolveTag(ref string) (phrase.Tag, error) {
	if t, ok := a.Registry.Lookup(ref); ok {
		return t, nil
	}
	for _, t := range a.Registry.Tags() {
		if strings.EqualFold(t.Name, ref) {
			return t, nil
		}
	}
	return phrase.Tag{}, fmt.Errorf("tag %s: %w", ref, common.ErrNotFound)
}

func (a *App) Register(ctx context.Context) error {
	name, err := GetSimpleText(a.reader, "Tag name", a.out)
	if err != nil {
		return a.fail(err)
	}
	col, err := GetSimpleText(a.reader, "Colour (optional)", a.out)
	if err != nil {
		return a.fail(err)
	}
	lvl, err := GetSimpleText(a.reader, "Security level (standard/enhanced)", a.out)
	if err != nil {
		return a.fail(err)
	}
	level, err := session.ParseSecurityLevel(lvl)
	if err != nil {
		fmt.Fprintln(a.out, color.RedString("✗"), err.Error())
		return err
	}

	p, err := GetPhrase(a.out, "Activation phrase")
	if err != nil {
		return a.fail(err)
	}
	defer common.WipeByteArray(p)

	tag, err := a.Registry.Register(phrase.TagRegistration{Name: name, Color: col, Level: level, Phrase: string(p)})
	if err != nil {
		return a.fail(err)
	}
	a.ok("Registered %s (%s)", tag.Name, tag.ID)
	return nil
}

func (a *App) Tags(ctx context.Context) error {
	tags := a.Registry.Tags()
	if len(tags) == 0 {
		fmt.Fprintln(a.out, "No tags registered")
		return nil
	}
	for _, t := range tags {
		live, unlocked := a.Sessions.IsActive(t.ID)
		state := "sealed"
		switch {
		case live && unlocked:
			state = "unlocked"
		case live:
			state = "locked"
		}
		fmt.Fprintf(a.out, "%-36s  %-16s  %-8s  %s\n", t.ID, t.Name, t.Level, state)
	}
	return nil
}

func (a *App) Say(ctx context.Context, transcript string) error {
	m := phrase.Match(transcript, a.Registry.Phrases())
	switch {
	case m.Ambiguous:
		fmt.Fprintln(a.out, "More than one tag matches. Say the activation phrase on its own.")
		return nil
	case !m.Matched:
		fmt.Fprintln(a.out, "No activation phrase heard")
		return nil
	}
	defer common.WipeByteArray(m.Proof)
	return a.activate(ctx, m.TagID, m.Proof)
}

func (a *App) Activate(ctx context.Context, ref string) error {
	tag, err := a.resolveTag(ref)
	if err != nil {
		return a.fail(err)
	}
	p, err := GetPhrase(a.out, "Activation phrase for "+tag.Name)
	if err != nil {
		return a.fail(err)
	}
	defer common.WipeByteArray(p)
	return a.activate(ctx, tag.ID, p)
}

func (a *App) activate(ctx context.Context, tagID string, proof []byte) error {
	level := session.Standard
	if t, ok := a.Registry.Lookup(tagID); ok {
		level = t.Level
	}
	s, err := a.Sessions.Create(ctx, session.CreateRequest{
		TagID:             tagID,
		Proof:             proof,
		Level:             level,
		DeviceFingerprint: a.Config.DeviceFingerprint,
	})
	if err != nil {
		return a.fail(err)
	}
	a.ok("%s unlocked for %s", s.TagName, indicator.Countdown(s.Remaining(a.Sessions.Now())))
	return nil
}

func (a *App) Write(ctx context.Context, ref string) error {
	tag, err := a.resolveTag(ref)
	if err != nil {
		return a.fail(err)
	}
	body, err := GetMultiline(a.reader, "Entry", a.out)
	if err != nil {
		return a.fail(err)
	}
	meta, err := GetMetadata(a.reader, a.out)
	if err != nil {
		fmt.Fprintln(a.out, color.RedString("✗"), err.Error())
		return err
	}

	e, err := a.Entries.Create(ctx, tag.ID, []byte(body), meta)
	if err != nil {
		return a.fail(err)
	}
	a.ok("Saved entry %s", e.ID)
	return nil
}

func (a *App) Read(ctx context.Context, ref, entryID string) error {
	tag, err := a.resolveTag(ref)
	if err != nil {
		return a.fail(err)
	}
	pt, err := a.Entries.Decrypt(ctx, entryID, tag.ID)
	if err != nil {
		return a.fail(err)
	}
	defer common.WipeByteArray(pt)
	fmt.Fprintln(a.out, string(pt))
	return nil
}

func (a *App) List(ctx context.Context, ref string) error {
	tag, err := a.resolveTag(ref)
	if err != nil {
		return a.fail(err)
	}
	headers, err := a.Entries.List(ctx, tag.ID)
	if err != nil {
		return a.fail(err)
	}
	if len(headers) == 0 {
		fmt.Fprintln(a.out, "No entries")
		return nil
	}

	_, unlocked := a.Sessions.IsActive(tag.ID)
	mark := color.HiBlackString("sealed")
	if unlocked {
		mark = color.GreenString("readable")
	}
	for _, h := range headers {
		fmt.Fprintf(a.out, "%s  %s  %s  %s\n", h.ID, h.CreatedAt.Local().Format(time.DateTime), mark, formatMetadata(h.Metadata))
	}
	return nil
}

func (a *App) Status(ctx context.Context) error {
	return a.Indicator.Render(a.out)
}

func (a *App) Extend(ctx context.Context, ref, duration string) error {
	tag, err := a.resolveTag(ref)
	if err != nil {
		return a.fail(err)
	}
	var extra time.Duration
	if duration != "" {
		extra, err = time.ParseDuration(duration)
		if err != nil {
			fmt.Fprintln(a.out, color.RedString("✗"), "Invalid duration:", duration)
			return err
		}
	}
	v, err := a.Indicator.Extend(tag.ID, extra)
	if err != nil {
		return a.fail(err)
	}
	a.ok("%s now ends in %s", v.TagName, v.Countdown)
	return nil
}

func (a *App) Lock(ctx context.Context, ref string) error {
	return a.control(ref, a.Indicator.Lock, "locked")
}

func (a *App) Unlock(ctx context.Context, ref string) error {
	return a.control(ref, a.Indicator.Unlock, "unlocked")
}

func (a *App) control(ref string, fn func(string) (indicator.View, error), verb string) error {
	tag, err := a.resolveTag(ref)
	if err != nil {
		return a.fail(err)
	}
	v, err := fn(tag.ID)
	if err != nil {
		return a.fail(err)
	}
	a.ok("%s %s", v.TagName, verb)
	return nil
}

func (a *App) End(ctx context.Context, ref string) error {
	tag, err := a.resolveTag(ref)
	if err != nil {
		return a.fail(err)
	}
	if err := a.Indicator.Terminate(tag.ID); err != nil {
		return a.fail(err)
	}
	a.ok("%s session ended", tag.Name)
	return nil
}

func (a *App) EndAll(ctx context.Context) error {
	n := a.Indicator.TerminateAll()
	a.ok("%d session(s) ended", n)
	return nil
}

func (a *App) Panic(ctx context.Context) error {
	a.Indicator.Panic()
	fmt.Fprintln(a.out, color.RedString("All session keys destroyed"))
	return nil
}

func (a *App) Metrics(ctx context.Context) error {
	m, err := a.Sessions.Metrics(ctx)
	if err != nil {
		a.Logger.Warn(ctx, "metrics incomplete", "error", err)
	}

	suspicious := color.GreenString("no")
	if m.SuspiciousActivityDetected {
		suspicious = color.RedString("yes")
	}
	fmt.Fprintf(a.out, "Overall score:        %d\n", m.OverallScore)
	fmt.Fprintf(a.out, "Failed activations:   %d\n", m.RecentFailedProofs)
	fmt.Fprintf(a.out, "Suspicious activity:  %s\n", suspicious)

	ids := make([]string, 0, len(m.PerSessionHealth))
	for id := range m.PerSessionHealth {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		h := m.PerSessionHealth[id]
		fmt.Fprintf(a.out, "  %-36s %3d %s\n", id, h.Score, h.Status)
		for _, r := range h.Recommendations {
			fmt.Fprintf(a.out, "    - %s\n", r)
		}
	}
	return nil
}

func formatMetadata(m entries.Metadata) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+m[k])
	}
	return strings.Join(parts, " ")
}

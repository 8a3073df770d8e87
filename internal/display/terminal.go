package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"
)

const (
	DefaultTitle = "Top Coins by Volume to Market Cap Ratio"
	emptyText    = "No coins above the market cap threshold"
	clearScreen  = "\033[H\033[2J"
)

// Terminal redraws the ranking on a terminal, or appends it as a block when the
// output is not a TTY.
type Terminal struct {
	out    io.Writer
	title  string
	redraw bool
	header *color.Color
	muted  *color.Color
	now    func() time.Time
	mu     sync.Mutex
}

func NewTerminal(out io.Writer, title string) *Terminal {
	if title == "" {
		title = DefaultTitle
	}
	redraw := false
	if f, ok := out.(*os.File); ok {
		redraw = term.IsTerminal(int(f.Fd()))
	}
	return &Terminal{
		out:    out,
		title:  title,
		redraw: redraw,
		header: color.New(color.FgHiMagenta, color.Bold),
		muted:  color.New(color.FgHiBlack),
		now:    time.Now,
	}
}

func (t *Terminal) Render(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var b strings.Builder
	if t.redraw {
		b.WriteString(clearScreen)
	}
	b.WriteString(t.header.Sprint(t.title))
	b.WriteByte('\n')
	b.WriteString(strings.Repeat("─", len([]rune(t.title))))
	b.WriteByte('\n')
	if text == "" {
		b.WriteString(t.muted.Sprint(emptyText))
	} else {
		b.WriteString(text)
	}
	b.WriteByte('\n')
	b.WriteString(t.muted.Sprintf("updated %s", t.now().Format(time.Kitchen)))
	b.WriteString("\n\n")

	fmt.Fprint(t.out, b.String())
}

package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"

	"github.com/lei/readme-gateway/internal/generation"
)

// progressRenderer prints job progress. On a terminal the current message
// is redrawn in place; otherwise each new message gets its own line.
type progressRenderer struct {
	out io.Writer
	tty bool

	mu      sync.Mutex
	last    string
	lastLen int
}

func newProgressRenderer(w io.Writer) *progressRenderer {
	return &progressRenderer{out: w, tty: isTerminal(w)}
}

func (p *progressRenderer) handle(ev generation.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	msg := ev.Job.ProgressMessage
	if msg == "" || (msg == p.last && ev.Type != generation.EventFinished) {
		return
	}

	if !p.tty {
		if msg != p.last {
			fmt.Fprintln(p.out, msg)
		}
		p.last = msg
		return
	}

	pad := ""
	if n := p.lastLen - len(msg); n > 0 {
		pad = strings.Repeat(" ", n)
	}
	fmt.Fprintf(p.out, "\r%s%s", msg, pad)
	if ev.Type == generation.EventFinished {
		fmt.Fprintln(p.out)
	}
	p.last = msg
	p.lastLen = len(msg)
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

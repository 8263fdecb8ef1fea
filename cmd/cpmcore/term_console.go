package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/nsf/termbox-go"
	"golang.org/x/term"
)

// termConsole puts the controlling terminal into raw mode and polls
// keyboard input in a background goroutine, mirroring the teacher's
// TermboxInput driver. It is the cmd/cpmcore front-end's only piece of
// terminal-specific code; the core never imports term or termbox itself.
type termConsole struct {
	oldState *term.State
	cancel   context.CancelFunc
	keys     chan byte
}

func newTermConsole() (*termConsole, error) {
	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return nil, fmt.Errorf("cpmcore: entering raw mode: %w", err)
	}
	if err := termbox.Init(); err != nil {
		term.Restore(int(os.Stdin.Fd()), oldState)
		return nil, fmt.Errorf("cpmcore: initializing termbox: %w", err)
	}
	fmt.Print("\x1b[?25h") // termbox hides the cursor by default

	ctx, cancel := context.WithCancel(context.Background())
	tc := &termConsole{oldState: oldState, cancel: cancel, keys: make(chan byte, 256)}
	go tc.pollKeyboard(ctx)
	return tc, nil
}

func (tc *termConsole) pollKeyboard(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		ev := termbox.PollEvent()
		if ev.Type != termbox.EventKey {
			continue
		}
		var b byte
		if ev.Ch != 0 {
			b = byte(ev.Ch)
		} else {
			b = byte(ev.Key)
		}
		select {
		case tc.keys <- b:
		case <-ctx.Done():
			return
		}
	}
}

// Drain forwards every byte collected since the last call to push,
// without blocking.
func (tc *termConsole) Drain(push func(byte)) {
	for {
		select {
		case b := <-tc.keys:
			push(b)
		default:
			return
		}
	}
}

func (tc *termConsole) Close() {
	tc.cancel()
	termbox.Close()
	if tc.oldState != nil {
		term.Restore(int(os.Stdin.Fd()), tc.oldState)
	}
}

// idlePause is how long the run loop sleeps between polls while the guest
// is waiting for input, avoiding a busy spin.
const idlePause = 5 * time.Millisecond

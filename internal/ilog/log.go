// Package ilog centralizes the campaign's logging setup: a colorized
// console handler at the top level, matching how the go-ethereum family of
// nodes wires log15 through mattn/go-colorable and mattn/go-isatty to
// decide whether the terminal supports color and to get a color-capable
// writer on Windows consoles. The CLI's own bug/coverage summary lines use
// a separate library, fatih/color, for semantic (red/green) highlighting
// rather than log15's generic terminal formatting.
package ilog

import (
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	log "github.com/inconshreveable/log15"
)

// Root is the campaign-wide logger. Subsystems derive a named child logger
// from it via New rather than constructing their own root.
var Root = log.New()

// Setup installs a terminal handler on Root at the given verbosity. Called
// once from cmd/ityfuzz before the fuzzer starts.
func Setup(lvl log.Lvl) {
	var handler log.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) {
		handler = log.StreamHandler(colorable.NewColorableStderr(), log.TerminalFormat())
	} else {
		handler = log.StreamHandler(os.Stderr, log.LogfmtFormat())
	}
	Root.SetHandler(log.LvlFilterHandler(lvl, handler))
}

// New returns a child logger tagged with ctx key/value pairs, e.g.
// ilog.New("component", "host").
func New(ctx ...interface{}) log.Logger {
	return Root.New(ctx...)
}

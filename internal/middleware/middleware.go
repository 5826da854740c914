// Package middleware implements the composable on-step/on-insert/on-return
// observer pipeline layered over the interpreter host (spec §4.C): on-chain
// fetching, cheatcode semantics, coverage tracking, re-entrancy detection,
// SHA3 taint propagation and overflow checking.
package middleware

import (
	"github.com/fuzzland/ityfuzz-go/internal/evmvm"
)

// Pipeline holds middlewares keyed by type tag so duplicates of the same
// class cannot coexist, iterating in stable insertion order on each opcode
// (spec §4.C).
type Pipeline struct {
	order []evmvm.Middleware
	byTag map[string]evmvm.Middleware
}

func NewPipeline() *Pipeline {
	return &Pipeline{byTag: make(map[string]evmvm.Middleware)}
}

// Register appends mw to the pipeline unless its type tag already exists.
// Cheatcode must be registered first per §4.C ("swallows the step on a
// match"); callers are responsible for registering it before any other
// middleware.
func (p *Pipeline) Register(mw evmvm.Middleware) {
	if _, ok := p.byTag[mw.Type()]; ok {
		return
	}
	p.byTag[mw.Type()] = mw
	p.order = append(p.order, mw)
}

// Middlewares returns the ordered slice to install on a Host.
func (p *Pipeline) Middlewares() []evmvm.Middleware { return p.order }

func (p *Pipeline) Get(tag string) evmvm.Middleware { return p.byTag[tag] }

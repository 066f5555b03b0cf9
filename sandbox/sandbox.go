// Copyright 2025 The go-rednet Authors
// This file is part of the go-rednet library.
//
// The go-rednet library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-rednet library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-rednet library. If not, see <http://www.gnu.org/licenses/>.

// Package sandbox runs untrusted Lua page handlers. Each invocation gets a
// fresh interpreter built from a restricted library set, a wall-clock
// budget enforced through the interpreter's context hook, and hard caps on
// output and string sizes. Scripts are compiled once and the bytecode is
// shared across invocations.
package sandbox

import (
	"context"
	"errors"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
	"golang.org/x/sync/semaphore"

	"github.com/rednet-explorer/go-rednet/log"
)

const (
	defaultWallClock     = 5 * time.Second
	defaultOutputMax     = 100 * 1024
	defaultStringMax     = 10 * 1024
	defaultMemoryMax     = 1024 * 1024
	defaultMaxConcurrent = 10

	// registrySlotCost approximates the bytes behind one registry slot,
	// used to translate the memory budget into interpreter registry caps.
	registrySlotCost = 64
)

// Config are the pool options. The zero value gets the documented defaults.
type Config struct {
	// WallClock bounds one invocation's execution time.
	WallClock time.Duration

	// OutputMax bounds the accumulated response body in bytes.
	OutputMax int

	// StringMax bounds any single string a handler passes to the API.
	StringMax int

	// MemoryMax approximates the per-invocation memory budget. It is
	// translated into interpreter registry caps; the wall clock is the
	// backstop for allocation patterns the registry cannot see.
	MemoryMax int

	// MaxConcurrent bounds the number of simultaneously running handlers.
	// Excess invocations queue until a slot frees or their context ends.
	MaxConcurrent int64

	// Now supplies the time for clock.now(). Defaults to time.Now.
	Now func() time.Time

	// Log is the destination for sandbox events. Defaults to log.Root().
	Log log.Logger
}

func (cfg Config) withDefaults() Config {
	if cfg.WallClock <= 0 {
		cfg.WallClock = defaultWallClock
	}
	if cfg.OutputMax <= 0 {
		cfg.OutputMax = defaultOutputMax
	}
	if cfg.StringMax <= 0 {
		cfg.StringMax = defaultStringMax
	}
	if cfg.MemoryMax <= 0 {
		cfg.MemoryMax = defaultMemoryMax
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	return cfg
}

// Request is the read-only view of the page request a handler sees.
type Request struct {
	Method  string
	URL     string
	Path    string
	Params  map[string]string
	Headers map[string]string
	Cookies map[string]string
	Body    string
}

// Result is what a completed handler produced. Status defaults to 200 when
// the handler never called set_status.
type Result struct {
	Status  int
	Headers map[string]string
	Cookies map[string]string
	Body    string
}

// Session is the per-visitor store exposed to handlers. Implementations
// enforce their own size bounds; a Set error is surfaced to the script as
// an exceeded limit.
type Session interface {
	ID() string
	CSRF() string
	Get(key string) (string, bool)
	Set(key, value string) error
	Remove(key string)
}

// Program is a compiled handler. It is immutable and safe to share between
// concurrent invocations.
type Program struct {
	Name  string
	proto *lua.FunctionProto
}

// Pool compiles and runs handlers under a shared concurrency cap.
type Pool struct {
	cfg Config
	log log.Logger
	sem *semaphore.Weighted
}

// NewPool creates a handler pool.
func NewPool(cfg Config) *Pool {
	cfg = cfg.withDefaults()
	return &Pool{
		cfg: cfg,
		log: cfg.Log.New("sys", "sandbox"),
		sem: semaphore.NewWeighted(cfg.MaxConcurrent),
	}
}

// Compile screens and compiles handler source. The returned Program can be
// cached and invoked any number of times. Failures are KindForbidden
// (screen) or KindSyntax (parse or compile).
func (p *Pool) Compile(name, src string) (*Program, error) {
	if err := Screen(src); err != nil {
		p.log.Warn("Handler rejected by screen", "name", name, "err", err)
		return nil, err
	}
	chunk, err := parse.Parse(strings.NewReader(src), name)
	if err != nil {
		return nil, &Error{Kind: KindSyntax, Message: err.Error()}
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, &Error{Kind: KindSyntax, Message: err.Error()}
	}
	compileMeter.Mark(1)
	return &Program{Name: name, proto: proto}, nil
}

// Invoke runs a compiled handler against a request. The error, when
// non-nil, is always a classified *Error; the result is non-nil exactly
// when the error is nil. Cancelling ctx aborts the handler mid-run.
func (p *Pool) Invoke(ctx context.Context, prog *Program, req *Request, sess Session) (*Result, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		timeoutMeter.Mark(1)
		return nil, &Error{Kind: KindTimeout, Message: "queued past request deadline"}
	}
	defer p.sem.Release(1)
	activeCounter.Inc(1)
	defer activeCounter.Dec(1)

	start := p.cfg.Now()
	invokeMeter.Mark(1)
	defer invokeTimer.UpdateSince(time.Now())

	L := p.newState()
	defer L.Close()

	inv := &invocation{pool: p, req: req, sess: sess, start: start}
	inv.install(L)

	// The handler's own budget nests inside the request context, so a
	// caller that gives up early is distinguishable from a handler that
	// spent its slice.
	budget, cancel := context.WithTimeout(ctx, p.cfg.WallClock)
	defer cancel()
	L.SetContext(budget)

	L.Push(L.NewFunctionFromProto(prog.proto))
	err := L.PCall(0, lua.MultRet, nil)
	if err == nil && inv.fault != nil {
		err = inv.fault
	}
	if err != nil {
		serr := inv.classify(err, ctx, budget)
		p.log.Debug("Handler failed", "name", prog.Name, "kind", serr.Kind, "err", serr.Message)
		return nil, serr
	}
	return inv.result(), nil
}

// newState builds a fresh interpreter with the restricted library set: the
// base functions, table, string and math. No os, io, debug or coroutine,
// and the load family is stripped after the fact.
func (p *Pool) newState() *lua.LState {
	slots := p.cfg.MemoryMax / registrySlotCost
	if slots < 1024 {
		slots = 1024
	}
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		RegistrySize:        1024,
		RegistryMaxSize:     slots,
		RegistryGrowStep:    32,
		CallStackSize:       120,
		MinimizeStackMemory: true,
	})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage}, // must be first
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{Fn: L.NewFunction(lib.open), NRet: 0, Protect: true}, lua.LString(lib.name)); err != nil {
			panic(err)
		}
	}
	for _, name := range []string{
		"dofile", "loadfile", "load", "loadstring", "require", "module",
		"package", "collectgarbage", "getfenv", "setfenv", "_printregs",
	} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

// classify turns an interpreter error into the sandbox taxonomy. Faults
// raised by the API helpers win, then context state separates an aborted
// request from a spent budget, everything else is a runtime error.
func (inv *invocation) classify(err error, parent, budget context.Context) *Error {
	if inv.fault != nil {
		limitMeter.Mark(1)
		return inv.fault
	}
	if parent.Err() != nil {
		timeoutMeter.Mark(1)
		return &Error{Kind: KindTimeout, Message: "request aborted: " + parent.Err().Error()}
	}
	if budget.Err() != nil {
		limitMeter.Mark(1)
		return &Error{Kind: KindLimit, Message: "wall clock budget exceeded"}
	}
	runtimeErrMeter.Mark(1)
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		msg := strings.TrimSpace(apiErr.Object.String())
		if apiErr.Type == lua.ApiErrorSyntax {
			return &Error{Kind: KindSyntax, Message: msg}
		}
		return &Error{Kind: KindRuntime, Message: msg}
	}
	return &Error{Kind: KindRuntime, Message: err.Error()}
}

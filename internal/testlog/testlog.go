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

// Package testlog routes component logs into the unit test log, so a failing
// test carries the trace of the nodes and transports it drove.
package testlog

import (
	"sync"
	"testing"

	"github.com/rednet-explorer/go-rednet/log"
)

// Logger returns a logger delivering to t.Logf. Records are buffered inside
// the handler and flushed by the emitting method, which is marked as a test
// helper so the reported file and line belong to the caller.
func Logger(t *testing.T, level log.Lvl) log.Logger {
	l := &logger{
		t:  t,
		l:  log.New(),
		mu: new(sync.Mutex),
		h:  &bufHandler{fmt: log.TerminalFormat(false)},
	}
	l.l.SetHandler(log.LvlFilterHandler(level, l.h))
	return l
}

type logger struct {
	t  *testing.T
	l  log.Logger
	mu *sync.Mutex
	h  *bufHandler
}

type bufHandler struct {
	buf []*log.Record
	fmt log.Format
}

func (h *bufHandler) Log(r *log.Record) error {
	h.buf = append(h.buf, r)
	return nil
}

// emit serializes one record through the buffer and out to the test log.
// Every frame on the way to t.Logf calls t.Helper, keeping the call site
// attribution on the component under test.
func (l *logger) emit(out func(string, ...interface{}), msg string, ctx []interface{}) {
	l.t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	out(msg, ctx...)
	for _, r := range l.h.buf {
		l.t.Logf("%s", l.h.fmt.Format(r))
	}
	l.h.buf = nil
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.t.Helper(); l.emit(l.l.Trace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.t.Helper(); l.emit(l.l.Debug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.t.Helper(); l.emit(l.l.Info, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.t.Helper(); l.emit(l.l.Warn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.t.Helper(); l.emit(l.l.Error, msg, ctx) }
func (l *logger) Crit(msg string, ctx ...interface{})  { l.t.Helper(); l.emit(l.l.Crit, msg, ctx) }

func (l *logger) New(ctx ...interface{}) log.Logger {
	return &logger{l.t, l.l.New(ctx...), l.mu, l.h}
}

func (l *logger) GetHandler() log.Handler  { return l.l.GetHandler() }
func (l *logger) SetHandler(h log.Handler) { l.l.SetHandler(h) }

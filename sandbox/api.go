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

package sandbox

import (
	"fmt"
	"html"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	lua "github.com/yuin/gopher-lua"

	"github.com/rednet-explorer/go-rednet/rednet/wire"
)

// invocation carries the mutable state of one handler run: the response
// being built and the first fault hit, if any.
type invocation struct {
	pool  *Pool
	req   *Request
	sess  Session
	start time.Time

	status  int
	headers map[string]string
	cookies map[string]string
	body    strings.Builder
	fault   *Error
}

// fail records the first fault and aborts the script. The recorded fault
// outranks whatever the interpreter reports for the raised error.
func (inv *invocation) fail(L *lua.LState, kind Kind, format string, args ...interface{}) {
	if inv.fault == nil {
		inv.fault = &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
	}
	L.RaiseError(format, args...)
}

// checkStr enforces the single-string cap on handler-supplied values.
func (inv *invocation) checkStr(L *lua.LState, s string) string {
	if len(s) > inv.pool.cfg.StringMax {
		inv.fail(L, KindLimit, "string of %d bytes exceeds the %d byte limit", len(s), inv.pool.cfg.StringMax)
	}
	return s
}

// emit appends to the response body, enforcing the output cap.
func (inv *invocation) emit(L *lua.LState, s string) {
	if inv.body.Len()+len(s) > inv.pool.cfg.OutputMax {
		inv.fail(L, KindLimit, "output exceeds the %d byte limit", inv.pool.cfg.OutputMax)
	}
	inv.body.WriteString(s)
}

// result snapshots the response state. Called once, after a clean run.
func (inv *invocation) result() *Result {
	status := inv.status
	if status == 0 {
		status = wire.StatusOK
	}
	return &Result{
		Status:  status,
		Headers: inv.headers,
		Cookies: inv.cookies,
		Body:    inv.body.String(),
	}
}

// install populates the handler environment: the request/response/session
// tables, the html/json/clock helper tables and the global write/print
// pair.
func (inv *invocation) install(L *lua.LState) {
	L.SetGlobal("request", inv.requestTable(L))
	L.SetGlobal("response", inv.responseTable(L))
	L.SetGlobal("session", inv.sessionTable(L))
	L.SetGlobal("html", inv.htmlTable(L))
	L.SetGlobal("json", inv.jsonTable(L))
	L.SetGlobal("clock", inv.clockTable(L))
	L.SetGlobal("write", L.NewFunction(inv.luaWrite))
	L.SetGlobal("print", L.NewFunction(inv.luaPrint))
}

func (inv *invocation) requestTable(L *lua.LState) *lua.LTable {
	t := L.NewTable()
	L.SetField(t, "method", lua.LString(inv.req.Method))
	L.SetField(t, "url", lua.LString(inv.req.URL))
	L.SetField(t, "path", lua.LString(inv.req.Path))
	L.SetField(t, "body", lua.LString(inv.req.Body))
	L.SetField(t, "params", readOnly(L, stringMapTable(L, inv.req.Params)))
	L.SetField(t, "headers", readOnly(L, stringMapTable(L, inv.req.Headers)))
	L.SetField(t, "cookies", readOnly(L, stringMapTable(L, inv.req.Cookies)))
	return readOnly(L, t)
}

// readOnly wraps data in an empty proxy table. Writes to a populated table
// bypass __newindex for keys that already exist, so the proxy stays empty
// and every assignment trips the handler.
func readOnly(L *lua.LState, data *lua.LTable) *lua.LTable {
	proxy := L.NewTable()
	mt := L.NewTable()
	L.SetField(mt, "__index", data)
	L.SetField(mt, "__newindex", L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("request is read-only")
		return 0
	}))
	L.SetMetatable(proxy, mt)
	return proxy
}

func (inv *invocation) responseTable(L *lua.LState) *lua.LTable {
	t := L.NewTable()
	L.SetField(t, "set_status", L.NewFunction(func(L *lua.LState) int {
		code := L.CheckInt(1)
		if !wire.ValidStatus(code) {
			L.ArgError(1, fmt.Sprintf("unsupported status code %d", code))
		}
		inv.status = code
		return 0
	}))
	L.SetField(t, "set_header", L.NewFunction(func(L *lua.LState) int {
		name := strings.ToLower(inv.checkStr(L, L.CheckString(1)))
		value := inv.checkStr(L, L.CheckString(2))
		if inv.headers == nil {
			inv.headers = make(map[string]string)
		}
		inv.headers[name] = value
		return 0
	}))
	L.SetField(t, "redirect", L.NewFunction(func(L *lua.LState) int {
		target := inv.checkStr(L, L.CheckString(1))
		inv.status = wire.StatusFound
		if inv.headers == nil {
			inv.headers = make(map[string]string)
		}
		inv.headers["location"] = target
		return 0
	}))
	L.SetField(t, "set_cookie", L.NewFunction(func(L *lua.LState) int {
		name := inv.checkStr(L, L.CheckString(1))
		value := inv.checkStr(L, L.CheckString(2))
		if opts := L.OptTable(3, nil); opts != nil {
			if path, ok := L.GetField(opts, "path").(lua.LString); ok {
				value += "; Path=" + string(path)
			}
			if maxAge, ok := L.GetField(opts, "max_age").(lua.LNumber); ok {
				value += fmt.Sprintf("; Max-Age=%d", int(maxAge))
			}
		}
		if inv.cookies == nil {
			inv.cookies = make(map[string]string)
		}
		inv.cookies[name] = value
		return 0
	}))
	L.SetField(t, "write", L.NewFunction(inv.luaWrite))
	L.SetField(t, "print", L.NewFunction(inv.luaPrint))
	return t
}

func (inv *invocation) sessionTable(L *lua.LState) *lua.LTable {
	t := L.NewTable()
	L.SetField(t, "get", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		if inv.sess == nil {
			L.Push(lua.LNil)
			return 1
		}
		if v, ok := inv.sess.Get(key); ok {
			L.Push(lua.LString(v))
		} else {
			L.Push(lua.LNil)
		}
		return 1
	}))
	L.SetField(t, "set", L.NewFunction(func(L *lua.LState) int {
		key := inv.checkStr(L, L.CheckString(1))
		value := inv.checkStr(L, lua.LVAsString(L.ToStringMeta(L.CheckAny(2))))
		if inv.sess == nil {
			L.RaiseError("session unavailable")
		}
		if err := inv.sess.Set(key, value); err != nil {
			inv.fail(L, KindLimit, "session: %v", err)
		}
		return 0
	}))
	L.SetField(t, "remove", L.NewFunction(func(L *lua.LState) int {
		if inv.sess != nil {
			inv.sess.Remove(L.CheckString(1))
		}
		return 0
	}))
	L.SetField(t, "id", L.NewFunction(func(L *lua.LState) int {
		if inv.sess == nil {
			L.Push(lua.LNil)
		} else {
			L.Push(lua.LString(inv.sess.ID()))
		}
		return 1
	}))
	L.SetField(t, "csrf", L.NewFunction(func(L *lua.LState) int {
		if inv.sess == nil {
			L.Push(lua.LNil)
		} else {
			L.Push(lua.LString(inv.sess.CSRF()))
		}
		return 1
	}))
	return t
}

func (inv *invocation) htmlTable(L *lua.LState) *lua.LTable {
	t := L.NewTable()
	L.SetField(t, "escape", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(html.EscapeString(inv.checkStr(L, L.CheckString(1)))))
		return 1
	}))
	// tag leaves content raw so handlers can nest; attribute values are
	// escaped.
	L.SetField(t, "tag", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		content := inv.checkStr(L, L.CheckString(2))
		var attrs strings.Builder
		if opts := L.OptTable(3, nil); opts != nil {
			opts.ForEach(func(k, v lua.LValue) {
				attrs.WriteString(fmt.Sprintf(" %s=%q", lua.LVAsString(k), html.EscapeString(lua.LVAsString(v))))
			})
		}
		L.Push(lua.LString(fmt.Sprintf("<%s%s>%s</%s>", name, attrs.String(), content, name)))
		return 1
	}))
	L.SetField(t, "link", L.NewFunction(func(L *lua.LState) int {
		href := html.EscapeString(inv.checkStr(L, L.CheckString(1)))
		text := html.EscapeString(inv.checkStr(L, L.CheckString(2)))
		L.Push(lua.LString(fmt.Sprintf(`<a href=%q>%s</a>`, href, text)))
		return 1
	}))
	return t
}

func (inv *invocation) jsonTable(L *lua.LState) *lua.LTable {
	t := L.NewTable()
	L.SetField(t, "encode", L.NewFunction(func(L *lua.LState) int {
		value, err := fromLValue(L.CheckAny(1), 0)
		if err != nil {
			L.RaiseError("json.encode: %v", err)
		}
		blob, err := json.Marshal(value)
		if err != nil {
			L.RaiseError("json.encode: %v", err)
		}
		L.Push(lua.LString(blob))
		return 1
	}))
	L.SetField(t, "decode", L.NewFunction(func(L *lua.LState) int {
		src := inv.checkStr(L, L.CheckString(1))
		var value interface{}
		if err := json.Unmarshal([]byte(src), &value); err != nil {
			L.RaiseError("json.decode: %v", err)
		}
		L.Push(toLValue(L, value))
		return 1
	}))
	return t
}

func (inv *invocation) clockTable(L *lua.LState) *lua.LTable {
	t := L.NewTable()
	L.SetField(t, "now", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(inv.pool.cfg.Now().UnixMilli()))
		return 1
	}))
	L.SetField(t, "elapsed", L.NewFunction(func(L *lua.LState) int {
		d := inv.pool.cfg.Now().Sub(inv.start)
		L.Push(lua.LNumber(float64(d.Nanoseconds()) / 1e6))
		return 1
	}))
	return t
}

// luaWrite appends its single string argument to the body verbatim.
func (inv *invocation) luaWrite(L *lua.LState) int {
	inv.emit(L, inv.checkStr(L, L.CheckString(1)))
	return 0
}

// luaPrint mirrors Lua's print: arguments joined by tabs, newline
// terminated, appended to the body.
func (inv *invocation) luaPrint(L *lua.LState) int {
	top := L.GetTop()
	parts := make([]string, 0, top)
	for i := 1; i <= top; i++ {
		parts = append(parts, inv.checkStr(L, lua.LVAsString(L.ToStringMeta(L.Get(i)))))
	}
	inv.emit(L, strings.Join(parts, "\t")+"\n")
	return 0
}

func stringMapTable(L *lua.LState, m map[string]string) *lua.LTable {
	t := L.NewTable()
	for k, v := range m {
		L.SetField(t, k, lua.LString(v))
	}
	return t
}

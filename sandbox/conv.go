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
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// maxConvDepth bounds table nesting in json conversion. It doubles as the
// cycle breaker: a self-referencing table bottoms out here instead of
// hanging the handler.
const maxConvDepth = 32

var errTooDeep = errors.New("value nesting too deep")

// fromLValue converts a Lua value into the interface{} shapes the json
// encoder understands. Tables become arrays when their keys are exactly
// 1..n, maps otherwise.
func fromLValue(lv lua.LValue, depth int) (interface{}, error) {
	if depth > maxConvDepth {
		return nil, errTooDeep
	}
	switch v := lv.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(v), nil
	case lua.LNumber:
		return float64(v), nil
	case lua.LString:
		return string(v), nil
	case *lua.LTable:
		return fromLTable(v, depth)
	default:
		return nil, fmt.Errorf("cannot encode %s values", lv.Type())
	}
}

func fromLTable(t *lua.LTable, depth int) (interface{}, error) {
	n := t.MaxN()
	entries := 0
	t.ForEach(func(k, v lua.LValue) { entries++ })

	// Keys exactly 1..n: encode as a json array.
	if n > 0 && entries == n {
		arr := make([]interface{}, 0, n)
		for i := 1; i <= n; i++ {
			item, err := fromLValue(t.RawGetInt(i), depth+1)
			if err != nil {
				return nil, err
			}
			arr = append(arr, item)
		}
		return arr, nil
	}

	obj := make(map[string]interface{}, entries)
	var convErr error
	t.ForEach(func(k, v lua.LValue) {
		if convErr != nil {
			return
		}
		key := lua.LVAsString(k)
		if key == "" && k.Type() != lua.LTString {
			convErr = fmt.Errorf("cannot encode %s table keys", k.Type())
			return
		}
		item, err := fromLValue(v, depth+1)
		if err != nil {
			convErr = err
			return
		}
		obj[key] = item
	})
	if convErr != nil {
		return nil, convErr
	}
	return obj, nil
}

// toLValue converts decoded json back into Lua values.
func toLValue(L *lua.LState, v interface{}) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []interface{}:
		t := L.NewTable()
		for i, item := range val {
			t.RawSetInt(i+1, toLValue(L, item))
		}
		return t
	case map[string]interface{}:
		t := L.NewTable()
		for k, item := range val {
			t.RawSetString(k, toLValue(L, item))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

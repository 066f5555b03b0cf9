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

import "github.com/rcrowley/go-metrics"

var (
	compileMeter      = metrics.NewRegisteredMeter("sandbox/compile", nil)
	screenRejectMeter = metrics.NewRegisteredMeter("sandbox/screen/reject", nil)

	invokeMeter     = metrics.NewRegisteredMeter("sandbox/invoke", nil)
	invokeTimer     = metrics.NewRegisteredTimer("sandbox/invoke/time", nil)
	limitMeter      = metrics.NewRegisteredMeter("sandbox/invoke/limit", nil)
	timeoutMeter    = metrics.NewRegisteredMeter("sandbox/invoke/timeout", nil)
	runtimeErrMeter = metrics.NewRegisteredMeter("sandbox/invoke/error", nil)

	activeCounter = metrics.NewRegisteredCounter("sandbox/active", nil)
)

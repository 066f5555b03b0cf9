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

package rednet

import "github.com/rcrowley/go-metrics"

var (
	sendMeter        = metrics.NewRegisteredMeter("rednet/transport/send", nil)
	sendRetryMeter   = metrics.NewRegisteredMeter("rednet/transport/send/retry", nil)
	sendTimeoutMeter = metrics.NewRegisteredMeter("rednet/transport/send/timeout", nil)
	broadcastMeter   = metrics.NewRegisteredMeter("rednet/transport/broadcast", nil)
	dispatchMeter    = metrics.NewRegisteredMeter("rednet/transport/dispatch", nil)

	unsolicitedDropMeter = metrics.NewRegisteredMeter("rednet/transport/drop/unsolicited", nil)
	overloadDropMeter    = metrics.NewRegisteredMeter("rednet/transport/drop/overload", nil)
	guardDropMeter       = metrics.NewRegisteredMeter("rednet/transport/drop/guard", nil)
	guardThrottleMeter   = metrics.NewRegisteredMeter("rednet/transport/throttle", nil)

	keepalivePingMeter = metrics.NewRegisteredMeter("rednet/transport/keepalive/ping", nil)
	keepaliveFailMeter = metrics.NewRegisteredMeter("rednet/transport/keepalive/fail", nil)

	peerGauge       = metrics.NewRegisteredGauge("rednet/registry/peers", nil)
	connectionGauge = metrics.NewRegisteredGauge("rednet/registry/connections", nil)
	peerEvictMeter  = metrics.NewRegisteredMeter("rednet/registry/evict", nil)
)

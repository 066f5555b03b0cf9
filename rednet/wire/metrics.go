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

package wire

import "github.com/rcrowley/go-metrics"

var (
	ingressTrafficMeter = metrics.NewRegisteredMeter("rednet/wire/ingress", nil)
	egressTrafficMeter  = metrics.NewRegisteredMeter("rednet/wire/egress", nil)

	parseDropMeter        = metrics.NewRegisteredMeter("rednet/wire/drop/parse", nil)
	integrityDropMeter    = metrics.NewRegisteredMeter("rednet/wire/drop/integrity", nil)
	skewDropMeter         = metrics.NewRegisteredMeter("rednet/wire/drop/skew", nil)
	replayDropMeter       = metrics.NewRegisteredMeter("rednet/wire/drop/replay", nil)
	misaddressedDropMeter = metrics.NewRegisteredMeter("rednet/wire/drop/misaddressed", nil)
)

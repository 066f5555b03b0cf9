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

package dns

import "github.com/rcrowley/go-metrics"

var (
	lookupMeter     = metrics.NewRegisteredMeter("dns/lookup", nil)
	queryMeter      = metrics.NewRegisteredMeter("dns/query", nil)
	notFoundMeter   = metrics.NewRegisteredMeter("dns/notfound", nil)
	conflictMeter   = metrics.NewRegisteredMeter("dns/conflict", nil)
	verifyFailMeter = metrics.NewRegisteredMeter("dns/verify/fail", nil)

	cacheHitMeter    = metrics.NewRegisteredMeter("dns/cache/hit", nil)
	cacheStaleMeter  = metrics.NewRegisteredMeter("dns/cache/stale", nil)
	negativeHitMeter = metrics.NewRegisteredMeter("dns/cache/negative", nil)

	registerMeter       = metrics.NewRegisteredMeter("dns/register", nil)
	withdrawMeter       = metrics.NewRegisteredMeter("dns/withdraw", nil)
	shadowMeter         = metrics.NewRegisteredMeter("dns/shadow", nil)
	queryServedMeter    = metrics.NewRegisteredMeter("dns/query/served", nil)
	withdrawServedMeter = metrics.NewRegisteredMeter("dns/withdraw/served", nil)
)

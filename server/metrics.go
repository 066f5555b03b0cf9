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

package server

import "github.com/rcrowley/go-metrics"

var (
	requestMeter = metrics.NewRegisteredMeter("server/request", nil)
	requestTimer = metrics.NewRegisteredTimer("server/request/duration", nil)
	rejectMeter  = metrics.NewRegisteredMeter("server/reject", nil)

	staticMeter      = metrics.NewRegisteredMeter("server/static", nil)
	handlerMeter     = metrics.NewRegisteredMeter("server/handler", nil)
	handlerFailMeter = metrics.NewRegisteredMeter("server/handler/fail", nil)
	crawlServeMeter  = metrics.NewRegisteredMeter("server/crawl", nil)

	misdirectMeter      = metrics.NewRegisteredMeter("server/misdirect", nil)
	permissionDenyMeter = metrics.NewRegisteredMeter("server/permission/deny", nil)

	staticCacheHitMeter  = metrics.NewRegisteredMeter("server/cache/hit", nil)
	staticCacheMissMeter = metrics.NewRegisteredMeter("server/cache/miss", nil)
	siteChangeMeter      = metrics.NewRegisteredMeter("server/site/change", nil)

	sessionGauge       = metrics.NewRegisteredGauge("server/sessions", nil)
	sessionCreateMeter = metrics.NewRegisteredMeter("server/sessions/create", nil)
	sessionExpireMeter = metrics.NewRegisteredMeter("server/sessions/expire", nil)
)

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

package search

import "github.com/rcrowley/go-metrics"

var (
	addMeter          = metrics.NewRegisteredMeter("search/index/add", nil)
	replaceMeter      = metrics.NewRegisteredMeter("search/index/replace", nil)
	removeMeter       = metrics.NewRegisteredMeter("search/index/remove", nil)
	findMeter         = metrics.NewRegisteredMeter("search/index/find", nil)
	bloomRebuildMeter = metrics.NewRegisteredMeter("search/index/bloom/rebuild", nil)

	documentGauge = metrics.NewRegisteredGauge("search/index/documents", nil)
	termGauge     = metrics.NewRegisteredGauge("search/index/terms", nil)
	postingGauge  = metrics.NewRegisteredGauge("search/index/postings", nil)

	snapshotSaveMeter = metrics.NewRegisteredMeter("search/snapshot/save", nil)
	snapshotLoadMeter = metrics.NewRegisteredMeter("search/snapshot/load", nil)
	snapshotFailMeter = metrics.NewRegisteredMeter("search/snapshot/fail", nil)
)

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

package query

import "github.com/rcrowley/go-metrics"

var (
	queryMeter      = metrics.NewRegisteredMeter("search/query/run", nil)
	emptyQueryMeter = metrics.NewRegisteredMeter("search/query/empty", nil)
	queryTimer      = metrics.NewRegisteredTimer("search/query/time", nil)
)

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

// Response status codes. The set intentionally mirrors the HTTP codes of the
// same number so that tooling built for the web needs no translation table.
const (
	StatusOK                 = 200
	StatusMovedPermanently   = 301
	StatusFound              = 302
	StatusBadRequest         = 400
	StatusUnauthorized       = 401
	StatusForbidden          = 403
	StatusNotFound           = 404
	StatusInternalError      = 500
	StatusServiceUnavailable = 503
)

var statusText = map[int]string{
	StatusOK:                 "OK",
	StatusMovedPermanently:   "Moved Permanently",
	StatusFound:              "Found",
	StatusBadRequest:         "Bad Request",
	StatusUnauthorized:       "Unauthorized",
	StatusForbidden:          "Forbidden",
	StatusNotFound:           "Not Found",
	StatusInternalError:      "Internal Server Error",
	StatusServiceUnavailable: "Service Unavailable",
}

// StatusText returns the canonical reason phrase for a status code, or the
// empty string if the code is not part of the protocol.
func StatusText(code int) string {
	return statusText[code]
}

// ValidStatus reports whether code is one of the protocol's status codes.
func ValidStatus(code int) bool {
	_, ok := statusText[code]
	return ok
}

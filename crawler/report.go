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

package crawler

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Exclusion records one URL the crawl saw but did not index, with the
// reason a site operator would want to know.
type Exclusion struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// Report summarizes one crawl run.
type Report struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"startedAt"`
	Elapsed   time.Duration `json:"elapsed"`
	Seeds     []string      `json:"seeds"`

	Indexed   []string    `json:"indexed"`
	Refreshed []string    `json:"refreshed,omitempty"` // still fresh, left alone
	Excluded  []Exclusion `json:"excluded,omitempty"`
	Truncated bool        `json:"truncated,omitempty"` // page budget hit before the frontier drained
}

// reportBuilder accumulates crawl outcomes from concurrent workers.
type reportBuilder struct {
	mu sync.Mutex
	r  *Report
}

func newReport(seeds []string) *reportBuilder {
	return &reportBuilder{r: &Report{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Seeds:     seeds,
	}}
}

func (b *reportBuilder) indexed(url string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.r.Indexed = append(b.r.Indexed, url)
}

func (b *reportBuilder) refreshed(url string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.r.Refreshed = append(b.r.Refreshed, url)
}

func (b *reportBuilder) excluded(url, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.r.Excluded = append(b.r.Excluded, Exclusion{URL: url, Reason: reason})
}

func (b *reportBuilder) truncated() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.r.Truncated = true
}

// finish freezes the report. Listings are sorted so runs over the same
// content compare equal.
func (b *reportBuilder) finish() *Report {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.r.Elapsed = time.Since(b.r.StartedAt)
	sort.Strings(b.r.Indexed)
	sort.Strings(b.r.Refreshed)
	sort.Slice(b.r.Excluded, func(i, j int) bool {
		return b.r.Excluded[i].URL < b.r.Excluded[j].URL
	})
	return b.r
}

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

package node

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/rednet-explorer/go-rednet/crawler"
	"github.com/rednet-explorer/go-rednet/dns"
	"github.com/rednet-explorer/go-rednet/rednet"
	"github.com/rednet-explorer/go-rednet/rednet/wire"
)

// netFetcher retrieves pages over the node's transport. It implements
// crawler.Fetcher, and Node.Fetch reuses it for interactive retrievals.
type netFetcher struct {
	node  *Node
	agent string // user-agent header, crawler.UserAgent when empty
}

func (f *netFetcher) parts() (*rednet.Transport, *dns.Resolver, error) {
	n := f.node
	n.mu.Lock()
	transport, resolver := n.transport, n.resolver
	n.mu.Unlock()
	if transport == nil || resolver == nil {
		return nil, nil, ErrNodeStopped
	}
	return transport, resolver, nil
}

func (f *netFetcher) userAgent() string {
	if f.agent != "" {
		return f.agent
	}
	return crawler.UserAgent
}

// Listing asks the node serving name for its public page paths.
func (f *netFetcher) Listing(ctx context.Context, name string) ([]string, error) {
	transport, resolver, err := f.parts()
	if err != nil {
		return nil, err
	}
	res, err := resolver.Lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	rec := res.Record

	env, err := transport.Send(ctx, rec.Target, wire.TypeCrawl, &wire.CrawlRequest{Name: rec.Name}, rednet.SendOpts{})
	if err != nil {
		return nil, err
	}
	if env.Type == wire.TypeError {
		var fault wire.Fault
		if derr := env.DecodeData(&fault); derr != nil {
			return nil, fmt.Errorf("listing refused by node %d", rec.Target)
		}
		return nil, fmt.Errorf("listing refused: %s", fault.Reason)
	}
	var resp wire.Response
	if err := env.DecodeData(&resp); err != nil {
		return nil, err
	}
	if resp.Status != wire.StatusOK {
		return nil, fmt.Errorf("listing failed with status %d", resp.Status)
	}
	var pages []string
	if err := json.Unmarshal([]byte(resp.Body), &pages); err != nil {
		return nil, fmt.Errorf("malformed listing: %w", err)
	}
	return pages, nil
}

// Fetch retrieves one page. Transport failures are errors; refusals the
// serving node reports come back as pages carrying their status.
func (f *netFetcher) Fetch(ctx context.Context, u *dns.URL) (*crawler.Page, error) {
	transport, resolver, err := f.parts()
	if err != nil {
		return nil, err
	}
	res, err := resolver.Lookup(ctx, u.Name.String())
	if err != nil {
		return nil, err
	}

	req := &wire.Request{
		Method:  "GET",
		URL:     u.String(),
		Headers: map[string]string{"user-agent": f.userAgent()},
	}
	env, err := transport.Send(ctx, res.Record.Target, wire.TypeRequest, req, rednet.SendOpts{})
	if err != nil {
		return nil, err
	}
	page := &crawler.Page{URL: u}
	if env.Type == wire.TypeError {
		var fault wire.Fault
		if derr := env.DecodeData(&fault); derr != nil {
			return nil, derr
		}
		page.Status = fault.Status
		return page, nil
	}
	var resp wire.Response
	if err := env.DecodeData(&resp); err != nil {
		return nil, err
	}
	page.Status = resp.Status
	page.ContentType = resp.Headers["content-type"]
	page.Body = resp.Body
	return page, nil
}

// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package address

import (
	"fmt"
	"net/url"
	"strings"
)

// ResolverScheme is the only non-literal scheme this core understands
// in a destinations= value: a reference to a cache-backed metadata
// resolver, named after the original's "fabric+cache" scheme.
const ResolverScheme = "fabric+cache"

// URI is a parsed destination URI. Only Scheme, CacheName (the
// authority) and Group (the first path segment) are consulted by the
// core; Query is kept for forward compatibility but unread here.
type URI struct {
	Scheme    string
	CacheName string
	Group     string
	Query     url.Values
}

// ParseURI parses a "scheme://authority/path?query" destination URI.
// An unknown scheme, or a known scheme with a missing/invalid first
// path segment, is a configuration error.
func ParseURI(raw string) (URI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return URI{}, fmt.Errorf("address: invalid destination URI %q: %w", raw, err)
	}
	if u.Scheme != ResolverScheme {
		return URI{}, fmt.Errorf("address: unknown destination URI scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return URI{}, fmt.Errorf("address: destination URI %q is missing a cache name", raw)
	}

	path := strings.Trim(u.Path, "/")
	segments := strings.Split(path, "/")
	if len(segments) == 0 || segments[0] == "" {
		return URI{}, fmt.Errorf("address: destination URI %q is missing a group segment", raw)
	}
	if !strings.EqualFold(segments[0], "group") {
		return URI{}, fmt.Errorf("address: destination URI %q has unsupported path %q, only \"group\" is recognised", raw, segments[0])
	}
	if len(segments) < 2 || segments[1] == "" {
		return URI{}, fmt.Errorf("address: destination URI %q is missing a group id", raw)
	}

	return URI{
		Scheme:    u.Scheme,
		CacheName: u.Host,
		Group:     segments[1],
		Query:     u.Query(),
	}, nil
}

// IsURI reports whether a destinations= value looks like a URI rather
// than a comma list, by checking for the "scheme://" separator.
func IsURI(value string) bool {
	return strings.Contains(value, "://")
}

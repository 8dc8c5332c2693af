// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package x implements handshake inspection for the X protocol
// (33060): a 4-byte little-endian length prefix followed by a
// Mysqx-style message whose first byte is the message type. Unlike
// the classic protocol there is no packet sequence number to
// validate; the inspector settles once it has observed the client's
// capability-negotiation exchange complete, and treats everything
// past its own message-type byte opaquely.
package x

import (
	"github.com/relaydb/sqlrouter/pkg/protocol"

	rerrors "github.com/relaydb/sqlrouter/pkg/errors"
)

const headerSize = 4

// Mysqx client message type identifying a CapabilitiesSet request,
// the message a client sends to negotiate TLS.
const msgClientCapabilitiesSet = 2

// Inspector tracks handshake progress for one X-protocol session. The
// handshake is considered settled after the first
// client-to-server/server-to-client exchange pair following a
// capabilities negotiation, mirroring the classic inspector's
// "forward raw past this point" behavior without classic's sequence
// numbers.
type Inspector struct {
	sawCapabilities bool
	done            bool
}

// New builds an Inspector in its initial state.
func New() *Inspector {
	return &Inspector{}
}

var _ protocol.Inspector = (*Inspector)(nil)

func (p *Inspector) Done() bool { return p.done }

func (p *Inspector) Inspect(buf []byte, n int, fromServer bool) (protocol.Outcome, error) {
	if p.done {
		return protocol.Outcome{Forward: true}, nil
	}

	if n < headerSize+1 {
		return protocol.Outcome{}, rerrors.ErrShortHeader
	}

	msgType := buf[headerSize]
	outcome := protocol.Outcome{Forward: true}

	if !fromServer && msgType == msgClientCapabilitiesSet {
		p.sawCapabilities = true
		outcome.TLS = true
	}

	if p.sawCapabilities && fromServer {
		p.done = true
	}

	return outcome, nil
}

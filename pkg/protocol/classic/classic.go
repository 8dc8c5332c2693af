// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package classic implements handshake inspection for the MySQL
// classic (3306) wire protocol: 4-byte packet headers with a 1-byte
// sequence number, settling after the server's post-authentication
// packet or a mid-handshake server error, with an early exit when the
// client requests an SSL upgrade.
package classic

import (
	"encoding/binary"

	"github.com/relaydb/sqlrouter/pkg/protocol"

	rerrors "github.com/relaydb/sqlrouter/pkg/errors"
)

// clientSSL is the CLIENT_SSL capability flag bit.
const clientSSL = 0x00000800

const headerSize = 4

// Inspector tracks handshake progress for one classic-protocol
// session.
type Inspector struct {
	pktnr   int
	started bool
	done    bool
}

// New builds an Inspector in its initial state.
func New() *Inspector {
	return &Inspector{}
}

var _ protocol.Inspector = (*Inspector)(nil)

func (p *Inspector) Done() bool { return p.done }

// Inspect examines n bytes of buf just read from one side of the
// handshake. The sequence-number and capability checks below only
// apply while the handshake is still settling; once the post-auth
// packet (sequence 2) is observed, the connection becomes a
// transparent forwarder for the rest of its life.
func (p *Inspector) Inspect(buf []byte, n int, fromServer bool) (protocol.Outcome, error) {
	if p.done {
		return protocol.Outcome{Forward: true}, nil
	}

	if n < headerSize {
		return protocol.Outcome{}, rerrors.ErrShortHeader
	}

	pktnr := int(buf[3])
	if p.started && pktnr != (p.pktnr+1)%256 {
		return protocol.Outcome{}, rerrors.ErrBadSeqno
	}

	if fromServer && n > headerSize && buf[headerSize] == 0xff {
		// The server reported an error while handshaking; forward it
		// verbatim and settle immediately, since the receiver will
		// close the connection on its own.
		p.done = true
		return protocol.Outcome{Forward: true, ServerError: true}, nil
	}

	outcome := protocol.Outcome{Forward: true}
	if pktnr == 1 && !fromServer {
		if n < headerSize+4 {
			return protocol.Outcome{}, rerrors.ErrMalformedCapability
		}
		capabilities := binary.LittleEndian.Uint32(buf[headerSize : headerSize+4])
		if capabilities&clientSSL != 0 {
			p.done = true
			outcome.TLS = true
			return outcome, nil
		}
	}

	if pktnr == 2 {
		p.done = true
	}

	p.pktnr = pktnr
	p.started = true
	return outcome, nil
}

/*
 * MailVerify - Copyright (C) 2022 Zane van Iperen.
 *    Contact: zane@zanevaniperen.com
 *
 * This program is free software; you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 2, and only
 * version 2 as published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program; if not, write to the Free Software
 * Foundation, Inc., 59 Temple Place, Suite 330, Boston, MA  02111-1307  USA
 */

package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"
)

// MaxChunk bounds the size of a single Read.
const MaxChunk = 64 * 1024

var (
	ErrNoAddress    = errors.New("no address found")
	ErrClosed       = errors.New("connection closed")
	ErrTLSHandshake = errors.New("tls handshake failed")
)

// Resolver is satisfied by *net.Resolver.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

type Config struct {
	Host      string
	Port      uint16
	TLS       bool
	TLSConfig *tls.Config
	Resolver  Resolver
	Logger    *log.Entry
}

type ConnectionError struct {
	Op   string
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%v %v: %v", e.Op, e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Connection owns one TCP socket and, once upgraded, the TLS session
// layered on top of it. Reads and writes always go through the
// outermost layer.
type Connection struct {
	host   string
	port   uint16
	logger *log.Entry

	mu     sync.Mutex
	sock   net.Conn
	tls    *tls.Conn
	closed bool
}

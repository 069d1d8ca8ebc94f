// Package token allocates the opaque identity tokens that every addressable
// entity on the event bus — the manager, each bridge, each channel, each
// user — is named by.
//
// The reference implementation this package replaces used the host
// runtime's object identity (Python's id()) as the token. A systems
// language has no equivalent notion, so tokens here are a monotonically
// increasing 64-bit counter, handed out by an Allocator (each manager
// owns one) and never reused.
package token

import "sync/atomic"

// A Token is an opaque identifier for an entity on the event bus. Tokens
// are comparable with ==; they carry no meaning beyond identity.
type Token uint64

// String satisfies fmt.Stringer for use in log output and error messages.
func (t Token) String() string {
	return itoa(uint64(t))
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// An Allocator hands out unique Tokens. The zero value is usable: its
// first allocation is 1, leaving 0 as a reserved "no token" sentinel.
type Allocator struct {
	next uint64
}

// NewAllocatorAfter returns an Allocator whose first New() call returns
// floor+1. Callers that share one process with a fixed low range of
// reserved tokens (such as the event package's broadcast targets) use this
// to keep entity tokens from ever landing in that range.
func NewAllocatorAfter(floor Token) *Allocator {
	return &Allocator{next: uint64(floor)}
}

// New returns a fresh Token, unique among every Token this Allocator has
// ever returned.
func (a *Allocator) New() Token {
	return Token(atomic.AddUint64(&a.next, 1))
}

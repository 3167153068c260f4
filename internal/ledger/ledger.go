package ledger

import (
	"encoding/binary"
	"errors"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
)

var ErrImmutable = errors.New("ledger is immutable")

// Header identifies one ledger version.
type Header struct {
	Seq        uint32    `json:"seq"`
	Hash       string    `json:"hash"`
	ParentHash string    `json:"parent_hash"`
	CloseTime  time.Time `json:"close_time"`
	TotalCoins uint64    `json:"total_coins"`
}

// Ledger is one version of the ledger state. A mutable ledger may be edited
// by its single owner; an immutable one is safe to share and is never edited.
type Ledger struct {
	header    Header
	entries   map[string][]byte
	immutable bool
}

// New returns an empty mutable ledger.
func New(h Header) *Ledger {
	return &Ledger{header: h, entries: map[string][]byte{}}
}

func (l *Ledger) IsImmutable() bool { return l.immutable }

// Clone deep-copies the ledger. The copy shares no storage with l.
func (l *Ledger) Clone(mutable bool) *Ledger {
	entries := make(map[string][]byte, len(l.entries))
	for k, v := range l.entries {
		entries[k] = append([]byte(nil), v...)
	}
	return &Ledger{header: l.header, entries: entries, immutable: !mutable}
}

func (l *Ledger) Header() Header { return l.header }
func (l *Ledger) Seq() uint32    { return l.header.Seq }
func (l *Ledger) Len() int       { return len(l.entries) }

// Get returns a copy of the entry stored under key.
func (l *Ledger) Get(key string) ([]byte, bool) {
	v, ok := l.entries[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

// Keys returns all entry keys in ascending order.
func (l *Ledger) Keys() []string {
	keys := make([]string, 0, len(l.entries))
	for k := range l.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (l *Ledger) Put(key string, value []byte) error {
	if l.immutable {
		return ErrImmutable
	}
	l.entries[key] = append([]byte(nil), value...)
	return nil
}

func (l *Ledger) Delete(key string) error {
	if l.immutable {
		return ErrImmutable
	}
	delete(l.entries, key)
	return nil
}

func (l *Ledger) SetHeader(h Header) error {
	if l.immutable {
		return ErrImmutable
	}
	l.header = h
	return nil
}

// Digest hashes the header and every entry in key order. Two ledgers with
// equal content have equal digests regardless of their mutability.
func (l *Ledger) Digest() uint64 {
	d := xxhash.New()
	var buf [8]byte

	binary.BigEndian.PutUint32(buf[:4], l.header.Seq)
	_, _ = d.Write(buf[:4])
	writeField(d, []byte(l.header.Hash))
	writeField(d, []byte(l.header.ParentHash))
	binary.BigEndian.PutUint64(buf[:], uint64(l.header.CloseTime.Unix()))
	_, _ = d.Write(buf[:])
	binary.BigEndian.PutUint32(buf[:4], uint32(l.header.CloseTime.Nanosecond()))
	_, _ = d.Write(buf[:4])
	binary.BigEndian.PutUint64(buf[:], l.header.TotalCoins)
	_, _ = d.Write(buf[:])

	for _, k := range l.Keys() {
		writeField(d, []byte(k))
		writeField(d, l.entries[k])
	}
	return d.Sum64()
}

// length-prefixed so that ("ab","c") and ("a","bc") hash differently
func writeField(d *xxhash.Digest, b []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	_, _ = d.Write(n[:])
	_, _ = d.Write(b)
}

// Package idgen generates short, sortable-by-second identifiers for
// deliveries. They only need to be unique enough to correlate log lines.
package idgen

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/binary"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"lukechampine.com/blake3"
)

// idLen is the binary length; base32 turns 12 bytes into 20 characters.
const idLen = 12

var (
	node     [3]byte
	sequence atomic.Uint32
	encoding = base32.StdEncoding.WithPadding(base32.NoPadding)
)

func init() {
	if _, err := rand.Read(node[:]); err == nil {
		return
	}
	hostname, _ := os.Hostname()
	sum := blake3.Sum256([]byte(hostname + time.Now().String()))
	copy(node[:], sum[:])
}

// New returns a lowercase base32 id made of the unix time in seconds, a
// per-process node id, a sequence number and random bytes.
func New() string {
	var id [idLen]byte
	binary.BigEndian.PutUint32(id[0:4], uint32(time.Now().Unix()))
	copy(id[4:7], node[:])
	binary.BigEndian.PutUint16(id[7:9], uint16(sequence.Add(1)))
	if _, err := rand.Read(id[9:]); err != nil {
		binary.BigEndian.PutUint16(id[9:11], uint16(time.Now().UnixNano()))
	}
	return strings.ToLower(encoding.EncodeToString(id[:]))
}

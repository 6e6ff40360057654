package discovery

import (
	"math/bits"
	"sort"
	"sync"
	"time"

	"github.com/tos-network/tosd/domain/consensus/model/externalapi"
)

// alpha is the Kademlia concurrency parameter: how many of the closest
// known nodes a lookup queries at once.
const alpha = 3

// defaultBucketSize is how many entries one distance bucket holds before
// the oldest-seen entry is evicted to make room for a newly validated
// one.
const defaultBucketSize = 16

const numBuckets = externalapi.DomainHashSize * 8

type routingEntry struct {
	info     NodeInfo
	lastSeen time.Time
}

// RoutingTable is a Kademlia-style set of nodes, bucketed by XOR
// distance from self so lookups for a target ID narrow toward it.
// Grounded on the routing_table usage in
// original_source/daemon/discovery/server.rs (insert/touch/closest/
// contains) and the bucket-capacity/randomization conventions of the
// teacher's infrastructure/network/addressmanager.
type RoutingTable struct {
	mu         sync.Mutex
	self       *NodeID
	bucketSize int
	buckets    [numBuckets][]routingEntry
}

// NewRoutingTable constructs a RoutingTable centered on self. bucketSize
// <= 0 uses defaultBucketSize.
func NewRoutingTable(self *NodeID, bucketSize int) *RoutingTable {
	if bucketSize <= 0 {
		bucketSize = defaultBucketSize
	}
	return &RoutingTable{self: self, bucketSize: bucketSize}
}

func xorDistance(a, b *NodeID) [externalapi.DomainHashSize]byte {
	var out [externalapi.DomainHashSize]byte
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// bucketIndex returns which bucket other belongs in relative to self:
// the number of leading zero bits in their XOR distance (identical IDs
// index into the last, empty bucket and are never actually looked up).
func bucketIndex(self, other *NodeID) int {
	distance := xorDistance(self, other)
	leadingZeros := 0
	for _, b := range distance {
		if b == 0 {
			leadingZeros += 8
			continue
		}
		leadingZeros += bits.LeadingZeros8(b)
		break
	}
	if leadingZeros >= numBuckets {
		return numBuckets - 1
	}
	return leadingZeros
}

// Insert adds or refreshes info in its bucket. A bucket at capacity
// evicts its least-recently-seen entry, the same "validated nodes are
// trusted over time, not by unverified claim" stance the server applies
// before ever calling Insert (only a node that answered a PING/PONG or
// FINDNODE round-trip reaches this call).
func (t *RoutingTable) Insert(info NodeInfo) {
	if info.NodeID.Equal(t.self) {
		return
	}
	idx := bucketIndex(t.self, info.NodeID)

	t.mu.Lock()
	defer t.mu.Unlock()

	bucket := t.buckets[idx]
	for i, entry := range bucket {
		if entry.info.NodeID.Equal(info.NodeID) {
			bucket[i] = routingEntry{info: info, lastSeen: time.Now()}
			return
		}
	}

	entry := routingEntry{info: info, lastSeen: time.Now()}
	if len(bucket) < t.bucketSize {
		t.buckets[idx] = append(bucket, entry)
		return
	}

	oldest := 0
	for i, e := range bucket {
		if e.lastSeen.Before(bucket[oldest].lastSeen) {
			oldest = i
		}
	}
	bucket[oldest] = entry
}

// Touch refreshes nodeID's last-seen time if it's already in the table.
func (t *RoutingTable) Touch(nodeID *NodeID) {
	idx := bucketIndex(t.self, nodeID)

	t.mu.Lock()
	defer t.mu.Unlock()

	bucket := t.buckets[idx]
	for i, entry := range bucket {
		if entry.info.NodeID.Equal(nodeID) {
			bucket[i].lastSeen = time.Now()
			return
		}
	}
}

// Contains reports whether nodeID is already tracked.
func (t *RoutingTable) Contains(nodeID *NodeID) bool {
	idx := bucketIndex(t.self, nodeID)

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, entry := range t.buckets[idx] {
		if entry.info.NodeID.Equal(nodeID) {
			return true
		}
	}
	return false
}

// Remove drops nodeID from the table, if present.
func (t *RoutingTable) Remove(nodeID *NodeID) {
	idx := bucketIndex(t.self, nodeID)

	t.mu.Lock()
	defer t.mu.Unlock()

	bucket := t.buckets[idx]
	for i, entry := range bucket {
		if entry.info.NodeID.Equal(nodeID) {
			t.buckets[idx] = append(bucket[:i], bucket[i+1:]...)
			return
		}
	}
}

// Closest returns up to count nodes ordered by ascending XOR distance
// from target.
func (t *RoutingTable) Closest(target *NodeID, count int) []NodeInfo {
	t.mu.Lock()
	all := make([]NodeInfo, 0)
	for _, bucket := range t.buckets {
		for _, entry := range bucket {
			all = append(all, entry.info)
		}
	}
	t.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		di := xorDistance(target, all[i].NodeID)
		dj := xorDistance(target, all[j].NodeID)
		return lessDistance(di, dj)
	})
	if len(all) > count {
		all = all[:count]
	}
	return all
}

func lessDistance(a, b [externalapi.DomainHashSize]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

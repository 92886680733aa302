package queue

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

type lease struct {
	id         string
	partition  int
	offset     int64
	body       []byte
	token      string
	deadline   time.Time
	deliveries int
	acked      bool
}

// leaseTable emulates visibility-timeout leasing on top of an offset log.
// Messages stay in the table from fetch until acknowledgement; an expired
// lease is handed out again by reclaim. Offsets are only released for commit
// once every earlier offset of the same partition is acknowledged, so a
// failed message is never skipped by a later commit.
type leaseTable struct {
	entries    map[string]*lease
	partitions map[int][]*lease
}

func newLeaseTable() *leaseTable {
	return &leaseTable{entries: map[string]*lease{}, partitions: map[int][]*lease{}}
}

func leaseID(partition int, offset int64) string {
	return fmt.Sprintf("%d:%d", partition, offset)
}

func (l *lease) message() Message {
	return Message{
		ID:           l.id,
		PopToken:     l.token,
		Body:         append([]byte(nil), l.body...),
		DequeueCount: l.deliveries,
	}
}

// add registers a freshly fetched message. Offsets must arrive in increasing
// order per partition.
func (t *leaseTable) add(partition int, offset int64, body []byte, now time.Time, visibility time.Duration) Message {
	id := leaseID(partition, offset)
	if existing, ok := t.entries[id]; ok {
		// Refetch after a rebalance: keep the original position in the partition.
		existing.token = uuid.NewString()
		existing.deadline = now.Add(visibility)
		existing.deliveries++
		return existing.message()
	}
	l := &lease{
		id:         id,
		partition:  partition,
		offset:     offset,
		body:       body,
		token:      uuid.NewString(),
		deadline:   now.Add(visibility),
		deliveries: 1,
	}
	t.entries[id] = l
	t.partitions[partition] = append(t.partitions[partition], l)
	return l.message()
}

// reclaim re-leases up to max unacknowledged messages whose lease expired.
func (t *leaseTable) reclaim(now time.Time, max int, visibility time.Duration) []Message {
	var expired []*lease
	for _, l := range t.entries {
		if !l.acked && !l.deadline.After(now) {
			expired = append(expired, l)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		if expired[i].partition != expired[j].partition {
			return expired[i].partition < expired[j].partition
		}
		return expired[i].offset < expired[j].offset
	})
	if len(expired) > max {
		expired = expired[:max]
	}
	out := make([]Message, 0, len(expired))
	for _, l := range expired {
		l.token = uuid.NewString()
		l.deadline = now.Add(visibility)
		l.deliveries++
		out = append(out, l.message())
	}
	return out
}

// ack marks id as done. When it completes a contiguous acknowledged prefix of
// its partition, commit is true and offset is the last offset of that prefix.
func (t *leaseTable) ack(id, token string) (partition int, offset int64, commit bool, err error) {
	l, ok := t.entries[id]
	if !ok || l.acked || l.token != token {
		return 0, 0, false, ErrLeaseLost
	}
	l.acked = true

	pending := t.partitions[l.partition]
	n := 0
	for n < len(pending) && pending[n].acked {
		delete(t.entries, pending[n].id)
		n++
	}
	if n == 0 {
		return l.partition, 0, false, nil
	}
	last := pending[n-1].offset
	t.partitions[l.partition] = pending[n:]
	return l.partition, last, true, nil
}

func (t *leaseTable) outstanding() int {
	return len(t.entries)
}

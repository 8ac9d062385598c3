package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/paxosdb/leaderelection/internal/paxos"
)

// MemoryLog is an in-memory Log for tests and the demo harness. It is
// not durable across process restarts. Every load and save defensively
// copies, so callers can never observe or corrupt MemoryLog's internal
// state through an aliased pointer.
type MemoryLog struct {
	mu      sync.RWMutex
	records map[paxos.SequenceNumber]Record
}

// NewMemoryLog returns an empty MemoryLog.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{records: make(map[paxos.SequenceNumber]Record)}
}

func (m *MemoryLog) WriteAndFlush(_ context.Context, seq paxos.SequenceNumber, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[seq] = copyRecord(rec)
	return nil
}

func (m *MemoryLog) Read(_ context.Context, seq paxos.SequenceNumber) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[seq]
	if !ok {
		return Record{}, false, nil
	}
	return copyRecord(rec), true, nil
}

func (m *MemoryLog) Latest(_ context.Context) (paxos.SequenceNumber, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.records) == 0 {
		return paxos.NoLogEntry, false, nil
	}
	latest := paxos.NoLogEntry
	for seq := range m.records {
		if seq > latest {
			latest = seq
		}
	}
	return latest, true, nil
}

func (m *MemoryLog) Since(_ context.Context, seq paxos.SequenceNumber) ([]LearnedEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []LearnedEntry
	for s, rec := range m.records {
		if s >= seq && rec.LearnedValue != nil {
			v := *rec.LearnedValue
			out = append(out, LearnedEntry{Seq: s, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func copyRecord(rec Record) Record {
	out := rec
	if rec.AcceptedValue != nil {
		v := *rec.AcceptedValue
		v.Payload = append([]byte(nil), rec.AcceptedValue.Payload...)
		out.AcceptedValue = &v
	}
	if rec.LearnedValue != nil {
		v := *rec.LearnedValue
		v.Payload = append([]byte(nil), rec.LearnedValue.Payload...)
		out.LearnedValue = &v
	}
	return out
}

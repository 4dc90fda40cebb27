package journal

import (
	"sync"
	"time"

	"github.com/Zereker/fixgateway/session"
)

type sequenceNumbers struct {
	nextSent     int
	nextReceived int
}

// Memory is a Journal that forgets everything when the process exits.
type Memory struct {
	mu        sync.Mutex
	logons    []LogonRecord
	ids       map[session.Key]int64
	sequences map[int64]sequenceNumbers
	clock     func() time.Time
}

// NewMemory creates an empty in-memory journal.
func NewMemory() *Memory {
	return &Memory{
		ids:       make(map[session.Key]int64),
		sequences: make(map[int64]sequenceNumbers),
		clock:     time.Now,
	}
}

// SaveLogon appends a logon record.
func (m *Memory) SaveLogon(connectionID, sessionID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logons = append(m.logons, LogonRecord{ConnectionID: connectionID, SessionID: sessionID, Time: m.clock()})
}

// SessionID returns the id of the key, allocating the next one for a new key.
func (m *Memory) SessionID(senderCompID, targetCompID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := session.Key{SenderCompID: senderCompID, TargetCompID: targetCompID}
	if id, ok := m.ids[key]; ok {
		return id, nil
	}
	id := int64(len(m.ids) + 1)
	m.ids[key] = id
	return id, nil
}

// LoadSequenceNumbers returns the numbers last saved for sessionID.
func (m *Memory) LoadSequenceNumbers(sessionID int64) (int, int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq, ok := m.sequences[sessionID]
	return seq.nextSent, seq.nextReceived, ok, nil
}

// SaveSequenceNumbers replaces the numbers stored for sessionID.
func (m *Memory) SaveSequenceNumbers(sessionID int64, nextSent, nextReceived int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequences[sessionID] = sequenceNumbers{nextSent: nextSent, nextReceived: nextReceived}
	return nil
}

// Logons returns a copy of every logon record in order.
func (m *Memory) Logons() ([]LogonRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LogonRecord, len(m.logons))
	copy(out, m.logons)
	return out, nil
}

// Close does nothing.
func (m *Memory) Close() error {
	return nil
}

package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"
)

const (
	logonPrefix    = "logon/"
	sessionIDKey   = "session/id/"
	sequenceKey    = "session/seq/"
	logonSeqKey    = "seq/logon"
	sessionSeqKey  = "seq/session"
	sequenceLease  = 100
	defaultBacklog = 1024
)

// ErrClosed is returned by operations on a closed journal.
var ErrClosed = errors.New("journal: closed")

// options holds the configuration of a Badger journal.
type options struct {
	logger  Logger
	backlog int
}

// Option is a function that configures a Badger journal.
type Option func(*options)

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// BacklogOption returns an Option that sets how many logon records may wait
// for the background writer before SaveLogon writes synchronously.
func BacklogOption(size int) Option {
	return func(o *options) {
		o.backlog = size
	}
}

// Badger is a Journal stored in a BadgerDB. Logon records are written in
// batches by a background goroutine; ids and sequence numbers are written
// synchronously.
type Badger struct {
	db       *badger.DB
	logonSeq *badger.Sequence
	idSeq    *badger.Sequence
	logger   Logger
	clock    func() time.Time

	// idMu serialises id allocation so one key never gets two ids.
	idMu sync.Mutex

	mu      sync.RWMutex
	closed  bool
	pending chan LogonRecord
	done    chan struct{}
}

// OpenBadger opens or creates a journal in dir. An empty dir keeps the
// database in memory.
func OpenBadger(dir string, opts ...Option) (*Badger, error) {
	badgerOpts := badger.DefaultOptions(dir)
	if dir == "" {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	badgerOpts.Logger = nil

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, errors.Wrapf(err, "opening badger journal in %q", dir)
	}

	b, err := NewBadger(db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

// NewBadger creates a journal on an open database. Close closes db.
func NewBadger(db *badger.DB, opts ...Option) (*Badger, error) {
	o := options{
		logger:  slog.Default(),
		backlog: defaultBacklog,
	}
	for _, opt := range opts {
		opt(&o)
	}

	logonSeq, err := db.GetSequence([]byte(logonSeqKey), sequenceLease)
	if err != nil {
		return nil, errors.Wrap(err, "leasing logon sequence")
	}
	idSeq, err := db.GetSequence([]byte(sessionSeqKey), sequenceLease)
	if err != nil {
		_ = logonSeq.Release()
		return nil, errors.Wrap(err, "leasing session id sequence")
	}

	b := &Badger{
		db:       db,
		logonSeq: logonSeq,
		idSeq:    idSeq,
		logger:   o.logger,
		clock:    time.Now,
		pending:  make(chan LogonRecord, o.backlog),
		done:     make(chan struct{}),
	}
	go b.writeLoop()
	return b, nil
}

// SaveLogon queues a logon record for the background writer. When the queue
// is full the record is written before returning.
func (b *Badger) SaveLogon(connectionID, sessionID int64) {
	rec := LogonRecord{ConnectionID: connectionID, SessionID: sessionID, Time: b.clock()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.logger.Warn("dropping logon record", "connectionId", connectionID, "sessionId", sessionID, "error", ErrClosed)
		return
	}

	select {
	case b.pending <- rec:
	default:
		if err := b.writeLogon(rec); err != nil {
			b.logger.Error("failed to save logon", "connectionId", connectionID, "sessionId", sessionID, "error", err)
		}
	}
}

func (b *Badger) writeLoop() {
	defer close(b.done)

	for rec := range b.pending {
		batch := b.db.NewWriteBatch()
		b.appendLogon(batch, rec)

	drain:
		for {
			select {
			case next, ok := <-b.pending:
				if !ok {
					break drain
				}
				b.appendLogon(batch, next)
			default:
				break drain
			}
		}

		if err := batch.Flush(); err != nil {
			b.logger.Error("failed to flush logon records", "error", err)
		}
	}
}

func (b *Badger) appendLogon(batch *badger.WriteBatch, rec LogonRecord) {
	key, value, err := b.encodeLogon(rec)
	if err == nil {
		err = batch.Set(key, value)
	}
	if err != nil {
		b.logger.Error("failed to batch logon", "connectionId", rec.ConnectionID, "sessionId", rec.SessionID, "error", err)
	}
}

func (b *Badger) writeLogon(rec LogonRecord) error {
	key, value, err := b.encodeLogon(rec)
	if err != nil {
		return err
	}
	return errors.Wrap(b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	}), "writing logon record")
}

// key format: logon/<20 digit record number>, so iteration follows arrival
func (b *Badger) encodeLogon(rec LogonRecord) ([]byte, []byte, error) {
	n, err := b.logonSeq.Next()
	if err != nil {
		return nil, nil, errors.Wrap(err, "allocating logon record number")
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return nil, nil, errors.Wrap(err, "encoding logon record")
	}
	return []byte(fmt.Sprintf("%s%020d", logonPrefix, n)), value, nil
}

// Logons returns every logon record written so far in arrival order.
func (b *Badger) Logons() ([]LogonRecord, error) {
	records := make([]LogonRecord, 0)
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(logonPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec LogonRecord
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &rec)
			}); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "reading logon records")
	}
	return records, nil
}

// SessionID returns the durable id of a key, allocating one the first time
// the key is seen. Ids start at 1.
func (b *Badger) SessionID(senderCompID, targetCompID string) (int64, error) {
	key := []byte(sessionIDKey + senderCompID + "\x00" + targetCompID)

	b.idMu.Lock()
	defer b.idMu.Unlock()

	var id int64
	found := false
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(v []byte) error {
			if len(v) != 8 {
				return errors.Errorf("corrupt session id value of %d bytes", len(v))
			}
			id = int64(binary.BigEndian.Uint64(v))
			return nil
		})
	})
	if err != nil {
		return 0, errors.Wrapf(err, "session id for %s/%s", senderCompID, targetCompID)
	}
	if found {
		return id, nil
	}

	n, err := b.idSeq.Next()
	if err != nil {
		return 0, errors.Wrap(err, "allocating session id")
	}
	id = int64(n) + 1
	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, uint64(id))
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return 0, errors.Wrapf(err, "storing session id for %s/%s", senderCompID, targetCompID)
	}
	return id, nil
}

type storedSequence struct {
	NextSent     int `json:"nextSent"`
	NextReceived int `json:"nextReceived"`
}

func sequenceKeyFor(sessionID int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", sequenceKey, sessionID))
}

// LoadSequenceNumbers returns the numbers last saved for sessionID.
func (b *Badger) LoadSequenceNumbers(sessionID int64) (int, int, bool, error) {
	var stored storedSequence
	found := false
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sequenceKeyFor(sessionID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &stored)
		})
	})
	if err != nil {
		return 0, 0, false, errors.Wrapf(err, "loading sequence numbers of session %d", sessionID)
	}
	return stored.NextSent, stored.NextReceived, found, nil
}

// SaveSequenceNumbers replaces the numbers stored for sessionID.
func (b *Badger) SaveSequenceNumbers(sessionID int64, nextSent, nextReceived int) error {
	value, err := json.Marshal(storedSequence{NextSent: nextSent, NextReceived: nextReceived})
	if err != nil {
		return errors.Wrap(err, "encoding sequence numbers")
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sequenceKeyFor(sessionID), value)
	})
	return errors.Wrapf(err, "saving sequence numbers of session %d", sessionID)
}

// Close flushes queued logon records and closes the database.
func (b *Badger) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.closed = true
	close(b.pending)
	b.mu.Unlock()

	<-b.done

	err := b.logonSeq.Release()
	if releaseErr := b.idSeq.Release(); err == nil {
		err = releaseErr
	}
	if closeErr := b.db.Close(); err == nil {
		err = closeErr
	}
	return errors.Wrap(err, "closing badger journal")
}

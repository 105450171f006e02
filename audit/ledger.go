// Package audit keeps an append-only ledger of every request/response pair
// handled by the service, stored in badger with monotonically increasing
// sequence numbers. Entries are never mutated or deleted.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned when no ledger entry matches the requested id.
var ErrNotFound = errors.New("audit: entry not found")

const (
	lastSeqKey  = "last_seq"
	seqPrefix   = "tx:"
	txIDPrefix  = "txid:"
	txIDHexSize = 16
)

// Entry is one committed ledger record.
type Entry struct {
	Seq  uint64          `json:"seq"`
	TxID string          `json:"tx_id"`
	Data json.RawMessage `json:"data"`
}

// Ledger is a badger-backed append-only operation log.
type Ledger struct {
	db     *badger.DB
	mu     sync.Mutex
	logger *slog.Logger
}

// Open opens (or creates) the ledger under dir.
func Open(dir string, logger *slog.Logger) (*Ledger, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening audit ledger: %w", err)
	}
	return &Ledger{db: db, logger: logger}, nil
}

// Close flushes and closes the underlying store.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Append commits one record and returns its sequence number and transaction
// id (a content hash). Appends are serialized; sequence numbers are strictly
// increasing and never reused.
func (l *Ledger) Append(data []byte) (uint64, string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	hash := sha256.Sum256(data)
	txID := hex.EncodeToString(hash[:])[:txIDHexSize]

	var seq uint64
	err := l.db.Update(func(txn *badger.Txn) error {
		last := uint64(0)
		item, err := txn.Get([]byte(lastSeqKey))
		if err == nil {
			err = item.Value(func(val []byte) error {
				last = bytesToUint64(val)
				return nil
			})
			if err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		seq = last + 1
		if err := txn.Set(seqKey(seq), data); err != nil {
			return err
		}
		if err := txn.Set([]byte(txIDPrefix+txID), uint64ToBytes(seq)); err != nil {
			return err
		}
		return txn.Set([]byte(lastSeqKey), uint64ToBytes(seq))
	})
	if err != nil {
		return 0, "", fmt.Errorf("appending audit entry: %w", err)
	}

	l.logger.Info("audit entry appended", "seq", seq, "tx_id", txID)
	return seq, txID, nil
}

// Get returns the entry recorded under a transaction id.
func (l *Ledger) Get(txID string) (*Entry, error) {
	var entry *Entry
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(txIDPrefix + txID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		var seq uint64
		if err := item.Value(func(val []byte) error {
			seq = bytesToUint64(val)
			return nil
		}); err != nil {
			return err
		}

		item, err = txn.Get(seqKey(seq))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			entry = &Entry{Seq: seq, TxID: txID, Data: append([]byte(nil), val...)}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Recent returns up to n entries, newest first.
func (l *Ledger) Recent(n int) ([]Entry, error) {
	var entries []Entry
	err := l.db.View(func(txn *badger.Txn) error {
		last := uint64(0)
		item, err := txn.Get([]byte(lastSeqKey))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		if err := item.Value(func(val []byte) error {
			last = bytesToUint64(val)
			return nil
		}); err != nil {
			return err
		}

		for seq := last; seq > 0 && len(entries) < n; seq-- {
			item, err := txn.Get(seqKey(seq))
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				return err
			}
			err = item.Value(func(val []byte) error {
				hash := sha256.Sum256(val)
				entries = append(entries, Entry{
					Seq:  seq,
					TxID: hex.EncodeToString(hash[:])[:txIDHexSize],
					Data: append([]byte(nil), val...),
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func seqKey(seq uint64) []byte {
	return fmt.Appendf(nil, "%s%016d", seqPrefix, seq)
}

func uint64ToBytes(i uint64) []byte {
	buf := make([]byte, 8)

	buf[0] = byte(i >> 56)
	buf[1] = byte(i >> 48)
	buf[2] = byte(i >> 40)
	buf[3] = byte(i >> 32)
	buf[4] = byte(i >> 24)
	buf[5] = byte(i >> 16)
	buf[6] = byte(i >> 8)
	buf[7] = byte(i)

	return buf
}

func bytesToUint64(buf []byte) uint64 {
	if len(buf) < 8 {
		return 0
	}

	return uint64(buf[0])<<56 |
		uint64(buf[1])<<48 |
		uint64(buf[2])<<40 |
		uint64(buf[3])<<32 |
		uint64(buf[4])<<24 |
		uint64(buf[5])<<16 |
		uint64(buf[6])<<8 |
		uint64(buf[7])
}

package services

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	"github.com/flashbots/statledger/protocol"
)

var (
	eventsBucket     = []byte("LedgerEvents")
	checkpointBucket = []byte("LedgerCheckpoint")
	checkpointKey    = []byte("latest")
)

// BoltStore implements EventStore in an embedded bolt database. Keys are
// big-endian sequence numbers so cursor order is sequence order.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt database %s: %w", path, err)
	}

	err = db.Update(func(btx *bolt.Tx) error {
		for _, name := range [][]byte{eventsBucket, checkpointBucket} {
			if _, err := btx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func (s *BoltStore) Append(ev protocol.Event) error {
	data, err := json.Marshal(&ev)
	if err != nil {
		return fmt.Errorf("encoding event %d: %w", ev.Seq, err)
	}

	return s.db.Update(func(btx *bolt.Tx) error {
		bucket := btx.Bucket(eventsBucket)
		key := seqKey(ev.Seq)
		if bucket.Get(key) != nil {
			return nil
		}
		return bucket.Put(key, data)
	})
}

func (s *BoltStore) Events(after uint64, limit int) ([]protocol.Event, error) {
	var events []protocol.Event
	err := s.db.View(func(btx *bolt.Tx) error {
		c := btx.Bucket(eventsBucket).Cursor()
		for k, v := c.Seek(seqKey(after + 1)); k != nil; k, v = c.Next() {
			var ev protocol.Event
			if err := json.Unmarshal(v, &ev); err != nil {
				return fmt.Errorf("decoding event %d: %w", binary.BigEndian.Uint64(k), err)
			}
			events = append(events, ev)
			if limit > 0 && len(events) == limit {
				break
			}
		}
		return nil
	})
	return events, err
}

func (s *BoltStore) LastSeq() (uint64, error) {
	var seq uint64
	err := s.db.View(func(btx *bolt.Tx) error {
		if k, _ := btx.Bucket(eventsBucket).Cursor().Last(); k != nil {
			seq = binary.BigEndian.Uint64(k)
		}
		return nil
	})
	return seq, err
}

func (s *BoltStore) SaveCheckpoint(cp *protocol.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	return s.db.Update(func(btx *bolt.Tx) error {
		return btx.Bucket(checkpointBucket).Put(checkpointKey, data)
	})
}

func (s *BoltStore) LoadCheckpoint() (*protocol.Checkpoint, error) {
	var cp *protocol.Checkpoint
	err := s.db.View(func(btx *bolt.Tx) error {
		data := btx.Bucket(checkpointBucket).Get(checkpointKey)
		if data == nil {
			return nil
		}
		decoded, err := protocol.UnmarshalMessage[protocol.Checkpoint](data)
		if err != nil {
			return fmt.Errorf("decoding checkpoint: %w", err)
		}
		cp = decoded
		return nil
	})
	return cp, err
}

// Close closes the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

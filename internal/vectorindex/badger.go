package vectorindex

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Key layout, per collection:
//
//	meta/{collection}                 live generation id
//	count/{collection}/{gen}          number of entries (uint64)
//	entry/{collection}/{gen}/{seq}    JSON encoded Entry, seq zero padded
//	id/{collection}/{gen}/{id}        seq of the entry with that id
const (
	metaPrefix  = "meta/"
	countPrefix = "count/"
	entryPrefix = "entry/"
	idPrefix    = "id/"
)

// BadgerStore persists collections in BadgerDB. Every Stage writes a new
// generation, so a rebuild never mixes entries with the previous one and an
// unfinished rebuild never replaces it.
type BadgerStore struct {
	db     *badger.DB
	logger *zap.Logger
}

type badgerLogger struct {
	logger *zap.SugaredLogger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, args ...any)   { l.logger.Errorf(msg, args...) }
func (l *badgerLogger) Warningf(msg string, args ...any) { l.logger.Warnf(msg, args...) }
func (l *badgerLogger) Infof(msg string, args ...any)    { l.logger.Debugf(msg, args...) }
func (l *badgerLogger) Debugf(msg string, args ...any)   { l.logger.Debugf(msg, args...) }

// OpenBadgerStore opens a BadgerDB database at path, creating the directory
// when needed. With inMemory set the path is ignored.
func OpenBadgerStore(path string, inMemory bool, log *zap.Logger) (*BadgerStore, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if path == "" {
			return nil, errors.New("badger path is required")
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("create badger directory: %w", err)
		}
		opts = badger.DefaultOptions(path)
	}

	opts.Logger = &badgerLogger{logger: log.Named("badger").Sugar()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	return &BadgerStore{db: db, logger: log}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Stage starts a new generation next to the live one. Leftovers of builds
// that were never committed or discarded are dropped first.
func (s *BadgerStore) Stage(_ context.Context, collection string) (Staging, error) {
	if err := s.dropStale(collection); err != nil {
		return nil, fmt.Errorf("drop stale generations of %s: %w", collection, err)
	}

	gen := uuid.NewString()
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(countKey(collection, gen), encodeUint(0))
	})
	if err != nil {
		return nil, fmt.Errorf("stage collection %s: %w", collection, err)
	}

	return &badgerStaging{store: s, collection: collection, gen: gen}, nil
}

// badgerStaging writes under its own generation. meta/{collection} points at
// it only after Commit.
type badgerStaging struct {
	store      *BadgerStore
	collection string
	gen        string
	closed     bool
}

func (b *badgerStaging) Upsert(_ context.Context, entries []Entry) error {
	if b.closed {
		return ErrStagingClosed
	}
	return b.store.db.Update(func(txn *badger.Txn) error {
		return upsertGeneration(txn, b.collection, b.gen, entries)
	})
}

func (b *badgerStaging) Commit(_ context.Context) error {
	if b.closed {
		return ErrStagingClosed
	}

	var previous string
	err := b.store.db.Update(func(txn *badger.Txn) error {
		gen, err := generation(txn, b.collection)
		if err != nil {
			return err
		}
		previous = gen
		return txn.Set(metaKey(b.collection), []byte(b.gen))
	})
	if err != nil {
		return fmt.Errorf("commit collection %s: %w", b.collection, err)
	}
	b.closed = true

	if previous == "" || previous == b.gen {
		return nil
	}
	if err := b.store.dropGeneration(b.collection, previous); err != nil {
		// The new generation is live already. The old one goes with the next Stage.
		b.store.logger.Warn("dropping previous generation failed",
			zap.String("collection", b.collection),
			zap.String("generation", previous),
			zap.Error(err),
		)
		return nil
	}

	b.store.logger.Debug("dropped previous generation",
		zap.String("collection", b.collection),
		zap.String("generation", previous),
	)
	return nil
}

func (b *badgerStaging) Discard(_ context.Context) error {
	if b.closed {
		return nil
	}
	b.closed = true

	if err := b.store.dropGeneration(b.collection, b.gen); err != nil {
		return fmt.Errorf("discard generation %s: %w", b.gen, err)
	}
	return nil
}

// upsertGeneration writes entries into gen, keeping the seq of ids it already holds.
func upsertGeneration(txn *badger.Txn, collection, gen string, entries []Entry) error {
	count, err := readUint(txn, countKey(collection, gen))
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}

	for _, entry := range entries {
		seq, err := readUint(txn, idKey(collection, gen, entry.ID))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			seq = count
			count++
		case err != nil:
			return err
		}

		value, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("encode entry %s: %w", entry.ID, err)
		}
		if err := txn.Set(entryKey(collection, gen, seq), value); err != nil {
			return err
		}
		if err := txn.Set(idKey(collection, gen, entry.ID), encodeUint(seq)); err != nil {
			return err
		}
	}

	return txn.Set(countKey(collection, gen), encodeUint(count))
}

func (s *BadgerStore) Count(_ context.Context, collection string) (int, error) {
	var count uint64
	err := s.db.View(func(txn *badger.Txn) error {
		gen, err := generation(txn, collection)
		if err != nil || gen == "" {
			return err
		}
		count, err = readUint(txn, countKey(collection, gen))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	return int(count), err
}

func (s *BadgerStore) Get(_ context.Context, collection, id string) (Entry, error) {
	var entry Entry
	err := s.db.View(func(txn *badger.Txn) error {
		gen, err := generation(txn, collection)
		if err != nil {
			return err
		}
		if gen == "" {
			return ErrNotFound
		}

		seq, err := readUint(txn, idKey(collection, gen, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		item, err := txn.Get(entryKey(collection, gen, seq))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	return entry, err
}

func (s *BadgerStore) Search(_ context.Context, collection string, vector []float32, k int) ([]Match, error) {
	var entries []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		gen, err := generation(txn, collection)
		if err != nil || gen == "" {
			return err
		}

		prefix := entryKeyPrefix(collection, gen)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var entry Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return fmt.Errorf("decode entry: %w", err)
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search collection %s: %w", collection, err)
	}

	return rank(entries, vector, k), nil
}

// dropStale drops every generation of the collection except the live one.
func (s *BadgerStore) dropStale(collection string) error {
	var live string
	var stale []string
	err := s.db.View(func(txn *badger.Txn) error {
		gen, err := generation(txn, collection)
		if err != nil {
			return err
		}
		live = gen

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := countKeyPrefix(collection)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			gen := string(it.Item().Key()[len(prefix):])
			if gen != live {
				stale = append(stale, gen)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, gen := range stale {
		if err := s.dropGeneration(collection, gen); err != nil {
			return err
		}
		s.logger.Debug("dropped stale generation",
			zap.String("collection", collection),
			zap.String("generation", gen),
		)
	}
	return nil
}

func (s *BadgerStore) dropGeneration(collection, gen string) error {
	return s.dropPrefixes(
		entryKeyPrefix(collection, gen),
		idKeyPrefix(collection, gen),
		countKey(collection, gen),
	)
}

// dropPrefixes deletes every key under the prefixes through a write batch.
func (s *BadgerStore) dropPrefixes(prefixes ...[]byte) error {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for _, prefix := range prefixes {
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			wb.Cancel()
			return err
		}
	}
	return wb.Flush()
}

func generation(txn *badger.Txn, collection string) (string, error) {
	item, err := txn.Get(metaKey(collection))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(value), nil
}

func readUint(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if err != nil {
		return 0, err
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return 0, err
	}
	if len(value) != 8 {
		return 0, fmt.Errorf("malformed counter at %s", key)
	}
	return binary.BigEndian.Uint64(value), nil
}

func encodeUint(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func metaKey(collection string) []byte {
	return []byte(metaPrefix + collection)
}

func countKeyPrefix(collection string) []byte {
	return []byte(countPrefix + collection + "/")
}

func countKey(collection, gen string) []byte {
	return []byte(countPrefix + collection + "/" + gen)
}

func entryKeyPrefix(collection, gen string) []byte {
	return []byte(entryPrefix + collection + "/" + gen + "/")
}

func entryKey(collection, gen string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%s/%020d", entryPrefix, collection, gen, seq))
}

func idKeyPrefix(collection, gen string) []byte {
	return []byte(idPrefix + collection + "/" + gen + "/")
}

func idKey(collection, gen, id string) []byte {
	return []byte(idPrefix + collection + "/" + gen + "/" + id)
}

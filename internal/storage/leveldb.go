package storage

import (
	"bytes"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"tradecore/internal/order"
	"tradecore/pkg/types"
)

// LevelDB is the durable storage engine. Several strategies may share one
// database file, disambiguated by the per-strategy key prefix.
//
// The write path accumulates into a leveldb.Batch and flushes it in one
// Write on the outermost Commit, so a context tick's side effects land
// atomically. Reads bypass the open batch and see committed state only —
// the context's fill dedup relies on exactly that.
type LevelDB struct {
	db  *leveldb.DB
	pfx []byte

	mu        sync.Mutex
	batch     leveldb.Batch
	txLevel   int
	discarded bool
}

// OpenLevelDB opens (creating if needed) the database at path. prefix
// namespaces this strategy's records within the shared database.
func OpenLevelDB(path, prefix string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, storageErr("open leveldb", err)
	}
	return &LevelDB{db: db, pfx: []byte(prefix)}, nil
}

// NewLevelDBWith wraps an already-open database handle; used when several
// strategies share one file. The caller keeps ownership of db.
func NewLevelDBWith(db *leveldb.DB, prefix string) *LevelDB {
	return &LevelDB{db: db, pfx: []byte(prefix)}
}

func (s *LevelDB) Close() error {
	return s.db.Close()
}

var _ Storage = (*LevelDB)(nil)

func (s *LevelDB) key(tag byte, rest []byte) []byte {
	k := make([]byte, 0, len(s.pfx)+1+len(rest))
	k = append(k, s.pfx...)
	k = append(k, tag)
	return append(k, rest...)
}

func (s *LevelDB) fillKey(ts time.Time, id string) []byte {
	return s.key(tagFill, fillKeySuffix(ts, id))
}

func (s *LevelDB) Begin() {
	s.mu.Lock()
	s.txLevel++
	s.mu.Unlock()
}

func (s *LevelDB) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txLevel--
	if s.txLevel > 0 {
		return nil
	}
	s.txLevel = 0
	defer func() {
		s.batch.Reset()
		s.discarded = false
	}()
	if s.discarded {
		return nil
	}
	if err := s.db.Write(&s.batch, nil); err != nil {
		return storageErr("commit", err)
	}
	return nil
}

func (s *LevelDB) Rollback() {
	s.mu.Lock()
	s.discarded = true
	s.mu.Unlock()
	s.Commit() //nolint:errcheck // a discarded transaction writes nothing
}

// flushIfAutonomous writes the batch immediately when no transaction is
// open, preserving the write-through behavior of direct puts.
func (s *LevelDB) flushIfAutonomous() error {
	if s.txLevel > 0 {
		return nil
	}
	defer s.batch.Reset()
	if err := s.db.Write(&s.batch, nil); err != nil {
		return storageErr("write", err)
	}
	return nil
}

func (s *LevelDB) PutVar(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batch.Put(s.key(tagVar, []byte(name)), []byte(value))
	return s.flushIfAutonomous()
}

func (s *LevelDB) EraseVar(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batch.Delete(s.key(tagVar, []byte(name)))
	return s.flushIfAutonomous()
}

func (s *LevelDB) GetVar(name string) (string, error) {
	v, err := s.db.Get(s.key(tagVar, []byte(name)), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", storageErr("get var", err)
	}
	return string(v), nil
}

func (s *LevelDB) EnumVars(prefix string, fn func(name, value string) bool) error {
	iter := s.db.NewIterator(util.BytesPrefix(s.key(tagVar, []byte(prefix))), nil)
	defer iter.Release()
	skip := len(s.pfx) + 1
	for iter.Next() {
		if !fn(string(iter.Key()[skip:]), string(iter.Value())) {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return storageErr("enum vars", err)
	}
	return nil
}

func (s *LevelDB) EnumVarsRange(start, end string, fn func(name, value string) bool) error {
	// util.Range's limit is exclusive; append a zero byte to make the end
	// name inclusive.
	limit := append(s.key(tagVar, []byte(end)), 0)
	iter := s.db.NewIterator(&util.Range{Start: s.key(tagVar, []byte(start)), Limit: limit}, nil)
	defer iter.Release()
	skip := len(s.pfx) + 1
	for iter.Next() {
		if !fn(string(iter.Key()[skip:]), string(iter.Value())) {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return storageErr("enum vars range", err)
	}
	return nil
}

func (s *LevelDB) PutOrder(o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.Done() {
		s.batch.Delete(s.key(tagOrder, []byte(o.ID())))
		return s.flushIfAutonomous()
	}
	env := o.Serialize()
	s.batch.Put(s.key(tagOrder, []byte(env.ID)), env.Body)
	return s.flushIfAutonomous()
}

func (s *LevelDB) LoadOpenOrders() ([]order.SerializedOrder, error) {
	var out []order.SerializedOrder
	iter := s.db.NewIterator(util.BytesPrefix(s.key(tagOrder, nil)), nil)
	defer iter.Release()
	skip := len(s.pfx) + 1
	for iter.Next() {
		out = append(out, order.SerializedOrder{
			ID:   string(iter.Key()[skip:]),
			Body: append([]byte(nil), iter.Value()...),
		})
	}
	if err := iter.Error(); err != nil {
		return nil, storageErr("load open orders", err)
	}
	return out, nil
}

func (s *LevelDB) PutFill(f types.Fill) error {
	// Idempotent by (time, id): the key is derived from both, so a
	// duplicate put overwrites the same record.
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batch.Put(s.fillKey(f.Time, f.ID), EncodeFill(f))
	return s.flushIfAutonomous()
}

func (s *LevelDB) IsDuplicateFill(f types.Fill) (bool, error) {
	_, err := s.db.Get(s.fillKey(f.Time, f.ID), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, storageErr("duplicate fill lookup", err)
	}
	return true, nil
}

func (s *LevelDB) LoadFills(limit int, filter string) ([]types.Fill, error) {
	var out []types.Fill
	iter := s.db.NewIterator(util.BytesPrefix(s.key(tagFill, nil)), nil)
	defer iter.Release()
	// Newest-first scan until the limit is met, then reversed so the result
	// is (time, id) ascending.
	for ok := iter.Last(); ok && len(out) < limit; ok = iter.Prev() {
		f, err := DecodeFill(iter.Value())
		if err != nil {
			return nil, storageErr("load fills", err)
		}
		if filter != "" && !strings.HasPrefix(f.Label, filter) {
			continue
		}
		out = append(out, f)
	}
	if err := iter.Error(); err != nil {
		return nil, storageErr("load fills", err)
	}
	reverseFills(out)
	return out, nil
}

func (s *LevelDB) LoadFillsSince(ts time.Time, filter string) ([]types.Fill, error) {
	var out []types.Fill
	// Seek past every key at ts: strictly-newer contract.
	start := s.key(tagFill, fillKeySuffix(ts.Add(time.Nanosecond), ""))
	pfx := s.key(tagFill, nil)
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()
	for ok := iter.Seek(start); ok && bytes.HasPrefix(iter.Key(), pfx); ok = iter.Next() {
		f, err := DecodeFill(iter.Value())
		if err != nil {
			return nil, storageErr("load fills since", err)
		}
		if filter != "" && !strings.HasPrefix(f.Label, filter) {
			continue
		}
		out = append(out, f)
	}
	if err := iter.Error(); err != nil {
		return nil, storageErr("load fills since", err)
	}
	return out, nil
}

func (s *LevelDB) LoadPositions(filter string) ([]PositionEntry, error) {
	var fills []types.Fill
	iter := s.db.NewIterator(util.BytesPrefix(s.key(tagFill, nil)), nil)
	defer iter.Release()
	for iter.Next() {
		f, err := DecodeFill(iter.Value())
		if err != nil {
			return nil, storageErr("load positions", err)
		}
		fills = append(fills, f)
	}
	if err := iter.Error(); err != nil {
		return nil, storageErr("load positions", err)
	}
	return foldPositions(fills, filter), nil
}

func reverseFills(fills []types.Fill) {
	sort.SliceStable(fills, func(i, j int) bool {
		if fills[i].Time.Equal(fills[j].Time) {
			return fills[i].ID < fills[j].ID
		}
		return fills[i].Time.Before(fills[j].Time)
	})
}

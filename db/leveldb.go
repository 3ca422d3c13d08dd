package db

import (
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
)

func dup(in []byte) []byte {
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

// ldbConn is a wrapper around a base LevelDB database that handles batching
// writes between commits transparently.
type ldbConn struct {
	conn     *leveldb.DB
	readonly bool
	batch    map[string][]byte
}

func newLDBConn(conn *leveldb.DB, readonly bool) *ldbConn {
	return &ldbConn{conn, readonly, make(map[string][]byte)}
}

func (c *ldbConn) Get(key string) ([]byte, error) {
	if value, ok := c.batch[key]; ok {
		return dup(value), nil
	}
	return c.conn.Get([]byte(key), nil)
}

func (c *ldbConn) Put(key string, value []byte) {
	if c.readonly {
		panic("connection is readonly")
	}
	c.batch[key] = dup(value)
}

func (c *ldbConn) Commit() error {
	if c.readonly {
		panic("connection is readonly")
	}

	b := new(leveldb.Batch)
	for key, value := range c.batch {
		b.Put([]byte(key), value)
	}
	if err := c.conn.Write(b, nil); err != nil {
		return err
	}

	c.batch = make(map[string][]byte)
	return nil
}

// ldbTreeStore implements the TreeStore interface over a LevelDB database.
type ldbTreeStore struct {
	conn *ldbConn
}

func NewLDBTreeStore(file string) (TreeStore, error) {
	conn, err := leveldb.OpenFile(file, nil)
	if errors.IsCorrupted(err) {
		conn, err = leveldb.RecoverFile(file, nil)
	}
	if err != nil {
		return nil, err
	}
	return &ldbTreeStore{newLDBConn(conn, false)}, nil
}

func (ldb *ldbTreeStore) Clone() TreeStore {
	return &ldbTreeStore{newLDBConn(ldb.conn.conn, true)}
}

func (ldb *ldbTreeStore) GetTree(addr [32]byte) ([]byte, error) {
	raw, err := ldb.conn.Get("t" + fmt.Sprintf("%x", addr))
	if err == leveldb.ErrNotFound {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return raw, nil
}

func (ldb *ldbTreeStore) PutTree(addr [32]byte, record []byte) error {
	ldb.conn.Put("t"+fmt.Sprintf("%x", addr), record)
	return nil
}

func (ldb *ldbTreeStore) Commit() error {
	return ldb.conn.Commit()
}

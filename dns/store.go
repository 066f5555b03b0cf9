// Copyright 2025 The go-rednet Authors
// This file is part of the go-rednet library.
//
// The go-rednet library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-rednet library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-rednet library. If not, see <http://www.gnu.org/licenses/>.

package dns

import (
	"bytes"
	"encoding/binary"
	"os"

	json "github.com/goccy/go-json"
	"github.com/syndtr/goleveldb/leveldb"
	lvlerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/rednet-explorer/go-rednet/log"
)

// Keys in the record database.
const (
	dbVersionKey   = "version" // Version of the database, flush if changed
	dbRecordPrefix = "r:"      // Identifier to prefix authoritative records with
)

// dbVersion flushes the store when the record encoding changes.
const dbVersion = 1

// Store persists the node's authoritative DNS records so registrations
// survive restarts. Learned records never land here; the cache keeps those
// in memory only.
type Store struct {
	lvl *leveldb.DB
	log log.Logger
}

// OpenStore opens the record store at the given path. An empty path selects
// an in-memory store, used by tests and ephemeral nodes.
func OpenStore(path string, logger log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Root()
	}
	if path == "" {
		db, err := leveldb.Open(storage.NewMemStorage(), nil)
		if err != nil {
			return nil, err
		}
		return &Store{lvl: db, log: logger}, nil
	}
	return openPersistentStore(path, logger)
}

// openPersistentStore opens a leveldb-backed store, flushing its contents if
// the version does not match.
func openPersistentStore(path string, logger log.Logger) (*Store, error) {
	opts := &opt.Options{OpenFilesCacheCapacity: 5}
	db, err := leveldb.OpenFile(path, opts)
	if _, iscorrupted := err.(*lvlerrors.ErrCorrupted); iscorrupted {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, err
	}
	currentVer := make([]byte, binary.MaxVarintLen64)
	currentVer = currentVer[:binary.PutVarint(currentVer, int64(dbVersion))]

	blob, err := db.Get([]byte(dbVersionKey), nil)
	switch err {
	case leveldb.ErrNotFound:
		// Version not found (i.e. empty store), insert it.
		if err := db.Put([]byte(dbVersionKey), currentVer, nil); err != nil {
			db.Close()
			return nil, err
		}

	case nil:
		// Version present, flush if different.
		if !bytes.Equal(blob, currentVer) {
			db.Close()
			logger.Warn("Flushing stale DNS record store", "path", path)
			if err = os.RemoveAll(path); err != nil {
				return nil, err
			}
			return openPersistentStore(path, logger)
		}
	}
	return &Store{lvl: db, log: logger}, nil
}

// recordKey returns the database key of a record.
func recordKey(name string) []byte {
	return append([]byte(dbRecordPrefix), name...)
}

// Put stores a record, overwriting any previous one under the same name.
func (s *Store) Put(rec *Record) error {
	blob, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.lvl.Put(recordKey(rec.Name), blob, nil)
}

// Get retrieves the record registered under name, or nil when absent.
func (s *Store) Get(name string) *Record {
	blob, err := s.lvl.Get(recordKey(name), nil)
	if err != nil {
		return nil
	}
	rec := new(Record)
	if err := json.Unmarshal(blob, rec); err != nil {
		s.log.Warn("Dropping undecodable DNS record", "name", name, "err", err)
		s.lvl.Delete(recordKey(name), nil)
		return nil
	}
	return rec
}

// Delete removes the record stored under name.
func (s *Store) Delete(name string) error {
	return s.lvl.Delete(recordKey(name), nil)
}

// Records returns all stored records.
func (s *Store) Records() []*Record {
	var recs []*Record
	it := s.lvl.NewIterator(util.BytesPrefix([]byte(dbRecordPrefix)), nil)
	defer it.Release()
	for it.Next() {
		rec := new(Record)
		if err := json.Unmarshal(it.Value(), rec); err != nil {
			s.log.Warn("Skipping undecodable DNS record", "key", string(it.Key()), "err", err)
			continue
		}
		recs = append(recs, rec)
	}
	return recs
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.lvl.Close()
}

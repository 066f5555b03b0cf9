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

package search

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/renameio"
	"github.com/klauspost/compress/gzip"
)

// snapshotVersion guards the on-disk layout. Snapshots carry documents
// only, postings are rebuilt on load, so bumping the tokenizer does not
// need a version bump.
const snapshotVersion = 1

var errSnapshotVersion = errors.New("unsupported snapshot version")

type snapshotFile struct {
	Version int        `json:"version"`
	SavedAt time.Time  `json:"savedAt"`
	Seq     uint64     `json:"seq"`
	Docs    []Document `json:"docs"`
}

// SaveSnapshot writes the document set to path as gzipped JSON. The write
// is atomic: readers of path never observe a torn file.
func (ix *Index) SaveSnapshot(path string) error {
	ix.mu.RLock()
	snap := snapshotFile{
		Version: snapshotVersion,
		SavedAt: ix.cfg.Now(),
		Seq:     ix.seq,
		Docs:    make([]Document, 0, len(ix.docs)),
	}
	for _, doc := range ix.docs {
		snap.Docs = append(snap.Docs, *doc)
	}
	ix.mu.RUnlock()

	blob, err := json.Marshal(&snap)
	if err != nil {
		snapshotFailMeter.Mark(1)
		return fmt.Errorf("snapshot encode: %w", err)
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(blob); err != nil {
		snapshotFailMeter.Mark(1)
		return err
	}
	if err := zw.Close(); err != nil {
		snapshotFailMeter.Mark(1)
		return err
	}
	if err := renameio.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		snapshotFailMeter.Mark(1)
		return fmt.Errorf("snapshot write: %w", err)
	}
	snapshotSaveMeter.Mark(1)
	ix.log.Debug("Saved index snapshot", "path", path, "docs", len(snap.Docs), "bytes", buf.Len())
	return nil
}

// LoadSnapshot replaces the index content with the documents from a
// snapshot file, re-tokenizing each one. Document ids, timestamps and the
// id sequence are restored; the bloom filter is rebuilt. A missing file is
// not an error, the index is simply left empty.
func (ix *Index) LoadSnapshot(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		snapshotFailMeter.Mark(1)
		return fmt.Errorf("snapshot open: %w", err)
	}
	blob, err := io.ReadAll(zr)
	if err != nil {
		snapshotFailMeter.Mark(1)
		return fmt.Errorf("snapshot read: %w", err)
	}
	var snap snapshotFile
	if err := json.Unmarshal(blob, &snap); err != nil {
		snapshotFailMeter.Mark(1)
		return fmt.Errorf("snapshot decode: %w", err)
	}
	if snap.Version != snapshotVersion {
		snapshotFailMeter.Mark(1)
		return fmt.Errorf("%w: %d", errSnapshotVersion, snap.Version)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.docs = make(map[DocID]*Document, len(snap.Docs))
	ix.byURL = make(map[string]DocID, len(snap.Docs))
	ix.terms = make(map[string]map[DocID]*Posting)
	ix.postings = 0
	ix.seq = snap.Seq
	for i := range snap.Docs {
		ix.restoreLocked(&snap.Docs[i])
	}
	ix.rebuildBloomLocked()
	ix.gen++
	ix.updateGauges()
	snapshotLoadMeter.Mark(1)
	ix.log.Info("Loaded index snapshot", "path", path, "docs", len(snap.Docs), "savedAt", snap.SavedAt)
	return nil
}

// restoreLocked re-indexes one snapshot document under its original id and
// timestamp. Callers hold mu.
func (ix *Index) restoreLocked(src *Document) {
	doc := &Document{
		ID:        src.ID,
		URL:       src.URL,
		Title:     src.Title,
		Body:      src.Body,
		Kind:      src.Kind,
		IndexedAt: src.IndexedAt,
		Freqs:     make(map[string]int),
	}
	if doc.ID == 0 || doc.URL == "" {
		return
	}
	if uint64(doc.ID) > ix.seq {
		ix.seq = uint64(doc.ID)
	}
	toks := Tokenize(doc.Title + "\n" + doc.Body)
	doc.Terms = len(toks)
	ix.docs[doc.ID] = doc
	ix.byURL[doc.URL] = doc.ID
	ix.insertPostingsLocked(doc, toks, nil)
}

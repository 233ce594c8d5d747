package pthash

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const spillRecordSize = 16

// spillStore buffers per-partition hash codes in temporary files when the
// key set does not fit the configured RAM budget. Files are preallocated to
// their exact size so a full disk fails the build up front instead of
// midway through the write.
type spillStore struct {
	dir     string
	files   []*os.File
	writers []*bufio.Writer
	counts  []uint64
}

func newSpillStore(tmpDir string, counts []uint64) (*spillStore, error) {
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	dir, err := os.MkdirTemp(tmpDir, "pthash-spill-*")
	if err != nil {
		return nil, fmt.Errorf("create spill dir: %w", err)
	}
	s := &spillStore{
		dir:     dir,
		files:   make([]*os.File, len(counts)),
		writers: make([]*bufio.Writer, len(counts)),
		counts:  counts,
	}
	for p := range counts {
		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("part-%04d", p)))
		if err != nil {
			s.close()
			return nil, fmt.Errorf("create spill file: %w", err)
		}
		if err := fallocateFile(f, int64(counts[p])*spillRecordSize); err != nil {
			f.Close()
			s.close()
			return nil, fmt.Errorf("preallocate spill file: %w", err)
		}
		s.files[p] = f
		s.writers[p] = bufio.NewWriterSize(f, 1<<16)
	}
	return s, nil
}

func (s *spillStore) add(p int, h Hash128) error {
	var rec [spillRecordSize]byte
	binary.LittleEndian.PutUint64(rec[0:], h.H1)
	binary.LittleEndian.PutUint64(rec[8:], h.H2)
	_, err := s.writers[p].Write(rec[:])
	return err
}

func (s *spillStore) finish() error {
	for p, w := range s.writers {
		if w == nil {
			continue
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("flush spill file %d: %w", p, err)
		}
	}
	return nil
}

// readPartition loads one partition's hash codes back from its spill file.
func (s *spillStore) readPartition(p int) ([]Hash128, error) {
	f := s.files[p]
	if _, err := f.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("seek spill file %d: %w", p, err)
	}
	fadviseSequential(int(f.Fd()), 0, int64(s.counts[p])*spillRecordSize)

	r := bufio.NewReaderSize(f, 1<<16)
	hashes := make([]Hash128, s.counts[p])
	var rec [spillRecordSize]byte
	for i := range hashes {
		if _, err := io.ReadFull(r, rec[:]); err != nil {
			return nil, fmt.Errorf("read spill file %d: %w", p, err)
		}
		hashes[i] = Hash128{
			H1: binary.LittleEndian.Uint64(rec[0:]),
			H2: binary.LittleEndian.Uint64(rec[8:]),
		}
	}
	return hashes, nil
}

func (s *spillStore) close() {
	for _, f := range s.files {
		if f != nil {
			f.Close()
		}
	}
	os.RemoveAll(s.dir)
}

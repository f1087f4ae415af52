package wal

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Log file layout:
// - header: running checksum of every record: uint32
// - records:
//   - size of data: uint32
//   - checksum of data: uint32
//   - data: [size]byte
//
// A record is appended and synced before the header is rewritten, so a crash in the middle of
// Log leaves either a partial record or a complete record not yet covered by the header; Open
// discards both. If the header covers more than the good records, as when the file system
// reorders the writes, Open keeps the good records and rewrites the header.

const (
	checksumSeed = 13331

	headerSize       = 4
	recordHeaderSize = 8
)

type logFile interface {
	ReadAt(b []byte, off int64) (int, error)
	WriteAt(b []byte, off int64) (int, error)
	Stat() (os.FileInfo, error)
	Sync() error
	Truncate(size int64) error
	Close() error
}

type Logger struct {
	mutex     sync.Mutex
	f         logFile
	path      string
	xChecksum uint32
	size      int64
	pos       int64
}

func checksum(c uint32, b []byte) uint32 {
	for _, v := range b {
		c = c*checksumSeed + uint32(int8(v))
	}
	return c
}

// Create makes a new, empty log file; it fails if the file already exists.
func Create(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}

	lgr := &Logger{
		f:    f,
		path: path,
		size: headerSize,
		pos:  headerSize,
	}
	err = lgr.writeHeader()
	if err != nil {
		f.Close()
		return nil, err
	}
	return lgr, nil
}

// Open opens an existing log file and checks its integrity: a trailing record which is
// partial, has a bad checksum, or is not covered by the header checksum is truncated.
func Open(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}

	lgr := &Logger{
		f:    f,
		path: path,
	}
	err = lgr.check()
	if err != nil {
		f.Close()
		return nil, err
	}
	return lgr, nil
}

func (lgr *Logger) check() error {
	fi, err := lgr.f.Stat()
	if err != nil {
		return err
	}
	lgr.size = fi.Size()
	if lgr.size < headerSize {
		return fmt.Errorf("wal: %s: bad log file: size %d", lgr.path, lgr.size)
	}

	var buf [headerSize]byte
	err = lgr.readFull(buf[:], 0)
	if err != nil {
		return err
	}
	want := binary.BigEndian.Uint32(buf[:])

	// Find the longest prefix of good records whose folded checksum matches the header.
	var xc uint32
	end := int64(-1)
	if want == 0 {
		end = headerSize
	}
	lgr.pos = headerSize
	for {
		rec, err := lgr.nextRecord()
		if err == io.EOF {
			break
		} else if err != nil {
			return err
		}
		xc = checksum(xc, rec)
		if xc == want {
			end = lgr.pos
		}
	}
	if end < 0 {
		// The header covers a record which never reached the disk; keep every good record.
		log.WithFields(log.Fields{
			"path":   lgr.path,
			"header": want,
			"good":   xc,
		}).Warn("wal: header checksum does not match: rewriting header")
		end = lgr.pos
		want = xc
		lgr.xChecksum = xc
		err = lgr.writeHeader()
		if err != nil {
			return err
		}
	}

	if end < lgr.size {
		log.WithFields(log.Fields{
			"path":      lgr.path,
			"size":      lgr.size,
			"truncated": lgr.size - end,
		}).Warn("wal: truncating bad tail of log")
		err = lgr.truncate(end)
		if err != nil {
			return err
		}
	}
	lgr.xChecksum = want
	lgr.pos = headerSize
	return nil
}

func (lgr *Logger) readFull(b []byte, off int64) error {
	n, err := lgr.f.ReadAt(b, off)
	if n == len(b) {
		return nil
	}
	if err != nil && err != io.EOF {
		return fmt.Errorf("wal: %s: read: %w", lgr.path, err)
	}
	return fmt.Errorf("wal: %s: partial read: got %d, want %d", lgr.path, n, len(b))
}

// nextRecord returns the whole record (header and data) at lgr.pos and advances past it;
// io.EOF is returned at the end of the file or at the first partial or corrupt record.
func (lgr *Logger) nextRecord() ([]byte, error) {
	if lgr.pos+recordHeaderSize > lgr.size {
		return nil, io.EOF
	}
	var hdr [recordHeaderSize]byte
	err := lgr.readFull(hdr[:], lgr.pos)
	if err != nil {
		return nil, err
	}
	sz := int64(binary.BigEndian.Uint32(hdr[0:]))
	if lgr.pos+recordHeaderSize+sz > lgr.size {
		return nil, io.EOF
	}

	rec := make([]byte, recordHeaderSize+sz)
	err = lgr.readFull(rec, lgr.pos)
	if err != nil {
		return nil, err
	}
	if checksum(0, rec[recordHeaderSize:]) != binary.BigEndian.Uint32(hdr[4:]) {
		return nil, io.EOF
	}
	lgr.pos += recordHeaderSize + sz
	return rec, nil
}

func (lgr *Logger) writeHeader() error {
	var buf [headerSize]byte
	binary.BigEndian.PutUint32(buf[:], lgr.xChecksum)
	_, err := lgr.f.WriteAt(buf[:], 0)
	if err != nil {
		return fmt.Errorf("wal: %s: write header: %w", lgr.path, err)
	}
	return lgr.f.Sync()
}

// Log appends data as a record and syncs the log file.
func (lgr *Logger) Log(data []byte) error {
	rec := make([]byte, recordHeaderSize+len(data))
	binary.BigEndian.PutUint32(rec[0:], uint32(len(data)))
	binary.BigEndian.PutUint32(rec[4:], checksum(0, data))
	copy(rec[recordHeaderSize:], data)

	lgr.mutex.Lock()
	defer lgr.mutex.Unlock()

	n, err := lgr.f.WriteAt(rec, lgr.size)
	if err != nil {
		return fmt.Errorf("wal: %s: write record: %w", lgr.path, err)
	} else if n != len(rec) {
		return fmt.Errorf("wal: %s: partial write: got %d, want %d", lgr.path, n, len(rec))
	}
	err = lgr.f.Sync()
	if err != nil {
		return fmt.Errorf("wal: %s: sync record: %w", lgr.path, err)
	}
	lgr.size += int64(len(rec))
	lgr.xChecksum = checksum(lgr.xChecksum, rec)
	return lgr.writeHeader()
}

// Rewind positions the logger at the first record.
func (lgr *Logger) Rewind() {
	lgr.mutex.Lock()
	defer lgr.mutex.Unlock()

	lgr.pos = headerSize
}

// Next returns the data of the next record; io.EOF is returned after the last record.
func (lgr *Logger) Next() ([]byte, error) {
	lgr.mutex.Lock()
	defer lgr.mutex.Unlock()

	rec, err := lgr.nextRecord()
	if err != nil {
		return nil, err
	}
	return rec[recordHeaderSize:], nil
}

// Truncate shortens the log file to size bytes.
func (lgr *Logger) Truncate(size int64) error {
	lgr.mutex.Lock()
	defer lgr.mutex.Unlock()

	return lgr.truncate(size)
}

func (lgr *Logger) truncate(size int64) error {
	if size < headerSize {
		panic(fmt.Sprintf("wal: truncate to %d bytes", size))
	}
	err := lgr.f.Truncate(size)
	if err != nil {
		return fmt.Errorf("wal: %s: truncate: %w", lgr.path, err)
	}
	lgr.size = size
	if lgr.pos > size {
		lgr.pos = size
	}
	return lgr.f.Sync()
}

func (lgr *Logger) Close() error {
	lgr.mutex.Lock()
	defer lgr.mutex.Unlock()

	return lgr.f.Close()
}

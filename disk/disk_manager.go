package disk

import (
	"io"
	"os"
	"sync"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const PageSize int = 4096

// InvalidPageID marks the absence of a page.
const InvalidPageID uint64 = ^uint64(0)

type IDiskManager interface {
	// ReadPage reads the page with the given id into dest which must be PageSize long. Reading a page
	// that was allocated but never written yields a zeroed page.
	ReadPage(pageId uint64, dest []byte) error

	// WritePage writes data, which must be PageSize long, to the page with the given id. The backing
	// file is extended as needed.
	WritePage(data []byte, pageId uint64) error

	// NewPage allocates a page id. Ids are monotonically increasing, freed ids are never handed out again.
	NewPage() (pageId uint64)

	// FreePage marks the page as free. Deallocation is logical only, the file is not shrunk.
	FreePage(pageId uint64)

	// Snapshot streams a snappy compressed copy of the whole database file to w.
	Snapshot(w io.Writer) error

	Close() error
}

var _ IDiskManager = &Manager{}

type Manager struct {
	file       *os.File
	filename   string
	nextPageId uint64
	freed      map[uint64]struct{}
	mu         sync.Mutex
}

func NewDiskManager(file string) (*Manager, error) {
	f, err := os.OpenFile(file, os.O_CREATE|os.O_RDWR, os.ModePerm)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open db file: %v", file)
	}

	d := &Manager{
		file:     f,
		filename: file,
		freed:    map[uint64]struct{}{},
	}

	stats, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "stat failed on db file")
	}

	d.nextPageId = uint64(stats.Size()) / uint64(PageSize)
	log.WithFields(log.Fields{"file": file, "pages": d.nextPageId}).Info("disk manager initialized")
	return d, nil
}

func (d *Manager) ReadPage(pageId uint64, dest []byte) error {
	if len(dest) != PageSize {
		return errors.Errorf("destination buffer is not page sized: %v", len(dest))
	}

	n, err := d.file.ReadAt(dest, int64(pageId)*int64(PageSize))
	if err == io.EOF {
		// the page was allocated but never synced. zero the tail so callers always observe
		// a full page.
		for i := n; i < PageSize; i++ {
			dest[i] = 0
		}
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "could not read page: %v", pageId)
	}

	return nil
}

func (d *Manager) WritePage(data []byte, pageId uint64) error {
	if len(data) != PageSize {
		return errors.Errorf("data is not page sized: %v", len(data))
	}

	if _, err := d.file.WriteAt(data, int64(pageId)*int64(PageSize)); err != nil {
		return errors.Wrapf(err, "could not write page: %v", pageId)
	}

	return nil
}

func (d *Manager) NewPage() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	pageId := d.nextPageId
	d.nextPageId++
	return pageId
}

func (d *Manager) FreePage(pageId uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.freed[pageId] = struct{}{}
}

// IsFree reports whether the page was logically deallocated.
func (d *Manager) IsFree(pageId uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.freed[pageId]
	return ok
}

func (d *Manager) Snapshot(w io.Writer) error {
	stats, err := d.file.Stat()
	if err != nil {
		return errors.Wrap(err, "stat failed on db file")
	}
	pageCount := uint64(stats.Size()) / uint64(PageSize)

	sw := snappy.NewBufferedWriter(w)
	buf := make([]byte, PageSize)
	for pageId := uint64(0); pageId < pageCount; pageId++ {
		if err := d.ReadPage(pageId, buf); err != nil {
			return err
		}
		if _, err := sw.Write(buf); err != nil {
			return errors.Wrap(err, "snapshot write failed")
		}
	}

	if err := sw.Close(); err != nil {
		return errors.Wrap(err, "snapshot close failed")
	}

	log.WithFields(log.Fields{"file": d.filename, "pages": pageCount}).Info("snapshot written")
	return nil
}

func (d *Manager) Close() error {
	log.WithField("file", d.filename).Info("disk manager shutting down")
	return d.file.Close()
}

package dm

import (
	"bytes"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"

	"github.com/leftmike/mvdb/storage/page"
	"github.com/leftmike/mvdb/storage/wal"
)

// recoverPages brings the page file back to a consistent state after a crash: every logged
// change made by a committed transaction is redone, in log order, and then every change made
// by any other transaction is undone, in reverse log order.
func recoverPages(cache *page.Cache, lgr *wal.Logger, tm Committed) error {
	log.Info("dm: recovery starting")

	var recs []wal.Record
	maxNum := page.Num(1)
	lgr.Rewind()
	for {
		buf, err := lgr.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return err
		}
		rec, err := wal.Decode(buf)
		if err != nil {
			return err
		}
		var num page.Num
		switch rec := rec.(type) {
		case wal.InsertRecord:
			num = rec.Page
		case wal.UpdateRecord:
			num = rec.Page()
		}
		if num == 0 {
			return fmt.Errorf("dm: recovery: bad page number in log")
		}
		if num > maxNum {
			maxNum = num
		}
		recs = append(recs, rec)
	}

	err := cache.TruncateTo(maxNum)
	if err != nil {
		return err
	}

	var redone, undone int
	for _, rec := range recs {
		if !tm.IsCommitted(rec.XID()) {
			continue
		}
		err = redo(cache, rec)
		if err != nil {
			return err
		}
		redone += 1
	}

	for idx := len(recs) - 1; idx >= 0; idx -= 1 {
		rec := recs[idx]
		if tm.IsCommitted(rec.XID()) {
			continue
		}
		err = undo(cache, rec)
		if err != nil {
			return err
		}
		undone += 1
	}

	log.WithFields(log.Fields{
		"records": len(recs),
		"redone":  redone,
		"undone":  undone,
		"pages":   maxNum,
	}).Info("dm: recovery done")
	return nil
}

func redo(cache *page.Cache, rec wal.Record) error {
	switch rec := rec.(type) {
	case wal.InsertRecord:
		pg, err := cache.Pin(rec.Page)
		if err != nil {
			return err
		}
		page.RecoverInsert(pg, rec.Raw, rec.Offset)
		pg.Release()
	case wal.UpdateRecord:
		pg, err := cache.Pin(rec.Page())
		if err != nil {
			return err
		}
		page.RecoverUpdate(pg, rec.New, rec.Offset())
		pg.Release()
	}
	return nil
}

func undo(cache *page.Cache, rec wal.Record) error {
	switch rec := rec.(type) {
	case wal.InsertRecord:
		if len(rec.Raw) < itemHeaderSize {
			return fmt.Errorf("dm: recovery: bad insert record: %d bytes", len(rec.Raw))
		}
		pg, err := cache.Pin(rec.Page)
		if err != nil {
			return err
		}
		page.RecoverInsert(pg, invalidItem(rec.Raw), rec.Offset)
		pg.Release()
	case wal.UpdateRecord:
		pg, err := cache.Pin(rec.Page())
		if err != nil {
			return err
		}
		// A later committed change to the same item must survive.
		off := int(rec.Offset())
		if off+len(rec.New) <= page.PageSize &&
			bytes.Equal(pg.Bytes[off:off+len(rec.New)], rec.New) {

			page.RecoverUpdate(pg, rec.Old, rec.Offset())
		}
		pg.Release()
	}
	return nil
}

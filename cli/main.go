package main

import (
	"flag"
	"fmt"
	"os"
	"rawstore"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

func main() {
	path := flag.String("file", "", "container page file")
	pageSize := flag.Int("page-size", rawstore.DefaultPageSize, "page size in bytes")
	page := flag.Int64("page", -1, "page to dump, all pages when negative")
	records := flag.Bool("records", false, "print record headers")
	flag.Parse()
	if *path == "" {
		flag.Usage()
		os.Exit(2)
	}

	store, err := rawstore.OpenFileStore(*path, *pageSize, true, 0)
	if err != nil {
		log.WithError(err).Fatal("open page file")
	}
	defer store.Close()

	count, err := store.PageCount()
	if err != nil {
		log.WithError(err).Fatal("page count")
	}
	fmt.Printf("%s: %d pages of %s\n", *path, count, humanize.IBytes(uint64(*pageSize)))

	first, last := rawstore.FirstPageNumber, count-1
	if *page >= 0 {
		first, last = *page, *page
	}
	for n := first; n <= last; n++ {
		if err := dump(store, n, *pageSize, *records); err != nil {
			fmt.Printf("page %d: %v\n", n, err)
		}
	}
}

func dump(store rawstore.PageStore, n int64, pageSize int, records bool) error {
	image := make([]byte, pageSize)
	if err := store.ReadPage(n, image); err != nil {
		return err
	}
	p, err := rawstore.LoadPage(rawstore.PageKey{Page: n}, image)
	if err != nil {
		return errors.Wrap(err, "load")
	}
	h := p.Header()
	status := "valid"
	if !p.IsValid() {
		status = "free"
	}
	kind := "data"
	if h.IsOverflow {
		kind = "overflow"
	}
	fmt.Printf("page %d: %s %s v%d, %d slots (%d deleted), next id %d, free %s of %s\n",
		n, status, kind, h.Version, h.SlotCount, h.DeletedCount, h.NextRecordID,
		humanize.IBytes(uint64(p.FreeSpace())), humanize.IBytes(uint64(p.TotalSpace())))
	if !records {
		return nil
	}
	for s := 0; s < p.RecordCount(); s++ {
		offset, length, reserved, err := p.SlotAt(s)
		if err != nil {
			return err
		}
		rh, err := p.RecordHeaderAtSlot(s)
		if err != nil {
			return err
		}
		fmt.Printf("  slot %3d @%-5d len %-5d reserved %-4d %s\n", s, offset, length, reserved, rh.String())
	}
	return nil
}

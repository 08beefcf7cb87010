package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"intelhub/internal/objectstore"
)

// exportStream writes every Document yielded by produce into destPath as
// a JSON array, through a ".tmp" file renamed into place on success. The
// partial file is removed on any error.
func exportStream(ctx context.Context, destPath string, produce func(yield func(Document) error) error) error {
	tmp := destPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return wrapOpErr("export create", err)
	}
	ok := false
	defer func() {
		f.Close()
		if !ok {
			_ = os.Remove(tmp)
		}
	}()

	if _, err := f.WriteString("["); err != nil {
		return wrapOpErr("export write", err)
	}
	first := true
	enc := json.NewEncoder(f)
	yield := func(d Document) error {
		if !first {
			if _, err := f.WriteString(","); err != nil {
				return err
			}
		}
		first = false
		return enc.Encode(d)
	}
	if err := produce(yield); err != nil {
		return wrapOpErr("export stream", err)
	}
	if _, err := f.WriteString("]"); err != nil {
		return wrapOpErr("export write", err)
	}
	if err := f.Sync(); err != nil {
		return wrapOpErr("export sync", err)
	}
	if err := f.Close(); err != nil {
		return wrapOpErr("export close", err)
	}
	if err := os.Rename(tmp, destPath); err != nil {
		return wrapOpErr("export rename", err)
	}
	ok = true
	return nil
}

// PeriodBounds returns the [start, end) instants covering the ISO week or
// calendar month containing t, in loc.
func PeriodBounds(t time.Time, loc *time.Location, period SplitPeriod) (time.Time, time.Time) {
	t = t.In(loc)
	switch period {
	case SplitWeek:
		wd := int(t.Weekday())
		if wd == 0 {
			wd = 7 // ISO: Monday=1..Sunday=7
		}
		start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, -(wd - 1))
		return start, start.AddDate(0, 0, 7)
	case SplitMonth:
		start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 1, 0)
	case SplitYear:
		start := time.Date(t.Year(), 1, 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(1, 0, 0)
	default:
		return t, t
	}
}

// UploadExport optionally copies a completed export file to an object
// store destination (e.g. S3), keyed the same way it is laid out on local
// disk (<collection>/<period>.json), in addition to the local atomic
// write performed by ExportByTimeRange. A nil store is a no-op so local
// export-only deployments need not configure one.
func UploadExport(ctx context.Context, store objectstore.ObjectStore, key, localPath string) error {
	if store == nil {
		return nil
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read export for upload: %w", err)
	}
	_, err = store.Put(ctx, key, bytes.NewReader(data), objectstore.PutOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("upload export %q: %w", key, err)
	}
	return nil
}

package downloader

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/cesargomez89/inkqueue/internal/storage"
)

// writeArchive packs every staged page of dir, in page order, into a CBZ at
// dest. The archive is built beside dest and renamed into place.
func writeArchive(dir, dest string) error {
	staged, err := stagedPages(dir)
	if err != nil {
		return err
	}
	if len(staged) == 0 {
		return fmt.Errorf("no staged pages in %s", dir)
	}

	indexes := make([]int, 0, len(staged))
	for i := range staged {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	if err := storage.EnsureDir(filepath.Dir(dest)); err != nil {
		return err
	}

	tmp := fmt.Sprintf("%s.%s.tmp", dest, uuid.NewString())
	f, err := storage.CreateFile(tmp)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(f)
	for _, i := range indexes {
		if err := addFile(zw, filepath.Join(dir, staged[i]), staged[i]); err != nil {
			zw.Close()
			f.Close()
			_ = storage.RemoveFile(tmp)
			return err
		}
	}

	if err := zw.Close(); err != nil {
		f.Close()
		_ = storage.RemoveFile(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = storage.RemoveFile(tmp)
		return err
	}
	return storage.MoveFile(tmp, dest)
}

func addFile(zw *zip.Writer, path, name string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	// images are already compressed
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}

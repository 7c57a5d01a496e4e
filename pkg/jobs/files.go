package jobs

import (
	"io"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/pgzip"

	srvErrors "github.com/tupyy/docjobs/pkg/errors"
)

// createTemp reserves a private temporary file and returns its path.
func createTemp(dir, pattern string) (string, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", srvErrors.NewIOError("create temp", dir, err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", srvErrors.NewIOError("create temp", name, err)
	}
	return name, nil
}

// isGzip reports whether the file at path is gzip compressed. Unreadable
// files are treated as plain.
func isGzip(path string) bool {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return false
	}
	return mt.Is("application/gzip")
}

// compress writes a gzip copy of src to dst.
func compress(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return srvErrors.NewIOError("open", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return srvErrors.NewIOError("create", dst, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = srvErrors.NewIOError("close", dst, cerr)
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	zw := pgzip.NewWriter(out)
	if _, err = io.Copy(zw, in); err != nil {
		return srvErrors.NewIOError("compress", dst, err)
	}
	if err = zw.Close(); err != nil {
		return srvErrors.NewIOError("compress", dst, err)
	}
	return nil
}

// transfer copies src to dest atomically: the data goes to dest.partial in
// the destination directory, is synced, then renamed over dest. On failure
// nothing is left behind.
func transfer(src, dest string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return srvErrors.NewIOError("open", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return srvErrors.NewIOError("mkdir", filepath.Dir(dest), err)
	}

	partial := dest + ".partial"
	out, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return srvErrors.NewIOError("create", partial, err)
	}
	defer func() {
		if err != nil {
			_ = out.Close()
			_ = os.Remove(partial)
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return srvErrors.NewIOError("copy", partial, err)
	}
	if err = out.Sync(); err != nil {
		return srvErrors.NewIOError("sync", partial, err)
	}
	if err = out.Close(); err != nil {
		return srvErrors.NewIOError("close", partial, err)
	}
	if err = os.Rename(partial, dest); err != nil {
		return srvErrors.NewIOError("rename", dest, err)
	}
	return nil
}

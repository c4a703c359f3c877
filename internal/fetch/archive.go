package fetch

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Extract unpacks the archive at src into dest, replacing any previous
// content. Gzip-compressed tarballs, plain tarballs and zip files are
// recognised by their magic bytes. When stripPrefix is set only entries
// beneath it are extracted, with the prefix removed. Entries that would land
// outside dest are rejected. It returns the number of files written.
func Extract(src, dest, stripPrefix string) (int, error) {
	partial := dest + ".partial"
	if err := os.RemoveAll(partial); err != nil {
		return 0, err
	}
	if err := os.MkdirAll(partial, 0o755); err != nil {
		return 0, err
	}

	n, err := extractInto(src, partial, strings.Trim(stripPrefix, "/"))
	if err == nil && n == 0 && stripPrefix != "" {
		err = fmt.Errorf("strip_prefix %q matched no archive entries", stripPrefix)
	}
	if err != nil {
		os.RemoveAll(partial)
		return 0, err
	}

	if err := os.RemoveAll(dest); err != nil {
		return 0, err
	}
	if err := os.Rename(partial, dest); err != nil {
		return 0, err
	}
	return n, nil
}

func extractInto(src, dest, strip string) (int, error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	head, _ := br.Peek(512)
	switch {
	case bytes.HasPrefix(head, []byte{0x1f, 0x8b}):
		gz, err := gzip.NewReader(br)
		if err != nil {
			return 0, fmt.Errorf("invalid gzip stream: %w", err)
		}
		defer gz.Close()
		return extractTar(gz, dest, strip)
	case bytes.HasPrefix(head, []byte("PK\x03\x04")), bytes.HasPrefix(head, []byte("PK\x05\x06")):
		info, err := f.Stat()
		if err != nil {
			return 0, err
		}
		return extractZip(f, info.Size(), dest, strip)
	case len(head) >= 262 && string(head[257:262]) == "ustar":
		return extractTar(br, dest, strip)
	default:
		return 0, errors.New("unrecognised archive format")
	}
}

func extractTar(r io.Reader, dest, strip string) (int, error) {
	tr := tar.NewReader(r)
	n := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("failed to read tar entry: %w", err)
		}
		name, ok, err := entryName(hdr.Name, strip)
		if err != nil {
			return n, err
		}
		if !ok {
			continue
		}
		target, err := safeJoin(dest, name)
		if err != nil {
			return n, err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return n, err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return n, err
			}
			n++
		case tar.TypeSymlink:
			if err := checkLink(dest, target, hdr.Linkname); err != nil {
				return n, err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return n, err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return n, err
			}
			n++
		}
	}
}

func extractZip(r io.ReaderAt, size int64, dest, strip string) (int, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return 0, fmt.Errorf("invalid zip archive: %w", err)
	}
	n := 0
	for _, zf := range zr.File {
		name, ok, err := entryName(zf.Name, strip)
		if err != nil {
			return n, err
		}
		if !ok {
			continue
		}
		target, err := safeJoin(dest, name)
		if err != nil {
			return n, err
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return n, err
			}
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return n, err
		}
		err = writeFile(target, rc, zf.Mode().Perm())
		rc.Close()
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// entryName cleans an archive entry name and applies strip. ok is false for
// entries that should not be extracted.
func entryName(raw, strip string) (name string, ok bool, err error) {
	name = path.Clean(strings.TrimPrefix(strings.ReplaceAll(raw, "\\", "/"), "./"))
	if path.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") {
		return "", false, fmt.Errorf("archive entry %q escapes the extraction directory", raw)
	}
	if name == "." {
		return "", false, nil
	}
	if strip != "" {
		if name == strip || !strings.HasPrefix(name, strip+"/") {
			return "", false, nil
		}
		name = name[len(strip)+1:]
	}
	return name, true, nil
}

// safeJoin resolves name beneath dest. Besides the lexical check it refuses
// any path whose already extracted components include a symlink, so a link
// written earlier in the archive cannot redirect later entries.
func safeJoin(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes the extraction directory", name)
	}

	cur := dest
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if errors.Is(err, fs.ErrNotExist) {
			break
		}
		if err != nil {
			return "", err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return "", fmt.Errorf("archive entry %q passes through symlink %s", name, cur)
		}
	}
	return target, nil
}

func checkLink(dest, target, link string) error {
	if filepath.IsAbs(link) {
		return fmt.Errorf("symlink %s points to absolute path %q", target, link)
	}
	resolved := filepath.Join(filepath.Dir(target), filepath.FromSlash(link))
	rel, err := filepath.Rel(dest, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("symlink %s points outside the extraction directory", target)
	}
	return nil
}

func writeFile(target string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	return writeFile(dst, in, 0o644)
}

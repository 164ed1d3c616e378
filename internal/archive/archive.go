// Package archive packs file sets into tar.gz streams and extracts them safely.
package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/apluslms/static-file-host/internal/utils"
	"github.com/klauspost/compress/gzip"
)

var ErrUnsupportedEntry = errors.New("unsupported archive entry")

// Write streams the listed files (slash paths relative to root) as tar.gz into w.
func Write(w io.Writer, root string, files []string) error {
	gz, err := gzip.NewWriterLevel(w, gzip.DefaultCompression)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(gz)

	for _, rel := range files {
		if err := addFile(tw, root, rel); err != nil {
			return fmt.Errorf("archive %s: %w", rel, err)
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

// WriteFile packs files into a new archive at dst and returns its size.
func WriteFile(dst, root string, files []string) (int64, error) {
	f, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	if err := Write(f, root, files); err != nil {
		f.Close()
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return 0, err
	}
	return info.Size(), f.Close()
}

func addFile(tw *tar.Writer, root, rel string) error {
	src, err := utils.SecureJoin(root, rel)
	if err != nil {
		return err
	}

	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return ErrUnsupportedEntry
	}

	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     rel,
		Mode:     int64(info.Mode().Perm()),
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		Format:   tar.FormatPAX,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	// a file that grows while being archived must not corrupt the stream
	_, err = io.CopyN(tw, f, info.Size())
	return err
}

// Extract unpacks a tar.gz stream below dest and returns the extracted file
// paths. Entries that would land outside dest, links and devices are rejected.
func Extract(r io.Reader, dest string) ([]string, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open gzip: %w", err)
	}
	defer gz.Close()

	if err := utils.EnsureDir(dest); err != nil {
		return nil, err
	}

	var files []string
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return files, fmt.Errorf("read tar: %w", err)
		}

		target, err := utils.SecureJoin(dest, hdr.Name)
		if err != nil {
			return files, fmt.Errorf("entry %q: %w", hdr.Name, err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, err
			}
		case tar.TypeReg:
			if err := extractFile(tr, hdr, target); err != nil {
				return files, fmt.Errorf("entry %q: %w", hdr.Name, err)
			}
			rel, _ := utils.CleanRelPath(hdr.Name)
			files = append(files, rel)
		default:
			return files, fmt.Errorf("entry %q type %q: %w", hdr.Name, hdr.Typeflag, ErrUnsupportedEntry)
		}
	}

	return files, nil
}

// ExtractFile is Extract over an archive on disk.
func ExtractFile(src, dest string) ([]string, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Extract(f, dest)
}

func extractFile(tr *tar.Reader, hdr *tar.Header, target string) error {
	if err := utils.EnsureParent(target); err != nil {
		return err
	}

	// replace rather than truncate so hard links to a previous tree stay intact
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	perm := os.FileMode(hdr.Mode).Perm() | 0o600
	out, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, tr); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	if !hdr.ModTime.IsZero() {
		return os.Chtimes(target, hdr.ModTime, hdr.ModTime)
	}
	return nil
}

// DirSize sums the sizes of the given files below root.
func DirSize(root string, files []string) (int64, error) {
	var total int64
	for _, rel := range files {
		p, err := utils.SecureJoin(root, rel)
		if err != nil {
			return 0, err
		}
		info, err := os.Stat(p)
		if err != nil {
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}

package connection

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// PackFileArchive packs a single file into a POSIX ustar archive. The
// entry name is the basename; the destination directory is carried as
// the archive-put query parameter, not in the archive.
func PackFileArchive(name string, content []byte) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	header := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		Typeflag: tar.TypeReg,
		Format:   tar.FormatUSTAR,
	}
	if err := tw.WriteHeader(header); err != nil {
		return nil, err
	}
	if _, err := tw.Write(content); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExtractFileArchive returns the contents of the first regular file in
// a tar archive.
func ExtractFileArchive(tarData []byte) ([]byte, error) {
	tr := tar.NewReader(bytes.NewReader(tarData))
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if header.Typeflag == tar.TypeReg {
			return io.ReadAll(tr)
		}
	}
	return nil, fmt.Errorf("no regular file in archive")
}

// PackPathArchive packs a host file or directory tree into a tar
// archive rooted at arcname. Mode bits are preserved; ownership is
// reset to root. Symlinks are rejected: only files and directories are
// pushed into a container.
func PackPathArchive(hostPath, arcname string) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	info, err := os.Lstat(hostPath)
	if err != nil {
		return nil, err
	}

	if info.IsDir() {
		err = filepath.Walk(hostPath, func(path string, fi os.FileInfo, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			rel, err := filepath.Rel(hostPath, path)
			if err != nil {
				return err
			}
			name := arcname
			if rel != "." {
				name = arcname + "/" + filepath.ToSlash(rel)
			}
			return addTarEntry(tw, path, name, fi)
		})
	} else {
		err = addTarEntry(tw, hostPath, arcname, info)
	}
	if err != nil {
		return nil, err
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func addTarEntry(tw *tar.Writer, path, name string, fi os.FileInfo) error {
	if fi.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("refusing to push symlink %s", path)
	}

	switch {
	case fi.IsDir():
		return tw.WriteHeader(&tar.Header{
			Name:     name + "/",
			Mode:     int64(fi.Mode().Perm()),
			Typeflag: tar.TypeDir,
			ModTime:  fi.ModTime(),
			Format:   tar.FormatUSTAR,
		})
	case fi.Mode().IsRegular():
		if err := tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     int64(fi.Mode().Perm()),
			Size:     fi.Size(),
			Typeflag: tar.TypeReg,
			ModTime:  fi.ModTime(),
			Format:   tar.FormatUSTAR,
		}); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	default:
		return fmt.Errorf("refusing to push special file %s", path)
	}
}

// ExtractArchive unpacks a tar archive pulled from a container. A
// single-file archive lands at destPath; anything else extracts as a
// tree under destPath. Symlinks are preserved. Entries escaping the
// destination are rejected.
func ExtractArchive(tarData []byte, destPath string) error {
	tr := tar.NewReader(bytes.NewReader(tarData))

	var headers []*tar.Header
	var contents [][]byte
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		var data []byte
		if header.Typeflag == tar.TypeReg {
			if data, err = io.ReadAll(tr); err != nil {
				return err
			}
		}
		headers = append(headers, header)
		contents = append(contents, data)
	}

	if len(headers) == 1 && headers[0].Typeflag == tar.TypeReg {
		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return err
		}
		return os.WriteFile(destPath, contents[0], os.FileMode(headers[0].Mode).Perm())
	}

	for i, header := range headers {
		rel := sanitizeEntryName(header.Name)
		if rel == "" {
			continue
		}
		target := filepath.Join(destPath, filepath.FromSlash(rel))
		if !strings.HasPrefix(target, filepath.Clean(destPath)+string(os.PathSeparator)) && target != filepath.Clean(destPath) {
			return fmt.Errorf("archive entry escapes destination: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(header.Mode).Perm()); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(target, contents[i], os.FileMode(header.Mode).Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(header.Linkname, target); err != nil && !os.IsExist(err) {
				return err
			}
		}
	}
	return nil
}

// sanitizeEntryName strips the archive's top-level prefix and any
// leading path noise. The engine wraps pulled paths in a directory
// named after the source's basename.
func sanitizeEntryName(name string) string {
	name = strings.TrimPrefix(filepath.ToSlash(name), "./")
	name = strings.TrimPrefix(name, "/")
	if idx := strings.IndexByte(name, '/'); idx >= 0 {
		return name[idx+1:]
	}
	return ""
}

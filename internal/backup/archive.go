package backup

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ZakirC4/papermc-setup/internal/config"
)

// ArchiveHandler creates and extracts tar archives of the server directory
type ArchiveHandler struct {
	serverDir string
	now       func() time.Time
}

// ArchiveInfo contains metadata about a created archive
type ArchiveInfo struct {
	Filename    string
	Path        string
	SizeBytes   int64
	CreatedAt   time.Time
	Directories []string
	FileCount   int
	Compression config.CompressionConfig
}

// NewArchiveHandler creates a new archive handler rooted at the server directory
func NewArchiveHandler(serverDir string) *ArchiveHandler {
	return &ArchiveHandler{
		serverDir: serverDir,
		now:       time.Now,
	}
}

// CreateArchive archives directories (relative to the server dir) into outDir
func (ah *ArchiveHandler) CreateArchive(directories, exclude []string, outDir string, compression config.CompressionConfig) (*ArchiveInfo, error) {
	compression = normalizeCompression(compression)

	for _, dir := range directories {
		if _, err := os.Stat(filepath.Join(ah.serverDir, dir)); err != nil {
			return nil, fmt.Errorf("directory or file does not exist: %s", dir)
		}
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	createdAt := ah.now()
	filename := fmt.Sprintf("backup_%s.%s", createdAt.Format("2006-01-02_15-04-05"), compressionArchiveExtension(compression))
	archivePath := filepath.Join(outDir, filename)

	log.Printf("[Archive] Creating archive %s from %v", filename, directories)

	file, err := os.Create(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}

	fileCount, err := ah.writeArchive(file, directories, exclude, compression)
	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(archivePath)
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}

	stat, err := os.Stat(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to get archive size: %w", err)
	}

	log.Printf("[Archive] Archive created successfully: %s (size: %d bytes, files: %d)", filename, stat.Size(), fileCount)

	return &ArchiveInfo{
		Filename:    filename,
		Path:        archivePath,
		SizeBytes:   stat.Size(),
		CreatedAt:   createdAt,
		Directories: directories,
		FileCount:   fileCount,
		Compression: compression,
	}, nil
}

func (ah *ArchiveHandler) writeArchive(w io.Writer, directories, exclude []string, compression config.CompressionConfig) (int, error) {
	compressor, err := newCompressor(w, compression)
	if err != nil {
		return 0, err
	}
	tw := tar.NewWriter(compressor)

	count := 0
	for _, dir := range directories {
		root := filepath.Join(ah.serverDir, dir)
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}

			rel, err := filepath.Rel(ah.serverDir, path)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)

			if isExcluded(rel, exclude) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return err
			}
			if !info.Mode().IsRegular() && !info.IsDir() {
				return nil
			}

			header, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			header.Name = rel
			if info.IsDir() {
				header.Name += "/"
			}
			if err := tw.WriteHeader(header); err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}

			src, err := os.Open(path)
			if err != nil {
				return err
			}
			defer src.Close()
			if _, err := io.CopyN(tw, src, info.Size()); err != nil {
				return fmt.Errorf("%s: %w", rel, err)
			}
			count++
			return nil
		})
		if err != nil {
			return count, err
		}
	}

	if err := tw.Close(); err != nil {
		return count, err
	}
	return count, compressor.Close()
}

// isExcluded matches patterns against the relative path and its base name
func isExcluded(rel string, exclude []string) bool {
	base := filepath.Base(rel)
	for _, pattern := range exclude {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// ExtractArchive extracts an archive into destination, refusing entries that escape it
func (ah *ArchiveHandler) ExtractArchive(archivePath, destination string) error {
	log.Printf("[Archive] Extracting archive %s to %s", archivePath, destination)

	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	reader, err := newDecompressor(file, detectCompressionFromFilename(archivePath))
	if err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}
	defer reader.Close()

	root, err := filepath.Abs(destination)
	if err != nil {
		return err
	}

	tr := tar.NewReader(reader)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to extract archive: %w", err)
		}

		target := filepath.Join(root, filepath.FromSlash(header.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry escapes destination: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(header.Mode).Perm())
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
		}
	}

	log.Printf("[Archive] Archive extracted successfully to %s", destination)
	return nil
}

// ListArchiveContents lists the entry names of an archive
func (ah *ArchiveHandler) ListArchiveContents(archivePath string) ([]string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	reader, err := newDecompressor(file, detectCompressionFromFilename(archivePath))
	if err != nil {
		return nil, fmt.Errorf("failed to list archive contents: %w", err)
	}
	defer reader.Close()

	var names []string
	tr := tar.NewReader(reader)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list archive contents: %w", err)
		}
		names = append(names, header.Name)
	}
}

// isArchiveName reports whether name looks like an archive created by CreateArchive
func isArchiveName(name string) bool {
	return strings.HasPrefix(name, "backup_") && (strings.HasSuffix(name, ".tar.gz") || strings.HasSuffix(name, ".tar"))
}

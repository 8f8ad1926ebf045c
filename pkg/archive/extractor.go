package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"

	"photoyarn/pkg/domain"
)

var (
	ErrNoImagesFound = errors.New("no images found in upload")
	ErrTooManyImages = errors.New("too many images in upload")

	// ErrInvalidArchive reports an uploaded zip that cannot be read.
	ErrInvalidArchive = errors.New("invalid archive")
)

const (
	DefaultMaxEntryBytes int64 = 25 << 20
	DefaultMaxEntries          = 200
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
}

// Upload is one submitted file. Reader may additionally implement
// io.ReaderAt and io.Seeker, in which case archives are read in place.
type Upload struct {
	Name   string
	Reader io.Reader
}

// Extractor turns uploads into an ordered list of image entries.
type Extractor struct {
	MaxEntryBytes int64
	MaxEntries    int
	// TempDir holds spooled archives. Empty uses os.TempDir.
	TempDir string
	Logger  *slog.Logger
}

// NewExtractor returns an Extractor with default limits.
func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		MaxEntryBytes: DefaultMaxEntryBytes,
		MaxEntries:    DefaultMaxEntries,
		Logger:        logger,
	}
}

// Extract reads every upload in submission order. Zip members are taken in
// name order. Ordinals are assigned across the whole batch.
func (e *Extractor) Extract(ctx context.Context, uploads []Upload) ([]domain.ImageEntry, error) {
	var entries []domain.ImageEntry
	for _, up := range uploads {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := baseName(up.Name)
		switch {
		case IsArchive(up.Name):
			found, err := e.extractArchive(ctx, up)
			if err != nil {
				return nil, err
			}
			entries = append(entries, found...)
		case IsImageName(up.Name):
			data, err := e.readLimited(up.Reader)
			if err != nil {
				if errors.Is(err, errEntryTooLarge) {
					e.logger().Warn("image skipped: too large", "file", name, "limit", e.maxEntryBytes())
					continue
				}
				return nil, fmt.Errorf("read %s: %w", name, err)
			}
			entries = append(entries, domain.ImageEntry{OriginalName: name, Data: data})
		default:
			e.logger().Info("upload skipped: unsupported type", "file", name)
			continue
		}
		if limit := e.maxEntries(); len(entries) > limit {
			return nil, fmt.Errorf("%w: limit %d", ErrTooManyImages, limit)
		}
	}
	if len(entries) == 0 {
		return nil, ErrNoImagesFound
	}
	for i := range entries {
		entries[i].Ordinal = i
	}
	return entries, nil
}

func (e *Extractor) extractArchive(ctx context.Context, up Upload) ([]domain.ImageEntry, error) {
	ra, size, cleanup, err := e.readerAt(up.Reader)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrInvalidArchive, baseName(up.Name), err)
	}
	files := make([]*zip.File, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !IsImageMember(f.Name) {
			continue
		}
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	entries := make([]domain.ImageEntry, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f.UncompressedSize64 > uint64(e.maxEntryBytes()) {
			e.logger().Warn("archive member skipped: too large", "file", f.Name, "size", f.UncompressedSize64)
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: open member %s: %w", ErrInvalidArchive, f.Name, err)
		}
		data, err := e.readLimited(rc)
		rc.Close()
		if err != nil {
			if errors.Is(err, errEntryTooLarge) {
				e.logger().Warn("archive member skipped: too large", "file", f.Name)
				continue
			}
			return nil, fmt.Errorf("%w: read member %s: %w", ErrInvalidArchive, f.Name, err)
		}
		entries = append(entries, domain.ImageEntry{OriginalName: baseName(f.Name), Data: data})
		if len(entries) > e.maxEntries() {
			return nil, fmt.Errorf("%w: limit %d", ErrTooManyImages, e.maxEntries())
		}
	}
	return entries, nil
}

// readerAt returns random access to r, spooling it to a scratch file when r
// cannot seek. cleanup removes the scratch file.
func (e *Extractor) readerAt(r io.Reader) (io.ReaderAt, int64, func(), error) {
	if rs, ok := r.(interface {
		io.ReaderAt
		io.Seeker
	}); ok {
		size, err := rs.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("seek archive: %w", err)
		}
		if _, err := rs.Seek(0, io.SeekStart); err != nil {
			return nil, 0, nil, fmt.Errorf("seek archive: %w", err)
		}
		return rs, size, func() {}, nil
	}
	tmp, err := os.CreateTemp(e.TempDir, "photoyarn-upload-*.zip")
	if err != nil {
		return nil, 0, nil, fmt.Errorf("create scratch file: %w", err)
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}
	size, err := io.Copy(tmp, r)
	if err != nil {
		cleanup()
		return nil, 0, nil, fmt.Errorf("spool archive: %w", err)
	}
	return tmp, size, cleanup, nil
}

var errEntryTooLarge = errors.New("entry exceeds size limit")

func (e *Extractor) readLimited(r io.Reader) ([]byte, error) {
	limit := e.maxEntryBytes()
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errEntryTooLarge
	}
	return data, nil
}

func (e *Extractor) maxEntryBytes() int64 {
	if e.MaxEntryBytes <= 0 {
		return DefaultMaxEntryBytes
	}
	return e.MaxEntryBytes
}

func (e *Extractor) maxEntries() int {
	if e.MaxEntries <= 0 {
		return DefaultMaxEntries
	}
	return e.MaxEntries
}

func (e *Extractor) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// IsArchive reports whether name looks like a zip archive.
func IsArchive(name string) bool {
	return strings.EqualFold(path.Ext(baseName(name)), ".zip")
}

// IsImageName reports whether name carries a supported image extension.
func IsImageName(name string) bool {
	return imageExtensions[strings.ToLower(path.Ext(baseName(name)))]
}

// IsImageMember reports whether an archive member should be extracted.
// Platform metadata (__MACOSX/, AppleDouble "._" files) and hidden files are excluded.
func IsImageMember(name string) bool {
	name = strings.ReplaceAll(name, "\\", "/")
	for _, seg := range strings.Split(name, "/") {
		if seg == "__MACOSX" {
			return false
		}
	}
	base := path.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return IsImageName(base)
}

func baseName(name string) string {
	return path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
}

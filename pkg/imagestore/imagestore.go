// Package imagestore writes uploaded images to a year/month directory tree
// and generates JPEG thumbnails for feed rendering.
package imagestore

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/image/draw"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

const (
	// MaxUploadBytes caps a single upload at 10 MiB.
	MaxUploadBytes = 10 << 20

	thumbMaxDim  = 512
	thumbQuality = 80
)

var (
	ErrTooLarge       = errors.New("image exceeds the upload size limit")
	ErrBadExtension   = errors.New("unsupported image extension")
	ErrUnsafePath     = errors.New("image path escapes the upload directory")
	ErrDecodeFailed   = errors.New("image could not be decoded")
	allowedExtensions = map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	}
)

// Store saves and serves images under a single root directory.
type Store struct {
	root string
}

// New creates the root directory when missing.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("upload directory is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve upload directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute upload directory.
func (s *Store) Root() string {
	return s.root
}

// Saved is the outcome of one image save: both paths are relative to the
// upload root and safe to persist.
type Saved struct {
	ImagePath     string
	ThumbnailPath string
}

// Save validates and writes an upload. kind prefixes the filename (the image
// type label, e.g. "food" or "screenshot"); filename supplies the extension.
func (s *Store) Save(data []byte, kind, filename string, now time.Time) (*Saved, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image payload")
	}
	if len(data) > MaxUploadBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return nil, fmt.Errorf("%w: %q", ErrBadExtension, ext)
	}
	if kind == "" {
		kind = "image"
	}

	// <root>/<YYYY>/<MM>/<kind>_<unix>_<rand8><ext>
	dir := filepath.Join(s.root, now.Format("2006"), now.Format("01"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}

	base := fmt.Sprintf("%s_%d_%s%s", sanitizeKind(kind), now.Unix(), randomSuffix(), ext)
	fullPath := filepath.Join(dir, base)
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write image: %w", err)
	}

	rel, err := filepath.Rel(s.root, fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to relativize image path: %w", err)
	}
	saved := &Saved{ImagePath: filepath.ToSlash(rel)}

	// A failed thumbnail never fails the save; the feed falls back to the
	// full image.
	thumbPath := filepath.Join(dir, "thumb_"+base)
	if err := writeThumbnail(data, thumbPath); err != nil {
		slog.Warn("thumbnail generation failed", "path", saved.ImagePath, "error", err)
		return saved, nil
	}
	thumbRel, err := filepath.Rel(s.root, thumbPath)
	if err == nil {
		saved.ThumbnailPath = filepath.ToSlash(thumbRel)
	}
	return saved, nil
}

// Resolve maps a stored relative path back to an absolute file path,
// rejecting anything that escapes the upload root.
func (s *Store) Resolve(relPath string) (string, error) {
	if relPath == "" {
		return "", ErrUnsafePath
	}
	clean := filepath.Clean(filepath.FromSlash(relPath))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", ErrUnsafePath
	}
	full := filepath.Join(s.root, clean)
	rel, err := filepath.Rel(s.root, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", ErrUnsafePath
	}
	return full, nil
}

// Remove deletes an image and its thumbnail, ignoring missing files.
func (s *Store) Remove(relPath string) error {
	full, err := s.Resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove image: %w", err)
	}
	return nil
}

func sanitizeKind(kind string) string {
	var b strings.Builder
	for _, c := range strings.ToLower(kind) {
		if c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_' {
			b.WriteRune(c)
		}
	}
	if b.Len() == 0 {
		return "image"
	}
	return b.String()
}

func randomSuffix() string {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xffffffff)
	}
	return hex.EncodeToString(buf[:])
}

// writeThumbnail decodes data, scales the long edge down to thumbMaxDim, and
// writes a JPEG. Images already small enough are re-encoded as-is.
func writeThumbnail(data []byte, path string) error {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w > thumbMaxDim || h > thumbMaxDim {
		scale := float64(thumbMaxDim) / float64(max(w, h))
		dw, dh := int(float64(w)*scale), int(float64(h)*scale)
		if dw < 1 {
			dw = 1
		}
		if dh < 1 {
			dh = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		src = dst
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create thumbnail: %w", err)
	}
	defer f.Close()
	return jpeg.Encode(f, src, &jpeg.Options{Quality: thumbQuality})
}

package imagestore

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestSaveAndResolve(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	saved, err := s.Save(testJPEG(t, 100, 60), "food", "lunch.jpg", now)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(saved.ImagePath, "2026/03/food_"), saved.ImagePath)
	assert.True(t, strings.HasSuffix(saved.ImagePath, ".jpg"))
	require.NotEmpty(t, saved.ThumbnailPath)
	assert.Contains(t, saved.ThumbnailPath, "thumb_")

	full, err := s.Resolve(saved.ImagePath)
	require.NoError(t, err)
	_, err = os.Stat(full)
	require.NoError(t, err)

	thumb, err := s.Resolve(saved.ThumbnailPath)
	require.NoError(t, err)
	_, err = os.Stat(thumb)
	require.NoError(t, err)
}

func TestSave_ThumbnailScalesDown(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	saved, err := s.Save(testJPEG(t, 1600, 800), "scenery", "big.jpg", time.Now())
	require.NoError(t, err)
	require.NotEmpty(t, saved.ThumbnailPath)

	full, err := s.Resolve(saved.ThumbnailPath)
	require.NoError(t, err)
	f, err := os.Open(full)
	require.NoError(t, err)
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, thumbMaxDim, cfg.Width)
	assert.Equal(t, thumbMaxDim/2, cfg.Height)
}

func TestSave_RejectsOversized(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	big := make([]byte, MaxUploadBytes+1)
	_, err = s.Save(big, "food", "big.jpg", time.Now())
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestSave_RejectsBadExtension(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.Save([]byte("payload"), "food", "evil.exe", time.Now())
	assert.ErrorIs(t, err, ErrBadExtension)

	_, err = s.Save([]byte("payload"), "food", "noext", time.Now())
	assert.ErrorIs(t, err, ErrBadExtension)
}

func TestSave_UndecodableImageStillSaves(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	// Valid extension, garbage bytes: the image is kept, no thumbnail.
	saved, err := s.Save([]byte("not an image"), "food", "x.jpg", time.Now())
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ImagePath)
	assert.Empty(t, saved.ThumbnailPath)
}

func TestResolve_TraversalDefense(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	for _, path := range []string{
		"../secrets.txt",
		"../../etc/passwd",
		"2026/../../etc/passwd",
		"/etc/passwd",
		"",
	} {
		_, err := s.Resolve(path)
		assert.ErrorIs(t, err, ErrUnsafePath, "path %q", path)
	}
}

func TestRemove(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	saved, err := s.Save(testJPEG(t, 50, 50), "selfie", "me.jpg", time.Now())
	require.NoError(t, err)

	require.NoError(t, s.Remove(saved.ImagePath))
	full, err := s.Resolve(saved.ImagePath)
	require.NoError(t, err)
	_, err = os.Stat(full)
	assert.True(t, os.IsNotExist(err))

	// Removing again is not an error.
	assert.NoError(t, s.Remove(saved.ImagePath))
}

func TestSanitizeKind(t *testing.T) {
	assert.Equal(t, "activity_photo", sanitizeKind("Activity_Photo"))
	assert.Equal(t, "image", sanitizeKind("../"))
}

func TestFilenameStructure(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	now := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	saved, err := s.Save(testJPEG(t, 10, 10), "sleep_screenshot", "a.png", now)
	require.NoError(t, err)

	base := filepath.Base(saved.ImagePath)
	assert.True(t, strings.HasPrefix(base, fmt.Sprintf("sleep_screenshot_%d_", now.Unix())), base)
	assert.True(t, strings.HasSuffix(base, ".png"))
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// keyPrefix is the URL prefix under which the data directory is served;
// blob keys carry it.
const keyPrefix = "data/"

var imageExt = regexp.MustCompile(`(?i)\.(jpe?g|png|gif|webp)$`)

// Blobs stores track and image files inside the data directory.
type Blobs struct {
	Dir string
}

// Path resolves a "data/..." key (the prefix is optional) to a file inside
// Dir. Keys that would leave Dir are rejected.
func (b Blobs) Path(key string) (string, error) {
	rel := strings.TrimPrefix(strings.TrimPrefix(key, "/"), keyPrefix)
	rel = path.Clean("/" + rel)[1:]
	if rel == "" || rel == "." {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	full := filepath.Join(b.Dir, filepath.FromSlash(rel))
	back, err := filepath.Rel(b.Dir, full)
	if err != nil || back == ".." || strings.HasPrefix(back, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("blob key %q escapes the data directory", key)
	}
	return full, nil
}

// ReadFile returns the content of key; missing files wrap ErrNotFound.
func (b Blobs) ReadFile(_ context.Context, key string) ([]byte, error) {
	full, err := b.Path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return data, err
}

// save copies r into a new file dir/<uuid><ext> and returns its key.
func (b Blobs) save(r io.Reader, dir []string, ext string) (string, error) {
	name := uuid.NewString() + ext
	key := keyPrefix + path.Join(append(dir, name)...)
	full, err := b.Path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", err
	}
	f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(full)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(full)
		return "", err
	}
	return key, nil
}

// SaveTrack stores an uploaded track as data/<uuid>.rctrk.
func (b Blobs) SaveTrack(r io.Reader) (string, error) {
	return b.save(r, nil, ".rctrk")
}

// SaveSiteImage stores an image under data/images/<siteID>/ keeping the
// extension of the uploaded name.
func (b Blobs) SaveSiteImage(siteID, original string, r io.Reader) (string, error) {
	if err := checkSegment(siteID); err != nil {
		return "", err
	}
	return b.save(r, []string{"images", siteID}, path.Ext(original))
}

// SaveSampleImage stores an image under data/images/samples/<sampleID>/.
func (b Blobs) SaveSampleImage(sampleID, original string, r io.Reader) (string, error) {
	if err := checkSegment(sampleID); err != nil {
		return "", err
	}
	return b.save(r, []string{"images", "samples", sampleID}, path.Ext(original))
}

// SiteImageKey is the key of an image file of a site.
func SiteImageKey(siteID, name string) string {
	return keyPrefix + path.Join("images", siteID, path.Base(name))
}

// SampleImageKey is the key of an image file of a sample.
func SampleImageKey(sampleID, name string) string {
	return keyPrefix + path.Join("images", "samples", sampleID, path.Base(name))
}

func checkSegment(s string) error {
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) {
		return fmt.Errorf("invalid id %q", s)
	}
	return nil
}

// Remove deletes key; a missing file is not an error.
func (b Blobs) Remove(key string) error {
	full, err := b.Path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// TrackFiles lists the *.rctrk files at the top of Dir as sorted keys.
func (b Blobs) TrackFiles() ([]string, error) {
	entries, err := os.ReadDir(b.Dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ".rctrk") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	keys := make([]string, len(names))
	for i, n := range names {
		keys[i] = keyPrefix + n
	}
	return keys, nil
}

// SiteImages lists the image files of a site as sorted keys. A missing
// directory yields no images.
func (b Blobs) SiteImages(siteID string) ([]string, error) {
	if checkSegment(siteID) != nil {
		return nil, nil
	}
	entries, err := os.ReadDir(filepath.Join(b.Dir, "images", siteID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && imageExt.MatchString(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	keys := make([]string, len(names))
	for i, n := range names {
		keys[i] = SiteImageKey(siteID, n)
	}
	return keys, nil
}

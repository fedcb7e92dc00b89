// Package ads loads advertisement images off disk the way dvr.ListRecordings
// scans the recordings tree: a flat os.ReadDir pass filtered by extension,
// sorted for stable ordering, read fully into memory for the caller to hand
// to the client as AdvertisementImages.
package ads

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Image is one loaded advertisement file.
type Image struct {
	Name  string // basename including extension
	Bytes []byte
}

var extensions = []string{".jpg", ".jpeg", ".png"}

// Load scans dir for image files (case-insensitive jpg/jpeg/png), returning
// them sorted by filename. A missing directory yields an empty slice rather
// than an error, matching ListRecordings' os.IsNotExist handling.
func Load(dir string) ([]Image, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []Image{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "ads: reading %s", dir)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !hasImageExt(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out := make([]Image, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, errors.Wrapf(err, "ads: reading %s", name)
		}
		out = append(out, Image{Name: name, Bytes: data})
	}
	return out, nil
}

func hasImageExt(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range extensions {
		if ext == e {
			return true
		}
	}
	return false
}

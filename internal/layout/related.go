package layout

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// imageExts are the photo extensions accepted as related images.
var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".mpo": true, ".bmp": true, ".png": true,
	".webp": true, ".tiff": true, ".tif": true, ".jfif": true, ".avif": true,
	".heic": true, ".heif": true,
}

const sidecarExt = ".json"

// IsImage reports whether name has a supported image extension.
func IsImage(name string) bool {
	return imageExts[strings.ToLower(filepath.Ext(name))]
}

// RelatedImage pairs a photo with its JSON sidecar.
type RelatedImage struct {
	// Key is the image file name, unique within its directory.
	Key         string
	ImagePath   string
	SidecarPath string
}

// ImageSidecar is the content of a related image's JSON sidecar.
type ImageSidecar struct {
	Name string          `json:"name"`
	Meta json.RawMessage `json:"meta"`
}

// PairingError reports an image without a sidecar or a sidecar without an
// image.
type PairingError struct {
	Dir    string
	File   string
	Reason string
}

func (e *PairingError) Error() string {
	return fmt.Sprintf("related images in %s: %s: %s", e.Dir, e.File, e.Reason)
}

// RelatedDirFor returns the photo directory of a point cloud: dots in the
// point-cloud name become underscores.
func RelatedDirFor(relatedRoot, pcdName string) string {
	return filepath.Join(relatedRoot, strings.ReplaceAll(pcdName, ".", "_"))
}

// RelatedImages joins the images in dir with their sidecars by name. The
// sidecar of "cam0.png" is "cam0.png.json", or failing that "cam0.json".
// Every image needs exactly one sidecar and every sidecar one image.
// A missing dir yields no images. Pairs are sorted by image file name.
func RelatedImages(dir string) ([]RelatedImage, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing related images: %w", err)
	}

	var images []string
	sidecars := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case IsImage(name):
			images = append(images, name)
		case strings.EqualFold(filepath.Ext(name), sidecarExt):
			sidecars[name] = false
		}
	}
	sort.Strings(images)

	pairs := make([]RelatedImage, 0, len(images))
	owner := make(map[string]string, len(images))
	for _, img := range images {
		sidecar, ok := pickSidecar(img, sidecars)
		if !ok {
			return nil, &PairingError{Dir: dir, File: img, Reason: "image has no sidecar"}
		}
		if prev, taken := owner[sidecar]; taken {
			return nil, &PairingError{Dir: dir, File: sidecar,
				Reason: fmt.Sprintf("sidecar claimed by both %s and %s", prev, img)}
		}
		owner[sidecar] = img
		sidecars[sidecar] = true
		pairs = append(pairs, RelatedImage{
			Key:         img,
			ImagePath:   filepath.Join(dir, img),
			SidecarPath: filepath.Join(dir, sidecar),
		})
	}

	var orphans []string
	for name, used := range sidecars {
		if !used {
			orphans = append(orphans, name)
		}
	}
	if len(orphans) > 0 {
		sort.Strings(orphans)
		return nil, &PairingError{Dir: dir, File: orphans[0], Reason: "sidecar has no image"}
	}

	return pairs, nil
}

func pickSidecar(img string, sidecars map[string]bool) (string, bool) {
	if _, ok := sidecars[img+sidecarExt]; ok {
		return img + sidecarExt, true
	}
	base := strings.TrimSuffix(img, filepath.Ext(img)) + sidecarExt
	if _, ok := sidecars[base]; ok {
		return base, true
	}
	return "", false
}

// ReadSidecar loads a sidecar. A missing name defaults to the image file
// name and a missing meta to {}.
func ReadSidecar(pair RelatedImage) (ImageSidecar, error) {
	data, err := os.ReadFile(pair.SidecarPath)
	if err != nil {
		return ImageSidecar{}, fmt.Errorf("reading sidecar: %w", err)
	}
	var sc ImageSidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return ImageSidecar{}, fmt.Errorf("%s: invalid sidecar: %w", pair.SidecarPath, err)
	}
	if sc.Name == "" {
		sc.Name = pair.Key
	}
	if len(bytes.TrimSpace(sc.Meta)) == 0 || bytes.Equal(bytes.TrimSpace(sc.Meta), []byte("null")) {
		sc.Meta = json.RawMessage("{}")
	}
	return sc, nil
}

// Package registry enumerates and resolves checkpoint files under one or
// more models directories.
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DiffusionModels is the folder holding diffusion checkpoints. Files under
// the legacy "unet" directory are listed under it as well.
const DiffusionModels = "diffusion_models"

var (
	ErrModelNotFound = errors.New("model not found")
	ErrUnknownFolder = errors.New("unknown model folder")
	ErrInvalidName   = errors.New("invalid model name")
)

var folderDirs = map[string][]string{
	DiffusionModels: {"diffusion_models", "unet"},
}

var extensions = []string{".safetensors", ".sft"}

type Registry struct {
	roots []string
}

// New returns a registry over the given models directories, searched in order.
// Empty entries are ignored.
func New(roots ...string) *Registry {
	r := &Registry{}
	for _, root := range roots {
		if root = strings.TrimSpace(root); root != "" {
			r.roots = append(r.roots, filepath.Clean(root))
		}
	}
	return r
}

// Folders returns the known folder names.
func Folders() []string {
	names := make([]string, 0, len(folderDirs))
	for name := range folderDirs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns the checkpoint names in folder, relative to the folder
// directory, slash-separated and sorted. Missing directories are skipped.
func (r *Registry) List(folder string) ([]string, error) {
	dirs, ok := folderDirs[folder]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownFolder, folder)
	}
	seen := make(map[string]struct{})
	for _, root := range r.roots {
		for _, sub := range dirs {
			base := filepath.Join(root, sub)
			err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					if path == base && errors.Is(err, fs.ErrNotExist) {
						return fs.SkipDir
					}
					return err
				}
				if d.IsDir() || !hasModelExt(d.Name()) {
					return nil
				}
				rel, err := filepath.Rel(base, path)
				if err != nil {
					return err
				}
				seen[filepath.ToSlash(rel)] = struct{}{}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("list %s: %w", base, err)
			}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Resolve returns the path of name in folder from the first root that holds it.
func (r *Registry) Resolve(folder, name string) (string, error) {
	dirs, ok := folderDirs[folder]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownFolder, folder)
	}
	name = strings.TrimSpace(name)
	local := filepath.FromSlash(name)
	if name == "" || !filepath.IsLocal(local) {
		return "", fmt.Errorf("%w %q", ErrInvalidName, name)
	}
	for _, root := range r.roots {
		for _, sub := range dirs {
			path := filepath.Join(root, sub, local)
			st, err := os.Stat(path)
			if err == nil && st.Mode().IsRegular() {
				return path, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s/%s", ErrModelNotFound, folder, name)
}

func hasModelExt(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range extensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

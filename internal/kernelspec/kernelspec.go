// Package kernelspec discovers installed Jupyter kernelspecs.
package kernelspec

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"pkt.systems/kernelx/schema"
	"pkt.systems/pslog"
)

const specFile = "kernel.json"

// Registry resolves kernelspecs from an ordered list of data directories.
// Earlier directories shadow later ones.
type Registry struct {
	dirs []string
	log  pslog.Logger
}

// NewRegistry constructs a Registry that searches extra before the standard
// Jupyter data directories.
func NewRegistry(extra []string, logger pslog.Logger) *Registry {
	return &Registry{dirs: SearchDirs(extra), log: logger}
}

// SearchDirs returns the data directories scanned for kernels/<name>, in
// priority order and without duplicates.
func SearchDirs(extra []string) []string {
	var dirs []string
	dirs = append(dirs, extra...)
	if value := os.Getenv("JUPYTER_PATH"); value != "" {
		dirs = append(dirs, filepath.SplitList(value)...)
	}
	if value := os.Getenv("JUPYTER_DATA_DIR"); value != "" {
		dirs = append(dirs, value)
	} else if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".local", "share", "jupyter"))
	}
	dirs = append(dirs, "/usr/local/share/jupyter", "/usr/share/jupyter")

	seen := make(map[string]struct{}, len(dirs))
	out := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			continue
		}
		dir = filepath.Clean(dir)
		if _, ok := seen[dir]; ok {
			continue
		}
		seen[dir] = struct{}{}
		out = append(out, dir)
	}
	return out
}

// Dirs returns the search directories.
func (r *Registry) Dirs() []string {
	return append([]string(nil), r.dirs...)
}

// List returns every installed kernelspec sorted by name. Malformed specs are
// skipped.
func (r *Registry) List() ([]schema.KernelSpecification, error) {
	found := make(map[schema.KernelName]schema.KernelSpecification)
	for _, dir := range r.dirs {
		root := filepath.Join(dir, "kernels")
		entries, err := os.ReadDir(root)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				r.warn("kernelspec scan failed", "dir", root, "err", err)
			}
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			name := schema.KernelName(entry.Name())
			if _, ok := found[name]; ok {
				continue
			}
			spec, err := Load(filepath.Join(root, entry.Name()))
			if err != nil {
				r.warn("kernelspec load failed", "kernel", name, "err", err)
				continue
			}
			found[name] = spec
		}
	}
	specs := make([]schema.KernelSpecification, 0, len(found))
	for _, spec := range found {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs, nil
}

// Find returns the first kernelspec named name.
func (r *Registry) Find(name schema.KernelName) (schema.KernelSpecification, error) {
	if strings.TrimSpace(string(name)) == "" {
		return schema.KernelSpecification{}, fmt.Errorf("%w: empty name", schema.ErrKernelNotFound)
	}
	for _, dir := range r.dirs {
		resource := filepath.Join(dir, "kernels", string(name))
		spec, err := Load(resource)
		if err == nil {
			return spec, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			r.warn("kernelspec load failed", "kernel", name, "err", err)
		}
	}
	return schema.KernelSpecification{}, fmt.Errorf("%w: %s", schema.ErrKernelNotFound, name)
}

// Load reads resourceDir/kernel.json. The kernel name is the directory name.
func Load(resourceDir string) (schema.KernelSpecification, error) {
	data, err := os.ReadFile(filepath.Join(resourceDir, specFile))
	if err != nil {
		return schema.KernelSpecification{}, err
	}
	var spec schema.KernelSpecification
	if err := json.Unmarshal(data, &spec); err != nil {
		return schema.KernelSpecification{}, fmt.Errorf("%w: %s: %v", schema.ErrInvalidKernelSpec, resourceDir, err)
	}
	spec.Name = schema.KernelName(filepath.Base(resourceDir))
	spec.ResourceDir = resourceDir
	if spec.Kind == "" {
		spec.Kind = schema.KernelKindLocal
	}
	if err := spec.Validate(); err != nil && spec.Kind == schema.KernelKindLocal {
		return schema.KernelSpecification{}, err
	}
	return spec, nil
}

func (r *Registry) warn(msg string, keyvals ...any) {
	if r.log != nil {
		r.log.Warn(msg, keyvals...)
	}
}

package clients

import (
	"reflect"
	"sort"
	"strings"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/sets"
)

// PatchOp is a JSON patch (RFC 6902) operation name.
type PatchOp string

const (
	AddOp     PatchOp = "add"
	ReplaceOp PatchOp = "replace"
	RemoveOp  PatchOp = "remove"
)

// PatchOperation is one entry of a JSON patch document. It can be passed
// wherever gophercloud expects a node or port patch.
type PatchOperation struct {
	Op    PatchOp `json:"op"`
	Path  string  `json:"path"`
	Value any     `json:"value,omitempty"`
}

func (p PatchOperation) ToMap() map[string]any {
	m := map[string]any{
		"op":   string(p.Op),
		"path": p.Path,
	}
	if p.Op != RemoveOp {
		m["value"] = p.Value
	}
	return m
}

func (p PatchOperation) ToNodeUpdateMap() (map[string]any, error) {
	return p.ToMap(), nil
}

func (p PatchOperation) ToPortUpdateMap() map[string]any {
	return p.ToMap()
}

// Add builds an explicit add operation.
func Add(path string, value any) PatchOperation {
	return PatchOperation{Op: AddOp, Path: normalisePath(path), Value: value}
}

// Remove builds an explicit remove operation.
func Remove(path string) PatchOperation {
	return PatchOperation{Op: RemoveOp, Path: normalisePath(path)}
}

// MakePatch turns a sparse, nested update into patch operations. Nested
// maps extend the path unless the map's own path is allowed, in which case
// it is replaced as a whole. Nil values are removed, other values are
// replaced, and paths outside allowed are dropped. The result is sorted by
// path.
func MakePatch(allowed sets.Set[string], updates map[string]any) []PatchOperation {
	allowedPaths := sets.New[string]()
	for p := range allowed {
		allowedPaths.Insert(strings.Trim(p, "/"))
	}

	var patch []PatchOperation
	var walk func(prefix string, values map[string]any)
	walk = func(prefix string, values map[string]any) {
		for name, value := range values {
			path := prefix + name
			if allowedPaths.Has(path) {
				if value == nil {
					patch = append(patch, PatchOperation{Op: RemoveOp, Path: "/" + path})
				} else {
					patch = append(patch, PatchOperation{Op: ReplaceOp, Path: "/" + path, Value: value})
				}
				continue
			}
			if nested, ok := value.(map[string]any); ok {
				walk(path+"/", nested)
			}
		}
	}
	walk("", updates)

	sort.Slice(patch, func(i, j int) bool {
		return patch[i].Path < patch[j].Path
	})
	return patch
}

// Paths lists the paths touched by a patch.
func Paths(patch []PatchOperation) []string {
	paths := make([]string, 0, len(patch))
	for _, p := range patch {
		paths = append(paths, p.Path)
	}
	return paths
}

// LogPatch logs each operation with secrets masked.
func LogPatch(log logr.Logger, patch []PatchOperation) {
	for _, p := range patch {
		if p.Op == RemoveOp {
			log.Info("removing option data", "path", p.Path)
			continue
		}
		log.Info("updating option data", "path", p.Path, "op", p.Op, "value", sanitisedValue(p.Path, p.Value))
	}
}

func normalisePath(path string) string {
	return "/" + strings.Trim(path, "/")
}

func sanitisedValue(path string, data any) any {
	if strings.Contains(path, "password") {
		return "<redacted>"
	}
	if data == nil {
		return nil
	}
	dataType := reflect.TypeOf(data)
	if dataType.Kind() != reflect.Map ||
		dataType.Key().Kind() != reflect.String ||
		!reflect.TypeOf("").AssignableTo(dataType.Elem()) {
		return data
	}

	value := reflect.ValueOf(data)
	safeValue := reflect.MakeMap(dataType)

	for _, k := range value.MapKeys() {
		safeDatumValue := value.MapIndex(k)
		if strings.Contains(k.String(), "password") {
			safeDatumValue = reflect.ValueOf("<redacted>")
		}
		safeValue.SetMapIndex(k, safeDatumValue)
	}

	return safeValue.Interface()
}

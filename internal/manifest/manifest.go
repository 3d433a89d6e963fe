package manifest

import (
	"archive/zip"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Set is an immutable collection of slash separated relative frame paths.
type Set struct {
	items map[string]struct{}
}

func NewSet(paths ...string) Set {
	items := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		items[p] = struct{}{}
	}
	return Set{items: items}
}

func (s Set) Len() int { return len(s.items) }

func (s Set) Contains(p string) bool {
	_, ok := s.items[p]
	return ok
}

// Sorted returns the members in lexicographic order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s.items))
	for p := range s.items {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Minus returns the members of s absent from other, sorted.
func (s Set) Minus(other Set) []string {
	out := []string{}
	for p := range s.items {
		if !other.Contains(p) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// LoadReference walks dir for .png files; the result is built once at start-up
// and shared read-only.
func LoadReference(dir string) (Set, error) {
	paths := []string{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isPNG(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return Set{}, eris.Wrapf(err, "manifest: walk reference dir %s", dir)
	}
	if len(paths) == 0 {
		return Set{}, eris.Errorf("manifest: reference dir %s holds no png frames", dir)
	}
	return NewSet(paths...), nil
}

// ReadArchive lists the .png entries of a zip file. Any failure to open or
// parse the archive is reported as ErrMalformed.
func ReadArchive(path string) (Set, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return Set{}, eris.Wrapf(ErrMalformed, "open %s: %v", filepath.Base(path), err)
	}
	defer reader.Close()
	paths := []string{}
	for _, file := range reader.File {
		if file.FileInfo().IsDir() || !isPNG(file.Name) {
			continue
		}
		paths = append(paths, strings.TrimPrefix(file.Name, "./"))
	}
	return NewSet(paths...), nil
}

func isPNG(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".png")
}

var ErrMalformed = eris.New("malformed zip archive")

type Kind int

const (
	Ok Kind = iota
	Missing
	Extra
	StructureMismatch
	Malformed
)

func (k Kind) String() string {
	switch k {
	case Ok:
		return "ok"
	case Missing:
		return "missing"
	case Extra:
		return "extra"
	case StructureMismatch:
		return "structure_mismatch"
	case Malformed:
		return "malformed"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Outcome is the verdict on an uploaded archive. Example and Count are set for
// Missing and Extra; StructureMismatch only carries Example.
type Outcome struct {
	Kind    Kind
	Example string
	Count   int
}

func (o Outcome) OK() bool { return o.Kind == Ok }

// Message is the submitter facing explanation of the outcome.
func (o Outcome) Message() string {
	switch o.Kind {
	case Ok:
		return ""
	case Missing:
		return fmt.Sprintf("Some test files appear to be missing! Please ensure that format is correct. "+
			"%d file(s) missing. Example of missing file: %q", o.Count, o.Example)
	case Extra:
		return fmt.Sprintf("Unexpected additional files found: %d extra file(s), such as %q", o.Count, o.Example)
	case StructureMismatch:
		return fmt.Sprintf("Submission does not follow correct directory structure. "+
			"Expected structure: <SCENE-NAME>/<FRAME-IDX>.png. Instead got frames such as %q", o.Example)
	default:
		return "Malformed ZIP file."
	}
}

// Validate compares the archive listing with the reference manifest. A nil
// archive stands for an unreadable zip.
func Validate(archive *Set, reference Set) Outcome {
	if archive == nil {
		return Outcome{Kind: Malformed}
	}
	switch {
	case archive.Len() < reference.Len():
		missing := reference.Minus(*archive)
		return Outcome{Kind: Missing, Example: first(missing), Count: len(missing)}
	case archive.Len() > reference.Len():
		extra := archive.Minus(reference)
		return Outcome{Kind: Extra, Example: first(extra), Count: len(extra)}
	}
	if unexpected := archive.Minus(reference); len(unexpected) > 0 {
		return Outcome{Kind: StructureMismatch, Example: unexpected[0]}
	}
	return Outcome{Kind: Ok}
}

// Check reads the zip at path and validates it in one step.
func Check(path string, reference Set) Outcome {
	archive, err := ReadArchive(path)
	if err != nil {
		return Validate(nil, reference)
	}
	return Validate(&archive, reference)
}

func first(items []string) string {
	if len(items) == 0 {
		return ""
	}
	return items[0]
}

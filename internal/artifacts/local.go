package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"hitscribe/internal/fileutil"
)

// Local keeps artifacts under <root>/<job_id>/<name>.
type Local struct {
	root string
}

// NewLocal returns a store rooted at root.
func NewLocal(root string) *Local {
	return &Local{root: root}
}

// Root returns the base directory.
func (l *Local) Root() string {
	return l.root
}

func (l *Local) PathFor(jobID, name string) Locator {
	return Locator(filepath.Join(l.root, jobID, name))
}

func (l *Local) Save(_ context.Context, jobID, name string, data []byte) (Locator, error) {
	if err := checkKey(jobID, name); err != nil {
		return "", err
	}
	loc := l.PathFor(jobID, name)
	if err := fileutil.WriteAtomic(loc.Path(), data); err != nil {
		return "", fmt.Errorf("save artifact %s/%s: %w", jobID, name, err)
	}
	return loc, nil
}

func (l *Local) Import(_ context.Context, jobID, name, srcPath string) (Locator, error) {
	if err := checkKey(jobID, name); err != nil {
		return "", err
	}
	loc := l.PathFor(jobID, name)
	if filepath.Clean(srcPath) == loc.Path() {
		return loc, nil
	}
	if _, err := fileutil.CopyAtomic(srcPath, loc.Path()); err != nil {
		return "", fmt.Errorf("import artifact %s/%s: %w", jobID, name, err)
	}
	return loc, nil
}

func (l *Local) Read(_ context.Context, loc Locator) ([]byte, error) {
	data, err := os.ReadFile(loc.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, loc.Name())
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

func (l *Local) Exists(_ context.Context, loc Locator) (bool, error) {
	return fileutil.NonEmpty(loc.Path())
}

func (l *Local) Local(ctx context.Context, loc Locator) (string, error) {
	ok, err := l.Exists(ctx, loc)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, loc.Name())
	}
	return loc.Path(), nil
}

func (l *Local) List(_ context.Context, jobID string) ([]Locator, error) {
	if err := validateSegment("job id", jobID); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(l.root, jobID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list artifacts for %s: %w", jobID, err)
	}
	var out []Locator
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		out = append(out, l.PathFor(jobID, entry.Name()))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// DeleteAll removes the job directory and reports how many artifacts it held.
func (l *Local) DeleteAll(ctx context.Context, jobID string) (int, error) {
	listed, err := l.List(ctx, jobID)
	if err != nil {
		return 0, err
	}
	if err := os.RemoveAll(filepath.Join(l.root, jobID)); err != nil {
		return 0, fmt.Errorf("delete artifacts for %s: %w", jobID, err)
	}
	return len(listed), nil
}

func (l *Local) Check(context.Context) error {
	if err := os.MkdirAll(l.root, 0o755); err != nil {
		return fmt.Errorf("artifact root: %w", err)
	}
	return nil
}

func checkKey(jobID, name string) error {
	if err := validateSegment("job id", jobID); err != nil {
		return err
	}
	return validateSegment("name", name)
}

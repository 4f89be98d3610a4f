package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"hitscribe/internal/fileutil"
	"hitscribe/internal/logging"
)

// Object persists artifacts to a bucket under <prefix>/<job_id>/<name> and
// keeps a local mirror so stages can work on plain files. The bucket is the
// source of truth; the mirror is rehydrated on demand.
type Object struct {
	bucket Bucket
	prefix string
	mirror *Local
	logger *slog.Logger
}

// NewObject returns an object-backed store mirrored into mirrorDir.
func NewObject(bucket Bucket, prefix, mirrorDir string, logger *slog.Logger) *Object {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Object{
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		mirror: NewLocal(mirrorDir),
		logger: logging.NewComponentLogger(logger, "artifacts"),
	}
}

// Key returns the object key for a job artifact.
func (o *Object) Key(jobID, name string) string {
	return path.Join(o.prefix, jobID, name)
}

func (o *Object) jobPrefix(jobID string) string {
	return path.Join(o.prefix, jobID) + "/"
}

func (o *Object) PathFor(jobID, name string) Locator {
	return o.mirror.PathFor(jobID, name)
}

func (o *Object) split(loc Locator) (string, string, error) {
	rel, err := filepath.Rel(o.mirror.Root(), loc.Path())
	if err != nil {
		return "", "", fmt.Errorf("locator %s outside mirror: %w", loc, err)
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("locator %s outside mirror", loc)
	}
	if err := checkKey(parts[0], parts[1]); err != nil {
		return "", "", err
	}
	return parts[0], parts[1], nil
}

func (o *Object) Save(ctx context.Context, jobID, name string, data []byte) (Locator, error) {
	if err := checkKey(jobID, name); err != nil {
		return "", err
	}
	key := o.Key(jobID, name)
	if err := o.bucket.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentTypeFor(name)); err != nil {
		return "", err
	}
	return o.mirror.Save(ctx, jobID, name, data)
}

func (o *Object) Import(ctx context.Context, jobID, name, srcPath string) (Locator, error) {
	if err := checkKey(jobID, name); err != nil {
		return "", err
	}
	file, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("open import source: %w", err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("stat import source: %w", err)
	}
	if err := o.bucket.Put(ctx, o.Key(jobID, name), file, info.Size(), contentTypeFor(name)); err != nil {
		return "", err
	}
	return o.mirror.Import(ctx, jobID, name, srcPath)
}

func (o *Object) Read(ctx context.Context, loc Locator) ([]byte, error) {
	local, err := o.Local(ctx, loc)
	if err != nil {
		return nil, err
	}
	return o.mirror.Read(ctx, Locator(local))
}

func (o *Object) Exists(ctx context.Context, loc Locator) (bool, error) {
	jobID, name, err := o.split(loc)
	if err != nil {
		return false, err
	}
	if ok, err := o.mirror.Exists(ctx, loc); err == nil && ok {
		return true, nil
	}
	info, err := o.bucket.Stat(ctx, o.Key(jobID, name))
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return false, nil
		}
		return false, err
	}
	return info.Size > 0, nil
}

// Local returns the mirror path, downloading the object first when the
// mirror copy is missing.
func (o *Object) Local(ctx context.Context, loc Locator) (string, error) {
	jobID, name, err := o.split(loc)
	if err != nil {
		return "", err
	}
	if ok, err := o.mirror.Exists(ctx, loc); err == nil && ok {
		return loc.Path(), nil
	}
	body, err := o.bucket.Get(ctx, o.Key(jobID, name))
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", err
	}
	defer body.Close()
	if _, err := fileutil.StreamAtomic(loc.Path(), body); err != nil {
		return "", fmt.Errorf("rehydrate %s/%s: %w", jobID, name, err)
	}
	o.logger.Debug("artifact rehydrated from bucket",
		logging.String(logging.FieldJobID, jobID),
		logging.String("artifact", name),
	)
	return loc.Path(), nil
}

func (o *Object) List(ctx context.Context, jobID string) ([]Locator, error) {
	if err := validateSegment("job id", jobID); err != nil {
		return nil, err
	}
	objects, err := o.bucket.List(ctx, o.jobPrefix(jobID))
	if err != nil {
		return nil, err
	}
	out := make([]Locator, 0, len(objects))
	for _, obj := range objects {
		out = append(out, o.PathFor(jobID, path.Base(obj.Key)))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// DeleteAll removes the job's objects and mirror directory. Failures on
// either side are logged and skipped; the count covers distinct artifacts
// removed from at least one side.
func (o *Object) DeleteAll(ctx context.Context, jobID string) (int, error) {
	if err := validateSegment("job id", jobID); err != nil {
		return 0, err
	}
	removed := make(map[string]struct{})
	objects, err := o.bucket.List(ctx, o.jobPrefix(jobID))
	if err != nil {
		logging.WarnWithContext(o.logger, "artifact listing failed during delete", "artifact_delete_failed",
			logging.String(logging.FieldJobID, jobID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "remote objects for this job may remain until the next sweep"),
		)
	}
	for _, obj := range objects {
		if err := o.bucket.Remove(ctx, obj.Key); err != nil {
			logging.WarnWithContext(o.logger, "artifact object delete failed", "artifact_delete_failed",
				logging.String(logging.FieldJobID, jobID),
				logging.String("key", obj.Key),
				logging.Error(err),
			)
			continue
		}
		removed[path.Base(obj.Key)] = struct{}{}
	}

	local, err := o.mirror.List(ctx, jobID)
	if err != nil {
		logging.WarnWithContext(o.logger, "artifact mirror listing failed", "artifact_delete_failed",
			logging.String(logging.FieldJobID, jobID),
			logging.Error(err),
		)
	}
	if _, err := o.mirror.DeleteAll(ctx, jobID); err != nil {
		logging.WarnWithContext(o.logger, "artifact mirror delete failed", "artifact_delete_failed",
			logging.String(logging.FieldJobID, jobID),
			logging.Error(err),
		)
	} else {
		for _, loc := range local {
			removed[loc.Name()] = struct{}{}
		}
	}
	return len(removed), nil
}

func (o *Object) Check(ctx context.Context) error {
	if err := o.mirror.Check(ctx); err != nil {
		return err
	}
	return o.bucket.Check(ctx)
}

package ml

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"
)

// ModelSpec locates one ensemble member's artifacts.
type ModelSpec struct {
	Name       string
	Path       string
	ScalerPath string
	Kind       Kind
}

// ArtifactSource fetches artifact bytes by location.
type ArtifactSource interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
}

// FileSource reads artifacts from the local filesystem.
type FileSource struct{}

// Fetch reads the file at location.
func (FileSource) Fetch(_ context.Context, location string) ([]byte, error) {
	return os.ReadFile(location)
}

// Registry owns the serving ensemble and every native resource its artifacts
// hold. The current ensemble is published through an atomic pointer; readers
// never observe a partially built ensemble.
//
// An ensemble replaced by Reload or Swap keeps its resources while any request
// that acquired it is still voting, and releases them when the last one finishes.
type Registry struct {
	current atomic.Pointer[generation]
	source  ArtifactSource
	runtime *Runtime

	mu        sync.Mutex
	retired   []*generation // replaced but still acquired
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// generation is one published ensemble and the resources only it uses. refs,
// retired and resources are guarded by Registry.mu.
type generation struct {
	ens       *Ensemble
	resources []Releaser
	refs      int
	retired   bool
}

// LoadOption configures Load.
type LoadOption func(*Registry)

// WithSource sets where artifacts are fetched from. Defaults to FileSource.
func WithSource(src ArtifactSource) LoadOption {
	return func(r *Registry) {
		if src != nil {
			r.source = src
		}
	}
}

// WithRuntime sets the ONNX runtime handle. The registry takes ownership and
// releases it on Close or on a failed Load.
func WithRuntime(rt *Runtime) LoadOption {
	return func(r *Registry) {
		if rt != nil {
			r.runtime = rt
		}
	}
}

// SpecsFromLists zips parallel path, scaler path and kind lists into specs.
// The lists must have the same non-zero length.
func SpecsFromLists(paths, scalerPaths []string, kinds []Kind) ([]ModelSpec, error) {
	if len(paths) != len(scalerPaths) || len(paths) != len(kinds) {
		return nil, errors.Wrapf(ErrLoadFailure, "got %d model paths, %d scaler paths and %d kinds",
			len(paths), len(scalerPaths), len(kinds))
	}
	if len(paths) == 0 {
		return nil, errors.Wrap(ErrLoadFailure, "no models configured")
	}

	specs := make([]ModelSpec, len(paths))
	for i := range paths {
		specs[i] = ModelSpec{Path: paths[i], ScalerPath: scalerPaths[i], Kind: kinds[i]}
	}
	return specs, nil
}

// LoadFromLists is Load over parallel lists.
func LoadFromLists(ctx context.Context, paths, scalerPaths []string, kinds []Kind, passScore int, opts ...LoadOption) (*Registry, error) {
	specs, err := SpecsFromLists(paths, scalerPaths, kinds)
	if err != nil {
		return nil, err
	}
	return Load(ctx, specs, passScore, opts...)
}

// Load fetches and decodes every artifact and builds the ensemble. Any failure
// releases what was already acquired and returns an error marked ErrLoadFailure;
// a partially loaded ensemble is never returned.
func Load(ctx context.Context, specs []ModelSpec, passScore int, opts ...LoadOption) (*Registry, error) {
	r := &Registry{source: FileSource{}}
	for _, opt := range opts {
		opt(r)
	}
	if r.runtime == nil {
		r.runtime = NewRuntime("")
	}

	ens, resources, err := r.build(ctx, specs, passScore)
	if err != nil {
		if rerr := r.runtime.Release(); rerr != nil {
			log.Warn().Err(rerr).Msg("failed to release runtime after load failure")
		}
		return nil, err
	}

	r.current.Store(&generation{ens: ens, resources: resources})
	log.Info().Int("models", ens.Size()).Int("pass_score", ens.PassScore()).Int("features", ens.NFeatures()).
		Msg("ensemble loaded")
	return r, nil
}

func (r *Registry) build(ctx context.Context, specs []ModelSpec, passScore int) (*Ensemble, []Releaser, error) {
	if len(specs) == 0 {
		return nil, nil, errors.Wrap(ErrLoadFailure, "no models configured")
	}
	if passScore < 1 || passScore > len(specs) {
		return nil, nil, errors.Wrapf(ErrLoadFailure, "pass score %d outside [1, %d]", passScore, len(specs))
	}

	var acquired []Releaser
	fail := func(err error) (*Ensemble, []Releaser, error) {
		releaseAll(acquired)
		return nil, nil, errors.Mark(err, ErrLoadFailure)
	}

	members := make([]Member, 0, len(specs))
	for i, spec := range specs {
		if err := ctx.Err(); err != nil {
			return fail(errors.Wrap(err, "load canceled"))
		}
		name := spec.Name
		if name == "" {
			name = nameFromPath(spec.Path, i)
		}
		if spec.Path == "" || spec.ScalerPath == "" {
			return fail(errors.Newf("model %d (%s): classifier and scaler locations are required", i, name))
		}

		data, err := r.source.Fetch(ctx, spec.Path)
		if err != nil {
			return fail(errors.Wrapf(err, "model %d (%s): fetch classifier %s", i, name, spec.Path))
		}
		c, err := DecodeClassifier(data, r.runtime)
		if err != nil {
			return fail(errors.Wrapf(err, "model %d (%s): decode classifier %s", i, name, spec.Path))
		}
		if rel, ok := c.(Releaser); ok {
			acquired = append(acquired, rel)
		}

		data, err = r.source.Fetch(ctx, spec.ScalerPath)
		if err != nil {
			return fail(errors.Wrapf(err, "model %d (%s): fetch scaler %s", i, name, spec.ScalerPath))
		}
		s, err := DecodeScaler(data)
		if err != nil {
			return fail(errors.Wrapf(err, "model %d (%s): decode scaler %s", i, name, spec.ScalerPath))
		}

		members = append(members, Member{Name: name, Classifier: c, Scaler: s, Kind: spec.Kind})
		log.Debug().Str("model", name).Str("kind", spec.Kind.String()).Str("path", spec.Path).
			Str("scaler", spec.ScalerPath).Msg("model loaded")
	}

	ens, err := NewEnsemble(members, passScore)
	if err != nil {
		return fail(err)
	}
	return ens, acquired, nil
}

// Ensemble returns the ensemble currently used for voting. It does not pin the
// ensemble; callers that vote should use Acquire.
func (r *Registry) Ensemble() *Ensemble {
	if g := r.current.Load(); g != nil {
		return g.ens
	}
	return nil
}

// Acquire returns the current ensemble and a func that must be called once the
// caller is done voting on it. Until then a Reload or Swap will not release the
// ensemble's resources. Acquire returns nil after Close.
func (r *Registry) Acquire() (*Ensemble, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := r.current.Load()
	if r.closed || g == nil {
		return nil, func() {}
	}
	g.refs++
	return g.ens, sync.OnceFunc(func() { r.release(g) })
}

func (r *Registry) release(g *generation) {
	r.mu.Lock()
	g.refs--
	var resources []Releaser
	if g.retired && g.refs == 0 {
		resources = g.resources
		g.resources = nil
		for i, other := range r.retired {
			if other == g {
				r.retired = append(r.retired[:i], r.retired[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()
	releaseAll(resources)
}

// publish makes g current and retires the previous generation. It returns the
// previous generation and any resources that are now unreferenced, to be
// released after r.mu is unlocked. r.mu must be held.
func (r *Registry) publish(g *generation) (*generation, []Releaser) {
	old := r.current.Swap(g)
	if old == nil {
		return nil, nil
	}
	old.retired = true
	if old.refs > 0 {
		r.retired = append(r.retired, old)
		return old, nil
	}
	resources := old.resources
	old.resources = nil
	return old, resources
}

// Swap publishes ens and returns the previous ensemble. The previous ensemble's
// resources are released once no acquired request still uses it.
func (r *Registry) Swap(ens *Ensemble) *Ensemble {
	r.mu.Lock()
	old, resources := r.publish(&generation{ens: ens})
	r.mu.Unlock()
	releaseAll(resources)
	if old == nil {
		return nil
	}
	return old.ens
}

// Reload builds a new ensemble from specs and swaps it in. The previous
// ensemble's native resources are released as soon as the requests that
// acquired it finish. On failure the current ensemble is kept.
func (r *Registry) Reload(ctx context.Context, specs []ModelSpec, passScore int) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return errors.New("registry closed")
	}

	ens, resources, err := r.build(ctx, specs, passScore)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		releaseAll(resources)
		return errors.New("registry closed")
	}
	_, stale := r.publish(&generation{ens: ens, resources: resources})
	r.mu.Unlock()

	releaseAll(stale)
	log.Info().Int("models", ens.Size()).Int("pass_score", ens.PassScore()).Msg("ensemble reloaded")
	return nil
}

// Close releases every artifact resource, including those of replaced ensembles
// still acquired, and the runtime. It is safe to call more than once and from
// several goroutines.
func (r *Registry) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		var resources []Releaser
		for _, g := range append(r.retired, r.current.Load()) {
			if g != nil {
				resources = append(resources, g.resources...)
				g.resources = nil
			}
		}
		r.retired = nil
		r.mu.Unlock()

		var errs error
		for _, res := range resources {
			errs = errors.CombineErrors(errs, res.Release())
		}
		errs = errors.CombineErrors(errs, r.runtime.Release())
		r.closeErr = errs
	})
	return r.closeErr
}

// Closed reports whether Close has been called.
func (r *Registry) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func releaseAll(resources []Releaser) {
	for _, res := range resources {
		if err := res.Release(); err != nil {
			log.Warn().Err(err).Msg("failed to release model resource")
		}
	}
}

func nameFromPath(path string, i int) string {
	base := filepath.Base(path)
	if idx := strings.LastIndex(base, "#"); idx >= 0 {
		base = base[idx+1:]
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == "/" {
		return "model_" + strconv.Itoa(i)
	}
	return base
}

package ml

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"
)

// Runtime owns the process-wide ONNX Runtime environment. The environment is
// initialised the first time an ONNX artifact is loaded and destroyed exactly
// once by Release.
type Runtime struct {
	mu       sync.Mutex
	libPath  string
	owned    bool
	released bool
}

// NewRuntime returns a handle that loads the ONNX Runtime shared library from
// libPath. An empty path leaves the library's default search in place.
func NewRuntime(libPath string) *Runtime {
	return &Runtime{libPath: libPath}
}

func (rt *Runtime) acquire() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.released {
		return errors.New("onnx runtime already released")
	}
	if rt.owned || ort.IsInitialized() {
		return nil
	}

	if rt.libPath != "" {
		ort.SetSharedLibraryPath(rt.libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "could not init ONNX Runtime")
	}
	rt.owned = true
	log.Info().Str("lib", rt.libPath).Msg("ONNX Runtime environment initialized")
	return nil
}

// Active reports whether this handle initialised the environment and has not released it.
func (rt *Runtime) Active() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.owned && !rt.released
}

// Release destroys the environment if this handle created it. Further calls are no-ops.
func (rt *Runtime) Release() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.released {
		return nil
	}
	rt.released = true
	if !rt.owned {
		return nil
	}
	if err := ort.DestroyEnvironment(); err != nil {
		return errors.Wrap(err, "error destroying onnx env")
	}
	log.Info().Msg("ONNX Runtime environment destroyed")
	return nil
}

package plugin

import (
	"os"
	"os/exec"
)

// WorkerResolver resolves the executable used to launch a plugin worker
// when a manifest's Command is empty. The default worker binary path is
// looked up once and cached for the lifetime of the resolver.
type WorkerResolver struct {
	binaryName  string
	envOverride string
	args        []string
	resolved    string
}

// NewWorkerResolver builds a resolver for the default worker binary. Name
// is the built-in binary name looked up on PATH; envOverride, when set in
// the process environment, takes precedence over name.
func NewWorkerResolver(name, envOverride string, args []string) *WorkerResolver {
	return &WorkerResolver{binaryName: name, envOverride: envOverride, args: args}
}

// Resolve returns the full command line to launch for manifest. A
// non-empty manifest.Command always wins; otherwise the resolver falls
// back to its cached default worker binary.
func (r *WorkerResolver) Resolve(manifest PluginManifest) ([]string, error) {
	if len(manifest.Command) > 0 {
		return manifest.Command, nil
	}

	path, err := r.defaultBinary()
	if err != nil {
		return nil, err
	}
	cmd := make([]string, 0, 1+len(r.args))
	cmd = append(cmd, path)
	cmd = append(cmd, r.args...)
	return cmd, nil
}

func (r *WorkerResolver) defaultBinary() (string, error) {
	if r.resolved != "" {
		return r.resolved, nil
	}

	if r.envOverride != "" {
		if override := os.Getenv(r.envOverride); override != "" {
			r.resolved = override
			return r.resolved, nil
		}
	}

	if r.binaryName == "" {
		return "", NewRuntimeError(CodeInvalidConfig, "no default worker binary name configured")
	}

	path, err := exec.LookPath(r.binaryName)
	if err != nil {
		return "", WrapRuntimeError(CodeInvalidConfig, err, "resolve default worker binary "+r.binaryName)
	}
	r.resolved = path
	return r.resolved, nil
}

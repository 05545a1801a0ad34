package preflight

import (
	"context"
	"errors"
	"fmt"

	"tubemux/internal/config"
	"tubemux/internal/services"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name      string `json:"name"`
	Path      string `json:"path,omitempty"`
	Passed    bool   `json:"passed"`
	Detail    string `json:"detail"`
	FreeBytes uint64 `json:"free_bytes,omitempty"`
}

// RunAll executes the directory checks for the given config.
func RunAll(_ context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	return []Result{
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
		CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
		CheckDirectoryAccess("Bundle directory", cfg.Paths.BundleDir),
	}
}

// Failed joins the details of every failed result into a configuration
// error, or returns nil when all checks passed.
func Failed(results []Result) error {
	var errs []error
	for _, r := range results {
		if !r.Passed {
			errs = append(errs, fmt.Errorf("%s: %s", r.Name, r.Detail))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return services.Wrap(services.ErrConfiguration, "preflight", "run checks", "directory checks failed", errors.Join(errs...))
}

package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"tubemux/internal/config"
	"tubemux/internal/services"
)

// Requirement defines an external binary tubemux shells out to.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Path        string `json:"path,omitempty"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"optional,omitempty"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// Required lists the binaries the daemon needs for the given configuration.
func Required(cfg *config.Config) []Requirement {
	source, muxer := "yt-dlp", "ffmpeg"
	if cfg != nil {
		source, muxer = cfg.SourceBinary(), cfg.MuxerBinary()
	}
	return []Requirement{
		{Name: "yt-dlp", Command: source, Description: "Resolves sources and streams encodings"},
		{Name: "FFmpeg", Command: muxer, Description: "Merges separate video and audio streams"},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		switch path, err := exec.LookPath(cmd); {
		case cmd == "":
			status.Detail = "command not configured"
		case err != nil:
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
		default:
			status.Available = true
			status.Path = path
		}
		results = append(results, status)
	}
	return results
}

// MissingRequired returns a configuration error naming every unavailable
// non-optional dependency, or nil.
func MissingRequired(statuses []Status) error {
	var missing []string
	for _, status := range statuses {
		if status.Optional || status.Available {
			continue
		}
		missing = append(missing, fmt.Sprintf("%s (%s)", status.Name, status.Detail))
	}
	if len(missing) == 0 {
		return nil
	}
	return services.Wrap(services.ErrConfiguration, "deps", "check binaries", "missing dependencies: "+strings.Join(missing, ", "), nil)
}

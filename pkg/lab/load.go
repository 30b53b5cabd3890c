package lab

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/repx-org/repx/pkg/repxerr"
)

// metadataSuffix is stripped from the directory name holding metadata.json
// to recover the lab's content hash (repx-core/src/lab.rs).
const metadataSuffix = "-experiment-metadata-json"

// findMetadataPath locates metadata.json directly under labPath, or
// nested one level under labPath/revision/<hash-suffix>/metadata.json.
func findMetadataPath(labPath string) (string, bool) {
	direct := filepath.Join(labPath, "metadata.json")
	if info, err := os.Stat(direct); err == nil && !info.IsDir() {
		return direct, true
	}

	revisionDir := filepath.Join(labPath, "revision")
	entries, err := os.ReadDir(revisionDir)
	if err != nil || len(entries) == 0 {
		return "", false
	}
	nested := filepath.Join(revisionDir, entries[0].Name(), "metadata.json")
	if info, err := os.Stat(nested); err == nil && !info.IsDir() {
		return nested, true
	}
	return "", false
}

// Load reads and validates a lab directory, returning a fully populated,
// read-only Lab. It reproduces the integrity checks in
// repx-core/src/lab.rs::load_from_path: a jobs/ directory must exist,
// every job's package directory must exist, and every run's image
// artifact (if any) must exist.
func Load(labPath string) (*Lab, error) {
	info, err := os.Stat(labPath)
	if err != nil || !info.IsDir() {
		return nil, &repxerr.LabNotFoundError{Path: labPath}
	}

	metadataPath, ok := findMetadataPath(labPath)
	if !ok {
		return nil, &repxerr.MetadataNotFoundError{Path: labPath}
	}

	content, err := os.ReadFile(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", metadataPath, err)
	}

	var l Lab
	if err := json.Unmarshal(content, &l); err != nil {
		return nil, fmt.Errorf("parsing metadata.json: %w", err)
	}

	for jobID, job := range l.Jobs {
		job.PathInLab = filepath.Join("jobs", string(jobID))
		l.Jobs[jobID] = job
	}
	l.HostToolsDirName = "host-tools"

	parentDir := filepath.Dir(metadataPath)
	parentName := filepath.Base(parentDir)

	// Only the nested revision/<hash-suffix>/metadata.json layout carries
	// the content hash in its directory name; a direct metadata.json at
	// the lab root has no such suffix to recover, so the hash is left
	// empty (callers that need the hash -- submission planning -- must
	// use a revision-backed lab).
	if strings.HasSuffix(parentName, metadataSuffix) {
		hash := strings.TrimSuffix(parentName, metadataSuffix)
		if hash == "" {
			return nil, &repxerr.ConfigurationError{Message: fmt.Sprintf(
				"cannot determine unique lab hash: directory name %q yields an empty hash", parentName,
			)}
		}
		l.ContentHash = hash
	}

	jobsDir := filepath.Join(labPath, "jobs")
	if info, err := os.Stat(jobsDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("lab integrity check failed: %q directory not found in lab at %q", "jobs", labPath)
	}

	for _, run := range l.Runs {
		if run.Image == "" {
			continue
		}
		imagePath := filepath.Join(labPath, run.Image)
		if _, err := os.Stat(imagePath); err != nil {
			return nil, fmt.Errorf("lab integrity check failed: image file %q not found", imagePath)
		}
	}

	for jobID, job := range l.Jobs {
		pkgPath := filepath.Join(labPath, job.PathInLab)
		if info, err := os.Stat(pkgPath); err != nil || !info.IsDir() {
			return nil, fmt.Errorf("lab integrity check failed: job package directory %q not found for job %q", pkgPath, jobID)
		}
	}

	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("lab validation failed: %w", err)
	}

	return &l, nil
}

package instance

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Profile is the immutable configuration of one topic instance: where its
// papers live on disk, which vector collection it owns, and the limits its
// downloader and processor run under. Profiles are built once at startup by
// the config package and never mutated afterwards.
type Profile struct {
	Name          string
	StorageRoot   string
	Collection    string
	Categories    []string
	BatchSize     int
	MaxConcurrent int
	ChunkSize     int
	ChunkOverlap  int
	EmbeddingDim  int
}

// Storage layout relative to StorageRoot. Raw content and metadata are kept
// apart so the metadata file alone can serve as the dedup probe.
func (p Profile) PapersDir() string    { return filepath.Join(p.StorageRoot, "papers") }
func (p Profile) MetadataDir() string  { return filepath.Join(p.StorageRoot, "metadata") }
func (p Profile) ProcessedDir() string { return filepath.Join(p.StorageRoot, "processed") }
func (p Profile) ErrorsDir() string    { return filepath.Join(p.StorageRoot, "errors") }

// Validate checks the profile's own fields. Cross-profile rules (unique
// collection names) live in ValidateProfiles.
func (p Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	if p.StorageRoot == "" {
		return fmt.Errorf("profile %s: storage root is required", p.Name)
	}
	if p.Collection == "" {
		return fmt.Errorf("profile %s: collection is required", p.Name)
	}
	if p.BatchSize <= 0 {
		return fmt.Errorf("profile %s: batch_size must be positive, got %d", p.Name, p.BatchSize)
	}
	if p.MaxConcurrent <= 0 {
		return fmt.Errorf("profile %s: max_concurrent must be positive, got %d", p.Name, p.MaxConcurrent)
	}
	if p.ChunkSize <= 0 {
		return fmt.Errorf("profile %s: chunk_size must be positive, got %d", p.Name, p.ChunkSize)
	}
	if p.ChunkOverlap < 0 || p.ChunkOverlap >= p.ChunkSize {
		return fmt.Errorf("profile %s: chunk_overlap must be in [0, chunk_size), got %d", p.Name, p.ChunkOverlap)
	}
	if p.EmbeddingDim <= 0 {
		return fmt.Errorf("profile %s: embedding_dim must be positive, got %d", p.Name, p.EmbeddingDim)
	}
	for _, f := range p.Categories {
		if err := validateFilter(f); err != nil {
			return fmt.Errorf("profile %s: %w", p.Name, err)
		}
	}
	return nil
}

// validateFilter accepts exact category tags ("cs.AI") and prefix-wildcard
// families ("q-fin.*"). A bare "*" is rejected: an instance that wants
// everything should list its families explicitly.
func validateFilter(f string) error {
	if f == "" {
		return fmt.Errorf("empty category filter")
	}
	if f == "*" || f == ".*" {
		return fmt.Errorf("category filter %q is too broad", f)
	}
	if strings.HasSuffix(f, ".*") && strings.TrimSuffix(f, ".*") == "" {
		return fmt.Errorf("invalid category filter %q", f)
	}
	return nil
}

// MatchesCategory reports whether at least one of the item's category tags
// matches at least one filter entry. A wildcard entry "q-fin.*" matches any
// tag sharing the "q-fin." prefix; other entries match exactly. An empty
// filter list accepts everything.
func (p Profile) MatchesCategory(tags []string) bool {
	if len(p.Categories) == 0 {
		return true
	}
	for _, tag := range tags {
		for _, f := range p.Categories {
			if matchFilter(f, tag) {
				return true
			}
		}
	}
	return false
}

func matchFilter(filter, tag string) bool {
	if prefix, ok := strings.CutSuffix(filter, "*"); ok {
		return strings.HasPrefix(tag, prefix)
	}
	return filter == tag
}

// ValidateProfiles applies per-profile validation and rejects sets where two
// profiles share a name or a target collection. Collection sharing would
// break instance isolation in the vector store, so it fails fast at startup.
func ValidateProfiles(profiles []Profile) error {
	names := make(map[string]bool, len(profiles))
	collections := make(map[string]string, len(profiles))
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			return err
		}
		if names[p.Name] {
			return fmt.Errorf("duplicate instance name %q", p.Name)
		}
		names[p.Name] = true
		if owner, ok := collections[p.Collection]; ok {
			return fmt.Errorf("instances %s and %s share collection %q", owner, p.Name, p.Collection)
		}
		collections[p.Collection] = p.Name
	}
	return nil
}

package vectorstore

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/paperbase/paperbase/internal/instance"
)

// Service maps instances to their collections and enforces isolation: a
// document only ever lands in the collection named by its own instance, and
// the merged cross-instance search reads every collection without mutating
// any.
type Service struct {
	store       Store
	collections map[string]string // instance name -> collection
	logger      *slog.Logger
}

// NewService builds the service from validated profiles and creates each
// profile's collection. Profiles must already have passed
// instance.ValidateProfiles, so collection names are unique here.
func NewService(store Store, profiles []instance.Profile, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	collections := make(map[string]string, len(profiles))
	// Distinct collection names can sanitize onto the same backing table
	// ("quant-papers" and "quant_papers" both become vectors_quant_papers),
	// which would silently merge two instances' documents. Fail at startup
	// instead, like every other configuration error.
	tables := make(map[string]string, len(profiles))
	for _, p := range profiles {
		table, err := tableName(p.Collection)
		if err != nil {
			return nil, fmt.Errorf("instance %s: %w", p.Name, err)
		}
		if other, ok := tables[table]; ok {
			return nil, fmt.Errorf("instances %s and %s: collections share backing table %s",
				other, p.Name, table)
		}
		tables[table] = p.Name
		if err := store.CreateCollection(p.Collection); err != nil {
			return nil, fmt.Errorf("instance %s: %w", p.Name, err)
		}
		collections[p.Name] = p.Collection
	}
	return &Service{store: store, collections: collections, logger: logger}, nil
}

func (s *Service) collection(instanceName string) (string, error) {
	c, ok := s.collections[instanceName]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownInstance, instanceName)
	}
	return c, nil
}

// checkOwnership rejects documents whose metadata names another instance.
// This is what keeps the collection/instance invariant intact at the only
// write path.
func (s *Service) checkOwnership(instanceName string, docs []Document) error {
	for _, d := range docs {
		if d.Metadata.InstanceName != instanceName {
			return fmt.Errorf("document %s labeled %q: %w",
				d.ID, d.Metadata.InstanceName, ErrInstanceMismatch)
		}
	}
	return nil
}

// AddDocuments appends documents to the instance's collection. Re-adding an
// existing document id updates it in place.
func (s *Service) AddDocuments(instanceName string, docs []Document) error {
	collection, err := s.collection(instanceName)
	if err != nil {
		return err
	}
	if err := s.checkOwnership(instanceName, docs); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	return s.store.Upsert(collection, docs)
}

// AddDocumentsBatch splits a large document set into fixed-size sub-batches
// so no single underlying write grows unbounded.
func (s *Service) AddDocumentsBatch(instanceName string, docs []Document, batchSize int) error {
	if batchSize <= 0 {
		return s.AddDocuments(instanceName, docs)
	}
	for start := 0; start < len(docs); start += batchSize {
		end := start + batchSize
		if end > len(docs) {
			end = len(docs)
		}
		if err := s.AddDocuments(instanceName, docs[start:end]); err != nil {
			return fmt.Errorf("batch starting at %d: %w", start, err)
		}
	}
	return nil
}

// UpdateDocument replaces a single document by id.
func (s *Service) UpdateDocument(instanceName string, doc Document) error {
	return s.AddDocuments(instanceName, []Document{doc})
}

// DeleteDocument removes a single document by id.
func (s *Service) DeleteDocument(instanceName, id string) error {
	collection, err := s.collection(instanceName)
	if err != nil {
		return err
	}
	return s.store.Delete(collection, id)
}

// Search returns the limit nearest documents within the instance's own
// collection, best first.
func (s *Service) Search(instanceName string, vector []float32, limit int) ([]ScoredDocument, error) {
	collection, err := s.collection(instanceName)
	if err != nil {
		return nil, err
	}
	return s.store.Search(collection, vector, limit)
}

// SearchAllInstances queries every known collection, merges the results,
// and returns the global top limit by similarity score. Each result keeps
// its originating instance in its metadata, so isolation stays observable
// in the merged view.
func (s *Service) SearchAllInstances(vector []float32, limit int) ([]ScoredDocument, error) {
	var merged []ScoredDocument
	for name, collection := range s.collections {
		results, err := s.store.Search(collection, vector, limit)
		if err != nil {
			return nil, fmt.Errorf("searching instance %s: %w", name, err)
		}
		merged = append(merged, results...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	s.logger.Debug("merged cross-instance search",
		"instances", len(s.collections), "results", len(merged))
	return merged, nil
}

// CollectionCounts reports the document count per instance. Used by
// status reporting.
func (s *Service) CollectionCounts() (map[string]int, error) {
	counts := make(map[string]int, len(s.collections))
	for name, collection := range s.collections {
		n, err := s.store.Count(collection)
		if err != nil {
			return nil, fmt.Errorf("counting instance %s: %w", name, err)
		}
		counts[name] = n
	}
	return counts, nil
}

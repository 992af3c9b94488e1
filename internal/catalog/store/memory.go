package store

import (
	"context"
	"sort"
	"sync"

	"gazetteer/internal/catalog/models"
	"gazetteer/pkg/platform/sentinel"
)

// InMemory keeps the attribute catalog in process memory. It mirrors the
// Postgres store's semantics: specification ids are assigned in insertion
// order, and archived specifications stay resolvable.
type InMemory struct {
	mu         sync.RWMutex
	domains    map[string]models.Domain
	attributes map[string]models.Attribute
	specs      map[int64]models.Specification
	nextSpecID int64
}

func NewInMemory() *InMemory {
	return &InMemory{
		domains:    make(map[string]models.Domain),
		attributes: make(map[string]models.Attribute),
		specs:      make(map[int64]models.Specification),
		nextSpecID: 1,
	}
}

func (s *InMemory) CreateDomain(_ context.Context, domain models.Domain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.domains[domain.Name]; exists {
		return sentinel.ErrConflict
	}
	s.domains[domain.Name] = domain
	return nil
}

func (s *InMemory) UpdateDomain(_ context.Context, domain models.Domain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.domains[domain.Name]; !exists {
		return sentinel.ErrNotFound
	}
	s.domains[domain.Name] = domain
	return nil
}

func (s *InMemory) GetDomain(_ context.Context, name string) (*models.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	domain, ok := s.domains[name]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &domain, nil
}

func (s *InMemory) ListDomains(_ context.Context) ([]models.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Domain, 0, len(s.domains))
	for _, d := range s.domains {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemory) CreateAttribute(_ context.Context, attr models.Attribute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.attributes[attr.Key]; exists {
		return sentinel.ErrConflict
	}
	s.attributes[attr.Key] = attr
	return nil
}

func (s *InMemory) GetAttribute(_ context.Context, key string) (*models.Attribute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attr, ok := s.attributes[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &attr, nil
}

func (s *InMemory) BindSpecification(_ context.Context, domainName, attributeKey string, required bool) (*models.Specification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.domains[domainName]; !ok {
		return nil, sentinel.ErrNotFound
	}
	attr, ok := s.attributes[attributeKey]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	for _, spec := range s.specs {
		if spec.DomainName == domainName && spec.Attribute.Key == attributeKey {
			return nil, sentinel.ErrConflict
		}
	}
	spec := models.Specification{
		ID:         s.nextSpecID,
		DomainName: domainName,
		Attribute:  attr,
		Required:   required,
	}
	s.nextSpecID++
	s.specs[spec.ID] = spec
	return &spec, nil
}

func (s *InMemory) ArchiveSpecification(_ context.Context, domainName, attributeKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, spec := range s.specs {
		if spec.DomainName == domainName && spec.Attribute.Key == attributeKey && !spec.Archived {
			spec.Archived = true
			s.specs[id] = spec
			return nil
		}
	}
	return sentinel.ErrNotFound
}

// ListSpecifications returns the domain's active specifications in insertion
// order. The order is the contract relied on by form generation.
func (s *InMemory) ListSpecifications(_ context.Context, domainName string) ([]models.Specification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.domains[domainName]; !ok {
		return nil, sentinel.ErrNotFound
	}
	var out []models.Specification
	for _, spec := range s.specs {
		if spec.DomainName == domainName && !spec.Archived {
			out = append(out, spec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fixture

import (
	"sync"

	"github.com/pkg/errors"
)

// Suite is a registry of fixtures with unique descriptions. It is safe for concurrent use.
type Suite struct {
	mu       sync.Mutex
	fixtures []*Fixture
	byDesc   map[string]*Fixture
}

// NewSuite creates an empty Suite.
func NewSuite() *Suite {
	return &Suite{byDesc: make(map[string]*Fixture)}
}

// Add registers the fixture. It returns a *DuplicateDescriptionError if another fixture with the
// same description is already registered.
func (s *Suite) Add(f *Fixture) error {
	if f == nil {
		return errors.New("Suite.Add: nil fixture")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.byDesc[f.description]; found {
		return &DuplicateDescriptionError{Description: f.description}
	}
	s.byDesc[f.description] = f
	s.fixtures = append(s.fixtures, f)
	return nil
}

// Len returns the number of fixtures registered.
func (s *Suite) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fixtures)
}

// Get returns the fixture with the given description, or nil.
func (s *Suite) Get(description string) *Fixture {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byDesc[description]
}

// Fixtures returns the registered fixtures, in the order they were added.
func (s *Suite) Fixtures() []*Fixture {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Fixture(nil), s.fixtures...)
}

// Run runs every fixture with executor, stopping at the first failure.
func (s *Suite) Run(executor Executor) error {
	for _, f := range s.Fixtures() {
		if err := f.Run(executor); err != nil {
			return err
		}
	}
	return nil
}

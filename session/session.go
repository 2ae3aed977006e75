// Copyright 2020-2021 Dolthub, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package session holds the mutable state bound to one statement batch:
// variables, temp tables and error state. Exactly one Session exists per
// batch; it is never shared across concurrently executing batches (see
// spec §3, §5 "Session isolation").
package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/xrmsql/engine/coretypes"
)

// Session is mutable state private to one statement batch. All methods are
// safe for concurrent use because ParallelPartition children may read
// variables while a sibling statement mutates them between statements.
type Session struct {
	mu   sync.RWMutex
	vars map[string]coretypes.QueryValue
	temp map[string][]coretypes.Row

	errNumber  int64
	errMessage string

	impersonation *uuid.UUID
}

// New creates an empty Session for a new batch.
func New() *Session {
	return &Session{
		vars: make(map[string]coretypes.QueryValue),
		temp: make(map[string][]coretypes.Row),
	}
}

// SetVariable assigns a session variable (DECLARE/SET).
func (s *Session) SetVariable(name string, v coretypes.QueryValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars[name] = v
}

// Variable looks up a session variable. ok is false if it was never
// declared; the expression compiler raises ExecutionFailed in that case.
func (s *Session) Variable(name string) (coretypes.QueryValue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vars[name]
	return v, ok
}

// CreateTempTable registers a new, empty temp table.
func (s *Session) CreateTempTable(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temp[name] = nil
}

// DropTempTable removes a temp table. A no-op if it doesn't exist.
func (s *Session) DropTempTable(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.temp, name)
}

// AppendTempRows appends rows to an existing temp table.
func (s *Session) AppendTempRows(name string, rows []coretypes.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temp[name] = append(s.temp[name], rows...)
}

// TempRows returns a snapshot of a temp table's rows and whether the table
// exists at all (as opposed to existing but empty).
func (s *Session) TempRows(name string) ([]coretypes.Row, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, ok := s.temp[name]
	if !ok {
		return nil, false
	}
	out := make([]coretypes.Row, len(rows))
	copy(out, rows)
	return out, true
}

// SetError sets @@ERROR / ERROR_MESSAGE() state, called by TryCatch on
// entry to a catch block.
func (s *Session) SetError(number int64, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errNumber = number
	s.errMessage = message
}

// ClearError resets error state to zero/empty, called by TryCatch on
// successful exit from a try block.
func (s *Session) ClearError() { s.SetError(0, "") }

// ErrorState returns the current @@ERROR and ERROR_MESSAGE() values.
func (s *Session) ErrorState() (number int64, message string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errNumber, s.errMessage
}

// Impersonate sets the caller-impersonation id (EXECUTE AS with a
// pre-resolved id). Per spec §9 open question, this engine never
// synthesizes one.
func (s *Session) Impersonate(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := id
	s.impersonation = &c
}

// Revert clears the caller-impersonation id.
func (s *Session) Revert() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.impersonation = nil
}

// ImpersonationID returns the current impersonation id, if any.
func (s *Session) ImpersonationID() (uuid.UUID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.impersonation == nil {
		return uuid.UUID{}, false
	}
	return *s.impersonation, true
}

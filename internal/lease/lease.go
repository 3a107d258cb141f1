// Package lease implements an optional single-runner lease for reconcilers
// sharing one collection.
//
// The lease is an ephemeral key, so it disappears when the holder's session
// ends (crash or disconnect) and another instance can take over on its next
// attempt.
//
// Key format: /lifecycle/v1/collections/<collection>/lease
package lease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/slidecast/lifecycled/internal/metadata"
	"github.com/slidecast/lifecycled/internal/metadata/keys"
)

// Lease-related errors.
var (
	// ErrInvalidCollection is returned when the collection name is not a
	// valid key segment.
	ErrInvalidCollection = errors.New("lease: invalid collection")

	// ErrLeaseVanished is returned when the lease key disappeared while
	// resolving a conflict. The caller should retry.
	ErrLeaseVanished = errors.New("lease: lease disappeared during conflict resolution")
)

// Lease is the value stored under the lease key.
type Lease struct {
	Collection   string `json:"collection"`
	HolderID     string `json:"holderId"`
	AcquiredAtMs int64  `json:"acquiredAtMs"`
	RenewedAtMs  int64  `json:"renewedAtMs"`
}

// Manager acquires and renews the lease for one collection.
type Manager struct {
	store      metadata.LeaseStore
	collection string
	holderID   string
	key        string

	mu   sync.Mutex
	held *Lease
}

// NewManager creates a lease manager. An empty holderID is replaced by a
// random one.
func NewManager(store metadata.LeaseStore, collection, holderID string) (*Manager, error) {
	if err := keys.ValidateSegment(collection); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCollection, err)
	}
	if holderID == "" {
		holderID = uuid.NewString()
	}
	return &Manager{
		store:      store,
		collection: collection,
		holderID:   holderID,
		key:        keys.LeaseKeyPath(collection),
	}, nil
}

// HolderID returns the id this manager acquires the lease as.
func (m *Manager) HolderID() string {
	return m.holderID
}

// TryAcquire acquires the lease if it is free, renews it if this manager
// already holds it, and reports whether this manager is the holder afterwards.
//
// Acquisition uses ExpectNotExists and renewal uses the current version, so
// two managers never both believe they hold the lease.
func (m *Manager) TryAcquire(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UnixMilli()

	result, err := m.store.Get(ctx, m.key)
	if err != nil {
		return false, fmt.Errorf("lease: get: %w", err)
	}

	if result.Exists {
		var existing Lease
		if err := json.Unmarshal(result.Value, &existing); err != nil {
			return false, fmt.Errorf("lease: unmarshal: %w", err)
		}
		if existing.HolderID != m.holderID {
			m.held = nil
			return false, nil
		}

		existing.RenewedAtMs = now
		data, err := json.Marshal(existing)
		if err != nil {
			return false, fmt.Errorf("lease: marshal: %w", err)
		}
		if _, err := m.store.PutEphemeral(ctx, m.key, data,
			metadata.WithEphemeralExpectedVersion(result.Version)); err != nil {
			if errors.Is(err, metadata.ErrVersionMismatch) {
				return m.resolveConflict(ctx)
			}
			return false, fmt.Errorf("lease: renew: %w", err)
		}
		m.held = &existing
		return true, nil
	}

	lease := Lease{
		Collection:   m.collection,
		HolderID:     m.holderID,
		AcquiredAtMs: now,
		RenewedAtMs:  now,
	}
	data, err := json.Marshal(lease)
	if err != nil {
		return false, fmt.Errorf("lease: marshal: %w", err)
	}
	if _, err := m.store.PutEphemeral(ctx, m.key, data,
		metadata.WithEphemeralExpectNotExists()); err != nil {
		if errors.Is(err, metadata.ErrVersionMismatch) {
			return m.resolveConflict(ctx)
		}
		return false, fmt.Errorf("lease: acquire: %w", err)
	}
	m.held = &lease
	return true, nil
}

// resolveConflict re-reads the lease after a lost CAS and reports whether
// this manager ended up holding it.
func (m *Manager) resolveConflict(ctx context.Context) (bool, error) {
	m.held = nil
	current, err := m.read(ctx)
	if err != nil {
		return false, err
	}
	if current == nil {
		return false, ErrLeaseVanished
	}
	if current.HolderID == m.holderID {
		m.held = current
		return true, nil
	}
	return false, nil
}

// Release deletes the lease if this manager holds it. It is a no-op
// otherwise, including when another instance took the lease over.
func (m *Manager) Release(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held = nil

	result, err := m.store.Get(ctx, m.key)
	if err != nil {
		return fmt.Errorf("lease: get for release: %w", err)
	}
	if !result.Exists {
		return nil
	}

	var current Lease
	if err := json.Unmarshal(result.Value, &current); err != nil {
		return fmt.Errorf("lease: unmarshal for release: %w", err)
	}
	if current.HolderID != m.holderID {
		return nil
	}

	// Version check avoids clobbering a lease taken over between Get and Delete.
	if err := m.store.DeleteKey(ctx, m.key, metadata.WithDeleteExpectedVersion(result.Version)); err != nil {
		if errors.Is(err, metadata.ErrVersionMismatch) {
			return nil
		}
		return fmt.Errorf("lease: delete: %w", err)
	}
	return nil
}

// Holder returns the current lease, or nil if nobody holds it.
func (m *Manager) Holder(ctx context.Context) (*Lease, error) {
	return m.read(ctx)
}

// Held reports whether the last TryAcquire left this manager holding the
// lease. It does not contact the store.
func (m *Manager) Held() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held != nil
}

func (m *Manager) read(ctx context.Context) (*Lease, error) {
	result, err := m.store.Get(ctx, m.key)
	if err != nil {
		return nil, fmt.Errorf("lease: get: %w", err)
	}
	if !result.Exists {
		return nil, nil
	}
	var current Lease
	if err := json.Unmarshal(result.Value, &current); err != nil {
		return nil, fmt.Errorf("lease: unmarshal: %w", err)
	}
	return &current, nil
}

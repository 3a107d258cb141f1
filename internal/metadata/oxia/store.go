package oxia

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	oxiaclient "github.com/oxia-db/oxia/oxia"

	"github.com/slidecast/lifecycled/internal/metadata"
	"github.com/slidecast/lifecycled/internal/metadata/keys"
)

// maxCASRetries bounds the read-modify-write loop in UpdateFields.
const maxCASRetries = 5

// Config configures the Oxia record store.
type Config struct {
	// ServiceAddress is the Oxia service endpoint (e.g., "localhost:6648").
	ServiceAddress string

	// Namespace is the Oxia namespace to use (e.g., "lifecycle").
	// All keys will be scoped to this namespace.
	Namespace string

	// Collection names the record set, one key prefix per collection.
	Collection string

	// RequestTimeout is the timeout for individual requests.
	// Default: 30 seconds.
	RequestTimeout time.Duration

	// SessionTimeout is the timeout for ephemeral key sessions.
	// When the session expires, all ephemeral keys are deleted.
	// Default: 15 seconds.
	SessionTimeout time.Duration
}

// Store implements metadata.RecordStore and metadata.LeaseStore using Oxia.
type Store struct {
	client oxiaclient.SyncClient
	config Config

	mu     sync.RWMutex
	closed bool
}

// New creates a new Oxia record store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.ServiceAddress == "" {
		return nil, errors.New("oxia: service address is required")
	}
	if cfg.Namespace == "" {
		return nil, errors.New("oxia: namespace is required")
	}
	if err := keys.ValidateSegment(cfg.Collection); err != nil {
		return nil, fmt.Errorf("oxia: collection: %w", err)
	}

	opts := []oxiaclient.ClientOption{
		oxiaclient.WithNamespace(cfg.Namespace),
	}

	if cfg.RequestTimeout > 0 {
		opts = append(opts, oxiaclient.WithRequestTimeout(cfg.RequestTimeout))
	}
	if cfg.SessionTimeout > 0 {
		opts = append(opts, oxiaclient.WithSessionTimeout(cfg.SessionTimeout))
	}

	client, err := oxiaclient.NewSyncClient(cfg.ServiceAddress, opts...)
	if err != nil {
		return nil, fmt.Errorf("oxia: failed to create client: %w", err)
	}

	return &Store{
		client: client,
		config: cfg,
	}, nil
}

// oxiaToMetadataVersion converts Oxia's 0-based version to our 1-based version.
// Oxia versions start at 0, but our interface uses 0 to mean "key doesn't exist".
func oxiaToMetadataVersion(oxiaVersion int64) metadata.Version {
	return metadata.Version(oxiaVersion + 1)
}

// metadataToOxiaVersion converts our 1-based version to Oxia's 0-based version.
func metadataToOxiaVersion(metaVersion metadata.Version) int64 {
	return int64(metaVersion - 1)
}

func (s *Store) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return metadata.ErrStoreClosed
	}
	return nil
}

// Query streams the collection's records through a range scan and applies
// the filter on the client. Oxia has no secondary indexes.
func (s *Store) Query(ctx context.Context, filter metadata.Filter) (metadata.RecordIterator, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	scanCtx, cancel := context.WithCancel(ctx)
	results := s.client.RangeScan(scanCtx,
		keys.RecordsPrefix(s.config.Collection),
		keys.RecordsEndKey(s.config.Collection))

	return &recordIterator{
		results: results,
		cancel:  cancel,
		filter:  filter,
	}, nil
}

// UpdateFields performs a versioned read-modify-write of the record document.
// Concurrent writers (for example the refCount owner) cause a retry.
func (s *Store) UpdateFields(ctx context.Context, id string, fields metadata.Fields) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	key := keys.RecordKeyPath(s.config.Collection, id)

	for attempt := 0; attempt < maxCASRetries; attempt++ {
		_, value, version, err := s.client.Get(ctx, key)
		if err != nil {
			if errors.Is(err, oxiaclient.ErrKeyNotFound) {
				return &metadata.RecordError{Op: "Update", ID: id, Err: metadata.ErrNotFound}
			}
			return &metadata.RecordError{Op: "Update", ID: id, Err: fmt.Errorf("oxia: get failed: %w", err)}
		}

		rec, err := metadata.DecodeRecord(id, value)
		if err != nil {
			return &metadata.RecordError{Op: "Update", ID: id, Err: err}
		}
		data, err := metadata.EncodeRecord(fields.Apply(rec))
		if err != nil {
			return &metadata.RecordError{Op: "Update", ID: id, Err: err}
		}

		_, _, err = s.client.Put(ctx, key, data, oxiaclient.ExpectedVersionId(version.VersionId))
		if err == nil {
			return nil
		}
		if errors.Is(err, oxiaclient.ErrUnexpectedVersionId) {
			continue
		}
		return &metadata.RecordError{Op: "Update", ID: id, Err: fmt.Errorf("oxia: put failed: %w", err)}
	}

	return &metadata.RecordError{Op: "Update", ID: id, Err: metadata.ErrVersionMismatch}
}

// Delete removes the record document.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.checkClosed(); err != nil {
		return err
	}

	err := s.client.Delete(ctx, keys.RecordKeyPath(s.config.Collection, id))
	if err != nil {
		if errors.Is(err, oxiaclient.ErrKeyNotFound) {
			return &metadata.RecordError{Op: "Delete", ID: id, Err: metadata.ErrNotFound}
		}
		return &metadata.RecordError{Op: "Delete", ID: id, Err: fmt.Errorf("oxia: delete failed: %w", err)}
	}
	return nil
}

// PutRecord writes a full record document. The reconciler never creates
// records; this is used by tooling and tests to seed a collection.
func (s *Store) PutRecord(ctx context.Context, rec metadata.Record) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	if err := keys.ValidateSegment(rec.ID); err != nil {
		return &metadata.RecordError{Op: "Put", ID: rec.ID, Err: err}
	}
	data, err := metadata.EncodeRecord(rec)
	if err != nil {
		return &metadata.RecordError{Op: "Put", ID: rec.ID, Err: err}
	}
	if _, _, err := s.client.Put(ctx, keys.RecordKeyPath(s.config.Collection, rec.ID), data); err != nil {
		return &metadata.RecordError{Op: "Put", ID: rec.ID, Err: fmt.Errorf("oxia: put failed: %w", err)}
	}
	return nil
}

// Ping reads the lease key. A missing key still proves the shard answered.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.Get(ctx, keys.LeaseKeyPath(s.config.Collection)); err != nil {
		return err
	}
	return nil
}

// Get retrieves a value by key.
func (s *Store) Get(ctx context.Context, key string) (metadata.GetResult, error) {
	if err := s.checkClosed(); err != nil {
		return metadata.GetResult{}, err
	}

	_, value, version, err := s.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, oxiaclient.ErrKeyNotFound) {
			return metadata.GetResult{Exists: false}, nil
		}
		return metadata.GetResult{}, fmt.Errorf("oxia: get failed: %w", err)
	}

	return metadata.GetResult{
		Value:   value,
		Version: oxiaToMetadataVersion(version.VersionId),
		Exists:  true,
	}, nil
}

// PutEphemeral stores a value that is automatically deleted when the client session ends.
func (s *Store) PutEphemeral(ctx context.Context, key string, value []byte, opts ...metadata.EphemeralOption) (metadata.Version, error) {
	if err := s.checkClosed(); err != nil {
		return 0, err
	}

	expectNotExists, expectedVersion := metadata.ExtractEphemeralOptions(opts)

	oxiaOpts := []oxiaclient.PutOption{oxiaclient.Ephemeral()}
	if expectNotExists {
		oxiaOpts = append(oxiaOpts, oxiaclient.ExpectedRecordNotExists())
	} else if expectedVersion != nil {
		oxiaOpts = append(oxiaOpts, oxiaclient.ExpectedVersionId(metadataToOxiaVersion(*expectedVersion)))
	}

	_, version, err := s.client.Put(ctx, key, value, oxiaOpts...)
	if err != nil {
		if errors.Is(err, oxiaclient.ErrUnexpectedVersionId) {
			return 0, metadata.ErrVersionMismatch
		}
		return 0, fmt.Errorf("oxia: put ephemeral failed: %w", err)
	}

	return oxiaToMetadataVersion(version.VersionId), nil
}

// DeleteKey removes a key, optionally with version checking.
func (s *Store) DeleteKey(ctx context.Context, key string, opts ...metadata.DeleteOption) error {
	if err := s.checkClosed(); err != nil {
		return err
	}

	var oxiaOpts []oxiaclient.DeleteOption
	if v := metadata.ExtractDeleteExpectedVersion(opts); v != nil {
		oxiaOpts = append(oxiaOpts, oxiaclient.ExpectedVersionId(metadataToOxiaVersion(*v)))
	}

	err := s.client.Delete(ctx, key, oxiaOpts...)
	if err != nil {
		if errors.Is(err, oxiaclient.ErrKeyNotFound) {
			return nil
		}
		if errors.Is(err, oxiaclient.ErrUnexpectedVersionId) {
			return metadata.ErrVersionMismatch
		}
		return fmt.Errorf("oxia: delete failed: %w", err)
	}
	return nil
}

// Close releases resources held by the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

type recordIterator struct {
	results <-chan oxiaclient.GetResult
	cancel  context.CancelFunc
	filter  metadata.Filter
	done    bool
}

func (it *recordIterator) Next() (metadata.Record, error) {
	if it.done {
		return metadata.Record{}, metadata.ErrDone
	}
	for result := range it.results {
		if result.Err != nil {
			it.done = true
			return metadata.Record{}, fmt.Errorf("oxia: range scan failed: %w", result.Err)
		}
		_, id, err := keys.ParseRecordKey(result.Key)
		if err != nil {
			continue
		}
		rec, err := metadata.DecodeRecord(id, result.Value)
		if err != nil {
			return metadata.Record{}, &metadata.RecordError{Op: "Query", ID: id, Err: err}
		}
		if it.filter.Match(rec) {
			return rec, nil
		}
	}
	it.done = true
	return metadata.Record{}, metadata.ErrDone
}

func (it *recordIterator) Close() error {
	it.cancel()
	if !it.done {
		it.done = true
		go drainRangeScan(it.results)
	}
	return nil
}

func drainRangeScan(results <-chan oxiaclient.GetResult) {
	for range results {
	}
}

var (
	_ metadata.RecordStore = (*Store)(nil)
	_ metadata.LeaseStore  = (*Store)(nil)
)

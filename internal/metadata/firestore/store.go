// Package firestore implements metadata.RecordStore on a Cloud Firestore
// collection, reading and writing documents in their existing stored shape.
//
// The sweep queries combine equality and range/membership filters on
// different fields, so the collection needs these composite indexes:
//
//	isValid ASC, created ASC
//	lifetime ASC, deleteFlag ASC
//	deleteFlag ASC, refCount ASC
package firestore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/slidecast/lifecycled/internal/metadata"
)

// Config configures the Firestore record store.
type Config struct {
	// ProjectID is the Google Cloud project.
	ProjectID string

	// CredentialsFile is a service account key file. Empty means
	// application default credentials (or the emulator, when
	// FIRESTORE_EMULATOR_HOST is set).
	CredentialsFile string

	// Collection is the document collection holding the records.
	Collection string
}

// Store implements metadata.RecordStore using Firestore.
type Store struct {
	client     *firestore.Client
	collection *firestore.CollectionRef

	mu     sync.RWMutex
	closed bool
}

// New creates a new Firestore record store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firestore: project id is required")
	}
	if cfg.Collection == "" {
		return nil, errors.New("firestore: collection is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: failed to create client: %w", err)
	}

	return &Store{
		client:     client,
		collection: client.Collection(cfg.Collection),
	}, nil
}

func (s *Store) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return metadata.ErrStoreClosed
	}
	return nil
}

// buildQuery translates a filter into server-side Where clauses.
func (s *Store) buildQuery(filter metadata.Filter) firestore.Query {
	q := s.collection.Query
	if filter.CreatedAtOrAfter != nil {
		q = q.Where("created", ">=", metadata.FormatTimestamp(*filter.CreatedAtOrAfter))
	}
	if filter.IsValid != nil {
		q = q.Where("isValid", "==", metadata.FormatValidFlag(*filter.IsValid))
	}
	if len(filter.Lifetimes) > 0 {
		lifetimes := make([]string, len(filter.Lifetimes))
		for i, l := range filter.Lifetimes {
			lifetimes[i] = string(l)
		}
		q = q.Where("lifetime", "in", lifetimes)
	}
	if filter.DeleteFlag != nil {
		q = q.Where("deleteFlag", "==", *filter.DeleteFlag)
	}
	if filter.RefCount != nil {
		q = q.Where("refCount", "==", *filter.RefCount)
	}
	return q
}

// Query streams matching documents. Results are fetched in pages by the
// client library as the iterator advances.
func (s *Store) Query(ctx context.Context, filter metadata.Filter) (metadata.RecordIterator, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	return &recordIterator{
		docs:   s.buildQuery(filter).Documents(ctx),
		filter: filter,
	}, nil
}

// UpdateFields writes only the set fields. Firestore fails the update with
// NotFound when the document is gone.
func (s *Store) UpdateFields(ctx context.Context, id string, fields metadata.Fields) error {
	if err := s.checkClosed(); err != nil {
		return err
	}

	var updates []firestore.Update
	if fields.IsValid != nil {
		updates = append(updates, firestore.Update{Path: "isValid", Value: metadata.FormatValidFlag(*fields.IsValid)})
	}
	if fields.DeleteFlag != nil {
		updates = append(updates, firestore.Update{Path: "deleteFlag", Value: *fields.DeleteFlag})
	}
	if len(updates) == 0 {
		return nil
	}

	if _, err := s.collection.Doc(id).Update(ctx, updates); err != nil {
		return &metadata.RecordError{Op: "Update", ID: id, Err: wrapError(err)}
	}
	return nil
}

// Delete removes the document. Firestore reports success for a missing
// document, so ErrNotFound is never returned here.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	if _, err := s.collection.Doc(id).Delete(ctx); err != nil {
		return &metadata.RecordError{Op: "Delete", ID: id, Err: wrapError(err)}
	}
	return nil
}

// PutRecord writes a full document. Used by tooling and tests to seed a
// collection; the reconciler never creates records.
func (s *Store) PutRecord(ctx context.Context, rec metadata.Record) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	if _, err := s.collection.Doc(rec.ID).Set(ctx, metadata.ToDocument(rec)); err != nil {
		return &metadata.RecordError{Op: "Put", ID: rec.ID, Err: wrapError(err)}
	}
	return nil
}

// Ping reads at most one document from the collection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	it := s.collection.Limit(1).Documents(ctx)
	defer it.Stop()
	if _, err := it.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return fmt.Errorf("firestore: ping failed: %w", wrapError(err))
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

// wrapError maps gRPC status codes onto metadata errors.
func wrapError(err error) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %v", metadata.ErrNotFound, err)
	}
	return err
}

type recordIterator struct {
	docs   *firestore.DocumentIterator
	filter metadata.Filter
	done   bool
}

func (it *recordIterator) Next() (metadata.Record, error) {
	for !it.done {
		snap, err := it.docs.Next()
		if errors.Is(err, iterator.Done) {
			it.done = true
			break
		}
		if err != nil {
			it.done = true
			return metadata.Record{}, fmt.Errorf("firestore: query failed: %w", wrapError(err))
		}

		var doc metadata.Document
		if err := snap.DataTo(&doc); err != nil {
			return metadata.Record{}, &metadata.RecordError{Op: "Query", ID: snap.Ref.ID, Err: fmt.Errorf("%w: %v", metadata.ErrInvalidRecord, err)}
		}
		rec, err := doc.Record(snap.Ref.ID)
		if err != nil {
			return metadata.Record{}, &metadata.RecordError{Op: "Query", ID: snap.Ref.ID, Err: err}
		}
		// Server-side filtering on created is a string comparison; re-check
		// chronologically for documents written in another timestamp format.
		if it.filter.Match(rec) {
			return rec, nil
		}
	}
	return metadata.Record{}, metadata.ErrDone
}

func (it *recordIterator) Close() error {
	it.done = true
	it.docs.Stop()
	return nil
}

var _ metadata.RecordStore = (*Store)(nil)

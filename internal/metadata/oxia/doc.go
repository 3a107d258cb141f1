// Package oxia implements metadata.RecordStore and metadata.LeaseStore using Oxia.
//
// Each record is a JSON document (the field names of existing stored
// documents) under a per-collection prefix:
//
//	/lifecycle/v1/collections/<collection>/records/<recordId>
//
// Usage:
//
//	store, err := oxia.New(ctx, oxia.Config{
//	    ServiceAddress: "localhost:6648",
//	    Namespace:      "lifecycle",
//	    Collection:     "uploads",
//	})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
// Queries:
//
// Oxia has no secondary indexes, so Query range-scans the collection and
// applies metadata.Filter.Match on the client. The scan is streamed, never
// buffered in full.
//
// Updates:
//
// UpdateFields is a read-modify-write guarded by the record's version, so a
// concurrent refCount change is never overwritten.
//
// Ephemeral Keys:
//
// PutEphemeral creates keys that are automatically deleted when the client
// session ends. The reconciler lease is built on them.
package oxia

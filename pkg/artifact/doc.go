// Package artifact stores files produced by jobs, such as export archives,
// on the local filesystem or in S3-compatible object storage.
//
// Keys are slash-separated and always relative to the storage root; keys
// that would escape it are rejected with ErrInvalidKey.
//
//	store, err := artifact.New(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	obj, err := store.Put(ctx, "exports/"+teamID+"/transactions.zip", body, "application/zip")
//
// List is recursive and, together with OlderThan, drives retention cleanup.
package artifact

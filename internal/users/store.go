package users

import "context"

// Store is the persistence contract for identities. Implementations enforce unique
// email and handle with indexes and report violations as ErrDuplicateIdentity; missing
// records are reported as ErrIdentityNotFound.
type Store interface {
	// FindByEmail returns the full record, secret hash included, for credential checks.
	FindByEmail(ctx context.Context, email string) (Identity, error)
	FindByHandle(ctx context.Context, handle string) (Identity, error)
	// FindByID returns the record with the secret hash projected out.
	FindByID(ctx context.Context, id string) (Identity, error)
	// Insert persists a new record and returns the store-assigned id.
	Insert(ctx context.Context, identity Identity) (string, error)
	// UpdateByID applies update atomically and returns the updated record without its secret hash.
	UpdateByID(ctx context.Context, id string, update IdentityUpdate) (Identity, error)
	Count(ctx context.Context, filter CountFilter) (int64, error)
}

// CountFilter narrows Store.Count. Zero values match everything.
type CountFilter struct {
	Status Status
	Online *bool
}

// AdminStore persists administrator records in their own collection.
type AdminStore interface {
	FindAdminByEmail(ctx context.Context, email string) (AdminIdentity, error)
	InsertAdmin(ctx context.Context, admin AdminIdentity) (string, error)
}

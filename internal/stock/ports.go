package stock

import "context"

// Mutation is an atomic read-modify-write of a single record.
type Mutation struct {
	// RequestID, when set, is claimed in the same unit of work as the write.
	// A second Mutate with the same id fails with ErrDuplicateRequest.
	RequestID string

	// Apply computes the new record from the locked current one. Returning an
	// error aborts the mutation without writing anything.
	Apply func(Record) (Record, error)
}

// Store persists records. Mutate must serialize concurrent calls for the
// same group and must not block calls for other groups. It returns the
// record as committed.
type Store interface {
	Get(ctx context.Context, groupID string) (Record, error)
	List(ctx context.Context) ([]string, error)
	Create(ctx context.Context, rec Record) error
	Delete(ctx context.Context, groupID string) error
	Mutate(ctx context.Context, groupID string, m Mutation) (Record, error)
}

// GroupDirectory resolves the addressing data of a menu group.
type GroupDirectory interface {
	Lookup(ctx context.Context, groupID string) (Group, error)
}

// Dispatcher receives low-stock events after commit. Delivery is best effort.
type Dispatcher interface {
	Notify(ctx context.Context, ev LowStock) error
}

// Locker grants exclusive access per key. The returned unlock func must be
// called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

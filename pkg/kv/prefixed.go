package kv

import "context"

// PrefixedStore namespaces every key of an underlying store.
type PrefixedStore struct {
	inner  Store
	prefix string
}

// Prefixed returns a view of store where every key is prefixed.
// Closing the view does not close store.
func Prefixed(store Store, prefix string) *PrefixedStore {
	if p, ok := store.(*PrefixedStore); ok {
		return &PrefixedStore{inner: p.inner, prefix: p.prefix + prefix}
	}
	return &PrefixedStore{inner: store, prefix: prefix}
}

// Get reads prefix+key.
func (p *PrefixedStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	return p.inner.Get(ctx, p.prefix+key)
}

// Set writes prefix+key.
func (p *PrefixedStore) Set(ctx context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return p.inner.Set(ctx, p.prefix+key, value)
}

// Delete removes prefix+key.
func (p *PrefixedStore) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return p.inner.Delete(ctx, p.prefix+key)
}

// Prefix returns the full key prefix.
func (p *PrefixedStore) Prefix() string {
	return p.prefix
}

// Close is a no-op; the underlying store is owned elsewhere.
func (p *PrefixedStore) Close() error {
	return nil
}

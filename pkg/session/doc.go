// Package session holds the per-browser record of which identity is signed in
// to each realm.
//
// A Store keeps two independent slots, one per auth.Realm. Every mutation is
// written through to a kv.Store before the in-memory copy changes, so a page
// reload (or a portal restart) followed by Restore sees exactly what the last
// successful mutation left behind.
//
// # Lifecycle
//
//	store := session.NewStore(kv.Prefixed(backend, "tab/"+id+"/"), logger)
//	if err := store.Restore(ctx); err != nil {
//	    logger.Warn("restore failed", "error", err)
//	}
//
//	store.SetIdentity(ctx, identity, auth.NewSession(identity, token, time.Now()))
//	store.Clear(ctx, auth.RealmAdmin) // user slot untouched
//
// # Persisted Format
//
// Each slot is a versioned JSON record holding only subject_id, role, token,
// display_name, bound_account, created_at and established_at. Records that do
// not decode, carry an unknown version, or hold a role that does not belong to
// the slot are purged during Restore and treated as absent.
//
// The Store never talks to the network.
package session

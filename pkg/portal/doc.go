// Package portal is the HTTP host of the dual-realm portal.
//
// Every browser tab is identified by a UUID held in an HttpOnly cookie and
// owns its own session store, validator, guard and navigator. Requests name
// their tab through the cookie alone; an X-Portal-Tab header must repeat it.
// Tabs are kept in a bounded LRU; an evicted tab loses only its in-memory
// state and is restored from storage on its next request.
//
// # Endpoints
//
//	GET  /*                    full page load, decided by the guard
//	GET  /_portal/ws           navigation channel
//	GET  /_portal/session      identities held by the tab
//	GET  /_portal/oauth/start  redirect to the OAuth provider
//	GET  <oauth callback>      code exchange, user realm sign in
//	POST /_portal/admin/login  password sign in, admin realm (*)
//	POST /_portal/logout       sign out of one realm (*)
//	POST /_portal/bind         link a downstream account (*)
//	*    /api/*                reverse proxy to the backend
//	GET  /metrics, /healthz
//
// (*) requires a JSON body or the X-Portal-Tab header.
//
// # Navigation channel
//
// The client sends {"type":"navigate","seq":N,"path":"/admin/users"}. Each
// navigation is evaluated concurrently; the server answers with
// {"type":"decision","seq":N,...} unless a newer navigation was dispatched
// meanwhile, in which case the stale decision is dropped. A validation
// started by a dropped or abandoned navigation still updates the tab's
// sessions. Session changes are pushed as
// {"type":"session","realm":"admin","authenticated":false}.
package portal

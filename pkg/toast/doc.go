// Package toast provides the one-line feedback notices that accompany
// navigation redirects.
//
// A Notice never blocks a navigation. It rides along with the decision that
// caused it: inside the decision message on the navigation channel, or in the
// X-Portal-Notice header and the page bootstrap on full page loads.
//
// # Client-Side Handler
//
// The portal shell dispatches every notice as a DOM event, so any toast
// library can render it:
//
//	window.addEventListener("portal:toast", (e) => {
//	    const { level, message, title } = e.detail;
//	    toast[level](message);
//	});
//
// # Server-Side Usage
//
//	n := toast.Warning(toast.MsgSignInRequired)
//	w.Header().Set(toast.HeaderName, n.HeaderValue())
package toast

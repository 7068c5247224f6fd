// Package realtime is the client side of project chat: one authenticated
// socket per mounted project view, the room it joins, who is online and
// typing there, the message list with its REST fallback, and the transient
// notifications raised from inbound events.
//
// Failures never escape as panics or hard errors from the socket layer.
// They show up as Status changes, connect_error events and, for a failed
// send, a restored draft plus one error notification.
package realtime

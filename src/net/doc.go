// Package net implements the transports used for the directory sync
// protocol: fetching the network map, subscribing to it, receiving pushed
// updates, and acknowledging them.
//
// There are two implementations of the Transport interface:
//
// - Inmem: in-memory transport used only for testing
//
// - TCP: communicating over plain TCP
//
// The TCP transport binds to BindAddr and optionally advertises a different
// publicly-reachable AdvertiseAddr, which is the address carried in protocol
// messages so that the remote side can route acknowledgments and pushes back.
package net

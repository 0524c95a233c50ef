// Package netmap implements the network directory cache: the locally cached,
// eventually-consistent view of the nodes participating in the network. It
// defines the directory data model (NodeInfo, signed envelopes, network
// parameters), the durable stores, the write-through Cache with its change
// feed, and the identity-verifying decorator.
package netmap

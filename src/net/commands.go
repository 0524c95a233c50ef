package net

import (
	"github.com/linsihaku/corda/src/netmap"
)

// FetchRequest asks the map service for the current network map. From is the
// requester's advertised address. When Subscribe is set, the service keeps
// pushing subsequent updates to that address. SinceVersion carries the last
// map version the requester has seen; the service omits the records when
// nothing changed since then. A SinceVersion of zero means "never synced".
type FetchRequest struct {
	Subscribe    bool
	SinceVersion uint64
	From         string
}

// FetchResponse returns the hash identifying the network parameters, the
// current map version, and the signed directory records. Updates is nil when
// the map is unchanged since the requested version.
type FetchResponse struct {
	ParametersHash []byte
	Version        uint64
	Updates        []*netmap.SignedNodeInfo
}

// ParametersRequest asks the map service for the full signed network
// parameters.
type ParametersRequest struct {
	From string
}

// ParametersResponse carries the signed network parameters.
type ParametersResponse struct {
	SignedParameters *netmap.SignedNetworkParameters
}

// SubscribeRequest registers (Subscribe=true) or deregisters
// (Subscribe=false) the From address for pushed updates.
type SubscribeRequest struct {
	Subscribe bool
	From      string
}

// SubscribeResponse indicates whether the (de)registration was accepted.
type SubscribeResponse struct {
	Confirmed bool
}

// PushRequest is an unsolicited update from the map service to a subscriber.
// Version is the map version the update brings the subscriber to. The
// subscriber acknowledges with a separate Ack message, and only after the
// update's signature verified.
type PushRequest struct {
	Version uint64
	Update  *netmap.SignedNodeInfo
}

// PushResponse unblocks the push round trip. Receipt of a PushResponse means
// nothing about the update; only an Ack does.
type PushResponse struct {
}

// AckRequest acknowledges an applied push update. From is the acknowledging
// subscriber's advertised address.
type AckRequest struct {
	Version uint64
	From    string
}

// AckResponse unblocks the ack round trip.
type AckResponse struct {
}

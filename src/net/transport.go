package net

// Transport provides an interface for network transports to allow a node to
// exchange directory sync messages with the map service and with subscribers.
type Transport interface {

	// Listen starts the transport listening
	Listen()

	// Consumer returns a channel that can be used to consume and respond to
	// inbound requests.
	Consumer() <-chan RPC

	// LocalAddr is used to return our local address
	LocalAddr() string

	// AdvertiseAddr is used to return our advertise address where other nodes
	// can reach us
	AdvertiseAddr() string

	// Fetch, Parameters, Subscribe, Push, and Ack send the appropriate
	// request to the target node.

	Fetch(target string, args *FetchRequest, resp *FetchResponse) error

	Parameters(target string, args *ParametersRequest, resp *ParametersResponse) error

	Subscribe(target string, args *SubscribeRequest, resp *SubscribeResponse) error

	Push(target string, args *PushRequest, resp *PushResponse) error

	Ack(target string, args *AckRequest, resp *AckResponse) error

	// Close permanently closes a transport, stopping any associated
	// goroutines and freeing other resources.
	Close() error
}

package mapserver

import (
	"bytes"
	"crypto/ecdsa"
	"testing"
	"time"

	"github.com/linsihaku/corda/src/common"
	"github.com/linsihaku/corda/src/crypto/keys"
	"github.com/linsihaku/corda/src/net"
	"github.com/linsihaku/corda/src/netmap"
)

func testParameters(t *testing.T) *netmap.SignedNetworkParameters {
	key, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}

	params := netmap.NetworkParameters{
		MinimumPlatformVersion: 4,
	}

	signed, err := netmap.SignParameters(&params, key)
	if err != nil {
		t.Fatal(err)
	}

	return signed
}

func testRecord(t *testing.T, name string, serial uint64) (*netmap.SignedNodeInfo, *ecdsa.PrivateKey) {
	key, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}

	info := netmap.NodeInfo{
		Addresses: []netmap.Address{
			{Host: name + ".example.com", Port: 10000},
		},
		Identities: []netmap.PartyAndCertificate{
			{Party: netmap.NewParty(name, &key.PublicKey)},
		},
		PlatformVersion: 4,
		Serial:          serial,
	}

	signed, err := netmap.SignNodeInfo(&info, netmap.OpAdd, key)
	if err != nil {
		t.Fatal(err)
	}

	return signed, key
}

func resign(t *testing.T, signed *netmap.SignedNodeInfo, key *ecdsa.PrivateKey, op netmap.NodeInfoOp, serial uint64) *netmap.SignedNodeInfo {
	info, err := signed.Verify()
	if err != nil {
		t.Fatal(err)
	}

	info.Serial = serial

	resigned, err := netmap.SignNodeInfo(info, op, key)
	if err != nil {
		t.Fatal(err)
	}

	return resigned
}

func newTestServer(t *testing.T, addr string) (*Server, *net.InmemTransport) {
	_, trans := net.NewInmemTransport(addr)

	server := NewServer(trans, testParameters(t), common.NewTestEntry(t))
	go server.Run()

	return server, trans
}

func TestServerFetch(t *testing.T) {
	server, serverTrans := newTestServer(t, "server")
	defer server.Shutdown()

	_, clientTrans := net.NewInmemTransport("client")
	defer clientTrans.Close()
	serverTrans.Connect("client", clientTrans)
	clientTrans.Connect("server", serverTrans)

	alice, _ := testRecord(t, "O=Alice,L=London,C=GB", 1)
	bob, _ := testRecord(t, "O=Bob,L=Paris,C=FR", 1)

	if err := server.Publish(alice); err != nil {
		t.Fatal(err)
	}
	if err := server.Publish(bob); err != nil {
		t.Fatal(err)
	}

	var resp net.FetchResponse
	err := clientTrans.Fetch("server", &net.FetchRequest{From: "client"}, &resp)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(resp.ParametersHash, server.signedParams.Hash()) {
		t.Fatalf("parameters hash mismatch")
	}
	if resp.Version != 2 {
		t.Fatalf("version should be 2, not %d", resp.Version)
	}
	if len(resp.Updates) != 2 {
		t.Fatalf("fetch should return 2 updates, not %d", len(resp.Updates))
	}

	// Nothing changed since version 2
	var resp2 net.FetchResponse
	err = clientTrans.Fetch("server", &net.FetchRequest{SinceVersion: 2, From: "client"}, &resp2)
	if err != nil {
		t.Fatal(err)
	}
	if resp2.Updates != nil {
		t.Fatalf("fetch at current version should return nil updates, got %d", len(resp2.Updates))
	}

	carol, _ := testRecord(t, "O=Carol,L=Rome,C=IT", 1)
	if err := server.Publish(carol); err != nil {
		t.Fatal(err)
	}

	var resp3 net.FetchResponse
	err = clientTrans.Fetch("server", &net.FetchRequest{SinceVersion: 2, From: "client"}, &resp3)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp3.Updates) != 1 {
		t.Fatalf("incremental fetch should return 1 update, not %d", len(resp3.Updates))
	}
}

func TestServerStaleSerial(t *testing.T) {
	server, _ := newTestServer(t, "server")
	defer server.Shutdown()

	alice, key := testRecord(t, "O=Alice,L=London,C=GB", 2)

	if err := server.Publish(alice); err != nil {
		t.Fatal(err)
	}

	// Same serial again
	if err := server.Publish(resign(t, alice, key, netmap.OpAdd, 2)); err == nil {
		t.Fatal("republishing with an equal serial should fail")
	}

	// Lower serial
	if err := server.Publish(resign(t, alice, key, netmap.OpAdd, 1)); err == nil {
		t.Fatal("republishing with a lower serial should fail")
	}

	// Higher serial supersedes
	if err := server.Publish(resign(t, alice, key, netmap.OpAdd, 3)); err != nil {
		t.Fatal(err)
	}
}

func TestServerRemoveTombstone(t *testing.T) {
	server, serverTrans := newTestServer(t, "server")
	defer server.Shutdown()

	_, clientTrans := net.NewInmemTransport("client")
	defer clientTrans.Close()
	serverTrans.Connect("client", clientTrans)
	clientTrans.Connect("server", serverTrans)

	alice, key := testRecord(t, "O=Alice,L=London,C=GB", 1)
	if err := server.Publish(alice); err != nil {
		t.Fatal(err)
	}

	var resp net.FetchResponse
	if err := clientTrans.Fetch("server", &net.FetchRequest{From: "client"}, &resp); err != nil {
		t.Fatal(err)
	}

	if err := server.Publish(resign(t, alice, key, netmap.OpRemove, 2)); err != nil {
		t.Fatal(err)
	}

	// A node at version 1 must learn about the removal
	var resp2 net.FetchResponse
	if err := clientTrans.Fetch("server", &net.FetchRequest{SinceVersion: resp.Version, From: "client"}, &resp2); err != nil {
		t.Fatal(err)
	}
	if len(resp2.Updates) != 1 {
		t.Fatalf("fetch should return 1 update, not %d", len(resp2.Updates))
	}
	if resp2.Updates[0].Op != netmap.OpRemove {
		t.Fatalf("update should be a removal, not %s", resp2.Updates[0].Op)
	}
}

func TestServerRefetchKeepsAckedVersion(t *testing.T) {
	server, serverTrans := newTestServer(t, "server")
	defer server.Shutdown()

	_, clientTrans := net.NewInmemTransport("client")
	defer clientTrans.Close()
	serverTrans.Connect("client", clientTrans)
	clientTrans.Connect("server", serverTrans)

	var resp net.FetchResponse
	err := clientTrans.Fetch("server", &net.FetchRequest{Subscribe: true, From: "client"}, &resp)
	if err != nil {
		t.Fatal(err)
	}

	var ackResp net.AckResponse
	if err := clientTrans.Ack("server", &net.AckRequest{Version: 2, From: "client"}, &ackResp); err != nil {
		t.Fatal(err)
	}
	if acked, ok := server.AckedVersion("client"); !ok || acked != 2 {
		t.Fatalf("server should have recorded acked version 2, got %d (%v)", acked, ok)
	}

	// A re-fetch reporting an older version must not rewind the subscription
	var resp2 net.FetchResponse
	err = clientTrans.Fetch("server", &net.FetchRequest{Subscribe: true, SinceVersion: 1, From: "client"}, &resp2)
	if err != nil {
		t.Fatal(err)
	}
	if acked, ok := server.AckedVersion("client"); !ok || acked != 2 {
		t.Fatalf("re-fetch should not rewind the acked version; got %d (%v)", acked, ok)
	}

	// But a re-fetch reporting a newer version moves it forward
	var resp3 net.FetchResponse
	err = clientTrans.Fetch("server", &net.FetchRequest{Subscribe: true, SinceVersion: 5, From: "client"}, &resp3)
	if err != nil {
		t.Fatal(err)
	}
	if acked, ok := server.AckedVersion("client"); !ok || acked != 5 {
		t.Fatalf("re-fetch should advance the acked version to 5; got %d (%v)", acked, ok)
	}
}

func TestServerPushAck(t *testing.T) {
	server, serverTrans := newTestServer(t, "server")
	defer server.Shutdown()

	_, clientTrans := net.NewInmemTransport("client")
	defer clientTrans.Close()
	serverTrans.Connect("client", clientTrans)
	clientTrans.Connect("server", serverTrans)

	var resp net.SubscribeResponse
	err := clientTrans.Subscribe("server", &net.SubscribeRequest{Subscribe: true, From: "client"}, &resp)
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Confirmed {
		t.Fatal("subscription should be confirmed")
	}

	pushCh := make(chan *net.PushRequest, 1)
	go func() {
		rpc := <-clientTrans.Consumer()
		req := rpc.Command.(*net.PushRequest)
		rpc.Respond(&net.PushResponse{}, nil)
		pushCh <- req
	}()

	alice, _ := testRecord(t, "O=Alice,L=London,C=GB", 1)
	if err := server.Publish(alice); err != nil {
		t.Fatal(err)
	}

	var pushed *net.PushRequest
	select {
	case pushed = <-pushCh:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for push")
	}

	if pushed.Version != 1 {
		t.Fatalf("pushed version should be 1, not %d", pushed.Version)
	}
	if _, err := pushed.Update.Verify(); err != nil {
		t.Fatal(err)
	}

	// Acknowledge the applied update
	var ackResp net.AckResponse
	err = clientTrans.Ack("server", &net.AckRequest{Version: pushed.Version, From: "client"}, &ackResp)
	if err != nil {
		t.Fatal(err)
	}

	if acked, ok := server.AckedVersion("client"); !ok || acked != 1 {
		t.Fatalf("server should have recorded acked version 1, got %d (%v)", acked, ok)
	}

	// Deregister
	var unsubResp net.SubscribeResponse
	err = clientTrans.Subscribe("server", &net.SubscribeRequest{Subscribe: false, From: "client"}, &unsubResp)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := server.AckedVersion("client"); ok {
		t.Fatal("client should no longer be subscribed")
	}
}

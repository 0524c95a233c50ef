// Package corda assembles a directory node or a map service from its
// configuration: key material, store, cache, transport, sync client or map
// server, file watcher, and HTTP API.
package corda

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/linsihaku/corda/src/client"
	cm "github.com/linsihaku/corda/src/common"
	"github.com/linsihaku/corda/src/config"
	"github.com/linsihaku/corda/src/crypto/keys"
	"github.com/linsihaku/corda/src/identity"
	"github.com/linsihaku/corda/src/mapserver"
	"github.com/linsihaku/corda/src/net"
	"github.com/linsihaku/corda/src/netmap"
	"github.com/linsihaku/corda/src/service"
)

// Corda is the assembled process: a regular directory node, or the map
// service when Config.MapService is set.
type Corda struct {
	Config     *config.Config
	Store      netmap.Store
	Cache      *netmap.VerifyingCache
	Identities *identity.Registry
	Transport  net.Transport
	Client     *client.MapClient
	MapServer  *mapserver.Server
	Service    *service.Service
	Watcher    *client.Watcher
}

// NewCorda creates an engine from a config. Call Init before Run.
func NewCorda(config *config.Config) *Corda {
	engine := &Corda{
		Config: config,
	}

	return engine
}

func (c *Corda) initKey() error {
	if c.Config.Key == nil {
		keyfile := keys.NewSimpleKeyfile(c.Config.Keyfile())

		privKey, err := keyfile.ReadKey()
		if err != nil {
			c.Config.Logger().Warn("Cannot read private key from file", err)

			privKey, err = Keygen(c.Config.DataDir)
			if err != nil {
				c.Config.Logger().Error("Cannot generate a new private key", err)

				return err
			}

			c.Config.Logger().Info("Created a new key:", keys.PublicKeyHex(&privKey.PublicKey))
		}

		c.Config.Key = privKey
	}
	return nil
}

func (c *Corda) initStore() error {
	if !c.Config.Store {
		c.Store = netmap.NewInmemStore()

		c.Config.Logger().Debug("created new in-mem store")
	} else {
		var err error

		c.Config.Logger().WithField("path", c.Config.DatabaseDir).Debug("Attempting to load or create database")

		c.Store, err = netmap.LoadOrCreateBadgerStore(c.Config.DatabaseDir)
		if err != nil {
			return err
		}

		if c.Store.NeedBootstrap() {
			c.Config.Logger().Debug("loaded badger store from existing database")
		} else {
			c.Config.Logger().Debug("created new badger store from fresh database")
		}
	}

	return nil
}

func (c *Corda) initCache() error {
	cache, err := netmap.NewCache(c.Store, 0, c.Config.Logger())
	if err != nil {
		return err
	}

	c.Identities = identity.NewRegistry(c.Config.Logger())
	c.Cache = netmap.NewVerifyingCache(cache, c.Identities, c.Config.Logger())

	return nil
}

func (c *Corda) initTransport() error {
	transport, err := net.NewTCPTransport(
		c.Config.BindAddr,
		c.Config.AdvertiseAddr,
		c.Config.MaxPool,
		c.Config.TCPTimeout,
		c.Config.Logger(),
	)
	if err != nil {
		return err
	}

	c.Transport = transport

	return nil
}

func (c *Corda) initMapServer() error {
	params := &netmap.NetworkParameters{
		MinimumPlatformVersion: c.Config.MinPlatformVersion,
	}

	signed, err := netmap.SignParameters(params, c.Config.Key)
	if err != nil {
		return err
	}

	c.MapServer = mapserver.NewServer(c.Transport, signed, c.Config.Logger())

	return nil
}

func (c *Corda) initClient() error {
	trusted, err := trustedKey(c.Config.TrustedKey)
	if err != nil {
		return err
	}

	negotiator := client.NewParameterNegotiator(
		trusted,
		c.Config.MinPlatformVersion,
		c.Cache,
		c.Config.Logger(),
	)

	c.Client = client.NewMapClient(c.Cache, c.Transport, negotiator, c.Config.Logger())

	return nil
}

func (c *Corda) initWatcher() error {
	dir := c.Config.NodeInfoDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	// The map service publishes dropped records to the network; a node
	// applies them to its own cache.
	var applier client.Applier
	if c.MapServer != nil {
		applier = client.ApplierFunc(c.MapServer.Publish)
	} else {
		applier = client.NewMapApplier(c.Cache)
	}

	watcher, err := client.NewWatcher(dir, applier, c.Config.Logger())
	if err != nil {
		return err
	}

	c.Watcher = watcher

	return nil
}

func (c *Corda) initService() error {
	if !c.Config.NoService {
		c.Service = service.NewService(c.Config.ServiceAddr, c.Cache, c.Config.Logger())
	}
	return nil
}

// Init assembles all components. The transport is bound but not serving yet.
func (c *Corda) Init() error {
	if err := c.initKey(); err != nil {
		return err
	}

	if err := c.initStore(); err != nil {
		return err
	}

	if err := c.initCache(); err != nil {
		return err
	}

	if err := c.initTransport(); err != nil {
		return err
	}

	if c.Config.MapService {
		if err := c.initMapServer(); err != nil {
			return err
		}
	} else {
		if err := c.initClient(); err != nil {
			return err
		}
	}

	if err := c.initWatcher(); err != nil {
		return err
	}

	if err := c.initService(); err != nil {
		return err
	}

	return nil
}

// Run starts serving. For the map service this blocks on the RPC loop; for a
// regular node it synchronizes with the configured map service, publishes the
// node's own record, and blocks on the ready signal plus the push handler.
func (c *Corda) Run() error {
	go c.Transport.Listen()

	if c.Service != nil {
		go c.Service.Serve()
	}

	if c.MapServer != nil {
		c.MapServer.Run()
		return nil
	}

	sinceVersion, err := c.Cache.MapVersion()
	if err != nil {
		return err
	}

	if err := c.Client.Connect(c.Config.MapServiceAddr, c.Config.Subscribe, sinceVersion); err != nil {
		return err
	}

	<-c.Client.Ready()

	if err := c.PublishSelf(); err != nil {
		return err
	}

	select {}
}

// PublishSelf signs the node's own record and drops it into the watched
// directory, superseding any stored record for the node's identity.
func (c *Corda) PublishSelf() error {
	addr := c.Config.AdvertiseAddr
	if addr == "" {
		addr = c.Config.BindAddr
	}

	address, err := netmap.ParseAddress(addr)
	if err != nil {
		return err
	}

	party := netmap.NewParty(c.Config.Moniker, &c.Config.Key.PublicKey)

	var serial uint64 = 1
	if existing, err := c.Cache.GetNodeByPubKey(party.PubKeyHex); err == nil {
		serial = existing.Serial + 1
	}

	info := &netmap.NodeInfo{
		Addresses: []netmap.Address{address},
		Identities: []netmap.PartyAndCertificate{
			{Party: party},
		},
		PlatformVersion: c.Config.PlatformVersion,
		Serial:          serial,
	}

	signed, err := netmap.SignNodeInfo(info, netmap.OpAdd, c.Config.Key)
	if err != nil {
		return err
	}

	data, err := json.Marshal(signed)
	if err != nil {
		return err
	}

	// Write-then-rename so the watcher never reads a partial file
	dir := c.Config.NodeInfoDir()
	tmp := filepath.Join(dir, ".self")
	if err := ioutil.WriteFile(tmp, data, 0600); err != nil {
		return err
	}

	return os.Rename(tmp, filepath.Join(dir, "self"))
}

// Shutdown tears the process down.
func (c *Corda) Shutdown() {
	if c.Watcher != nil {
		c.Watcher.Close()
	}
	if c.Client != nil {
		c.Client.Shutdown()
	}
	if c.MapServer != nil {
		c.MapServer.Shutdown()
	}
	if c.Cache != nil {
		c.Cache.Close()
	}
	if c.Store != nil {
		c.Store.Close()
	}
}

// Keygen generates a new key and writes it to the keyfile under datadir. It
// refuses to overwrite an existing key.
func Keygen(datadir string) (*ecdsa.PrivateKey, error) {
	keyfile := keys.NewSimpleKeyfile(filepath.Join(datadir, config.DefaultKeyfile))

	_, err := keyfile.ReadKey()
	if err == nil {
		return nil, fmt.Errorf("another key already lives under %s", datadir)
	}

	privKey, err := keys.GenerateECDSAKey()
	if err != nil {
		return nil, err
	}

	if err := keyfile.WriteKey(privKey); err != nil {
		return nil, err
	}

	return privKey, nil
}

// trustedKey decodes the network operator's public key from its hex form.
func trustedKey(hex string) (*ecdsa.PublicKey, error) {
	if hex == "" {
		return nil, fmt.Errorf("no trusted network operator key configured")
	}

	raw, err := cm.DecodeFromString(hex)
	if err != nil {
		return nil, err
	}

	pub := keys.ToPublicKey(raw)
	if pub == nil {
		return nil, fmt.Errorf("trusted key does not decode to a curve point")
	}

	return pub, nil
}

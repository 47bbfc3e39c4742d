// Package astreum ties the node's components together behind one engine
// object: key, store, transport, node, and HTTP service are initialized from
// a single Config and started with Run.
package astreum

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"path"

	"github.com/astreum/astreum-go/src/config"
	"github.com/astreum/astreum-go/src/crypto/keys"
	"github.com/astreum/astreum-go/src/machine"
	"github.com/astreum/astreum-go/src/node"
	"github.com/astreum/astreum-go/src/relay"
	"github.com/astreum/astreum-go/src/service"
	"github.com/astreum/astreum-go/src/store"
)

// Astreum is the top-level object wrapping a node and its HTTP service.
type Astreum struct {
	Config    *config.Config
	Node      *node.Node
	Transport *relay.Transport
	Store     store.Store
	Service   *service.Service
}

// NewAstreum instantiates an engine with a config; call Init before Run.
func NewAstreum(config *config.Config) *Astreum {
	engine := &Astreum{
		Config: config,
	}

	return engine
}

func (a *Astreum) initKey() error {
	if a.Config.Key == nil {
		simpleKeyfile := keys.NewSimpleKeyfile(a.Config.Keyfile())

		privKey, err := simpleKeyfile.ReadKey()

		if err != nil {
			a.Config.Logger().Warn("Cannot read private key from file", err)

			privKey, err = Keygen(a.Config.Keyfile())

			if err != nil {
				a.Config.Logger().Error("Cannot generate a new private key", err)

				return err
			}

			a.Config.Logger().WithField("file", a.Config.Keyfile()).
				Debug("generated new key")
		}

		a.Config.Key = privKey
	}

	return nil
}

func (a *Astreum) initMachine() {
	if a.Config.Machine == nil {
		a.Config.Machine = machine.NewInmemMachine(a.Config.Logger())
	}
}

func (a *Astreum) initStore() error {
	if !a.Config.Store {
		a.Store = store.NewInmemStore(a.Config.MaxStorageSpace, a.Config.Logger())

		a.Config.Logger().Debug("created new in-mem store")

		return nil
	}

	a.Config.Logger().WithField("path", a.Config.DatabaseDir).
		Debug("Attempting to load or create database")

	badgerStore, err := store.NewBadgerStore(
		a.Config.DatabaseDir,
		a.Config.MaxStorageSpace,
		a.Config.CacheSize,
		a.Config.Logger(),
	)
	if err != nil {
		return err
	}

	a.Store = badgerStore

	return nil
}

func (a *Astreum) initTransport() error {
	transport, err := relay.NewTransport(
		a.Config.BindAddr,
		a.Config.UseIPv6,
		a.Config.MaxMessageSize,
		a.Config.NumWorkers,
		a.Config.Logger(),
	)

	if err != nil {
		return err
	}

	a.Transport = transport

	return nil
}

func (a *Astreum) initNode() error {
	validator := node.NewValidator(a.Config.Key, a.Config.Moniker)

	a.Node = node.NewNode(
		a.Config,
		validator,
		a.Store,
		a.Transport,
	)

	return a.Node.Init()
}

func (a *Astreum) initService() error {
	if !a.Config.NoService {
		a.Service = service.NewService(a.Config.ServiceAddr, a.Node, a.Config.Logger())
	}
	return nil
}

// Init initializes all the components in dependency order.
func (a *Astreum) Init() error {
	if err := os.MkdirAll(a.Config.DataDir, 0700); err != nil {
		return fmt.Errorf("creating datadir: %v", err)
	}

	if err := a.initKey(); err != nil {
		return err
	}

	a.initMachine()

	if err := a.initStore(); err != nil {
		return err
	}

	if err := a.initTransport(); err != nil {
		return err
	}

	if err := a.initNode(); err != nil {
		return err
	}

	if err := a.initService(); err != nil {
		return err
	}

	return nil
}

// Run starts the HTTP service in the background and blocks on the node's main
// loop.
func (a *Astreum) Run() {
	if a.Service != nil {
		go a.Service.Serve()
	}

	a.Node.Run()
}

// Keygen generates a new key pair, persists it to keyfile, and returns it.
func Keygen(keyfile string) (*ecdsa.PrivateKey, error) {
	key, err := keys.GenerateECDSAKey()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(path.Dir(keyfile), 0700); err != nil {
		return nil, err
	}

	simpleKeyfile := keys.NewSimpleKeyfile(keyfile)
	if err := simpleKeyfile.WriteKey(key); err != nil {
		return nil, err
	}

	return key, nil
}

package astreum

import (
	"testing"
	"time"

	"github.com/astreum/astreum-go/src/config"
	"github.com/sirupsen/logrus"
)

func newTestEngine(t *testing.T, datadir string) *Astreum {
	t.Helper()

	conf := config.NewTestConfig(t, logrus.DebugLevel)
	conf.SetDataDir(datadir)
	conf.BindAddr = "127.0.0.1:0"
	conf.NoService = true
	conf.RequestTimeout = 500 * time.Millisecond

	engine := NewAstreum(conf)
	if err := engine.Init(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(engine.Node.Shutdown)

	return engine
}

func TestInitGeneratesKey(t *testing.T) {
	datadir := t.TempDir()
	engine := newTestEngine(t, datadir)

	if engine.Config.Key == nil {
		t.Fatal("Init should have generated a key")
	}
	if engine.Node == nil || engine.Transport == nil || engine.Store == nil {
		t.Fatal("Init should have built all components")
	}
	if engine.Service != nil {
		t.Fatal("no-service should suppress the HTTP service")
	}
}

func TestKeyPersistsAcrossRuns(t *testing.T) {
	datadir := t.TempDir()

	first := newTestEngine(t, datadir)
	firstID := first.Node.ID()
	first.Node.Shutdown()

	conf := config.NewTestConfig(t, logrus.DebugLevel)
	conf.SetDataDir(datadir)
	conf.BindAddr = "127.0.0.1:0"
	conf.NoService = true

	second := NewAstreum(conf)
	if err := second.Init(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(second.Node.Shutdown)

	if second.Node.ID() != firstID {
		t.Fatal("restart should reuse the key from the keyfile")
	}
}

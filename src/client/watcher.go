package client

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/linsihaku/corda/src/netmap"
	"github.com/sirupsen/logrus"
)

// Applier consumes signed records from the out-of-band file channel. The node
// applies them to its cache; the map service publishes them to the network.
type Applier interface {
	Apply(signed *netmap.SignedNodeInfo) error
}

// ApplierFunc adapts a function to the Applier interface.
type ApplierFunc func(signed *netmap.SignedNodeInfo) error

// Apply implements the Applier interface.
func (f ApplierFunc) Apply(signed *netmap.SignedNodeInfo) error {
	return f(signed)
}

// MapApplier applies signed records to a directory cache, exactly like push
// updates: verify, then add or remove by operation.
type MapApplier struct {
	nm netmap.NetworkMap
}

// NewMapApplier creates an applier over a cache.
func NewMapApplier(nm netmap.NetworkMap) *MapApplier {
	return &MapApplier{nm: nm}
}

// Apply implements the Applier interface.
func (a *MapApplier) Apply(signed *netmap.SignedNodeInfo) error {
	info, err := signed.Verify()
	if err != nil {
		return err
	}

	switch signed.Op {
	case netmap.OpAdd:
		return a.nm.AddNode(info)
	case netmap.OpRemove:
		return a.nm.RemoveNode(info)
	default:
		return fmt.Errorf("unknown operation %q", signed.Op)
	}
}

// Watcher applies individually signed node records dropped as files into a
// watched directory. A file that fails to parse or verify is logged and
// skipped without stopping the watcher. This is the local out-of-band channel
// for directory updates, used among other things to publish the node's own
// record.
type Watcher struct {
	dir     string
	applier Applier

	fsw    *fsnotify.Watcher
	logger *logrus.Entry

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex
	wg           sync.WaitGroup
}

// NewWatcher starts watching a directory. Files already present are applied
// before the watch loop starts, so records dropped while the node was down are
// not lost.
func NewWatcher(dir string, applier Applier, logger *logrus.Entry) (*Watcher, error) {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		dir:        dir,
		applier:    applier,
		fsw:        fsw,
		logger:     logger,
		shutdownCh: make(chan struct{}),
	}

	w.scan()

	w.wg.Add(1)
	go w.run()

	return w, nil
}

// Close stops the watch loop.
func (w *Watcher) Close() error {
	w.shutdownLock.Lock()
	defer w.shutdownLock.Unlock()

	if !w.shutdown {
		close(w.shutdownCh)
		w.fsw.Close()
		w.wg.Wait()
		w.shutdown = true
	}
	return nil
}

// scan applies every file already present in the directory.
func (w *Watcher) scan() {
	files, err := ioutil.ReadDir(w.dir)
	if err != nil {
		w.logger.WithFields(logrus.Fields{
			"dir":   w.dir,
			"error": err,
		}).Warning("Failed to scan node record directory")
		return
	}

	for _, f := range files {
		if f.IsDir() || strings.HasPrefix(f.Name(), ".") {
			continue
		}
		w.applyFile(filepath.Join(w.dir, f.Name()))
	}
}

func (w *Watcher) run() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}
			w.applyFile(event.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.WithField("error", err).Warning("Node record directory watch error")
		case <-w.shutdownCh:
			return
		}
	}
}

// applyFile parses and applies one signed record file. All failures are
// isolated to the file.
func (w *Watcher) applyFile(path string) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		w.logger.WithFields(logrus.Fields{
			"file":  path,
			"error": err,
		}).Warning("Failed to read node record file")
		return
	}

	var signed netmap.SignedNodeInfo
	if err := json.Unmarshal(data, &signed); err != nil {
		w.logger.WithFields(logrus.Fields{
			"file":  path,
			"error": err,
		}).Warning("Failed to parse node record file")
		return
	}

	if err := w.applier.Apply(&signed); err != nil {
		w.logger.WithFields(logrus.Fields{
			"file":  path,
			"error": err,
		}).Warning("Dropping node record file")
		return
	}

	w.logger.WithField("file", path).Debug("Applied node record file")
}

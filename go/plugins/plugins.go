// Package plugins hosts optional ingestion extensions.
//
// Plugins are registered in-process or discovered from a directory of Go
// plugin objects laid out as <dir>/<name>/<name>.so, each exporting a
// VisionLensPlugin symbol. Hook dispatch is fault-isolated: a plugin that
// returns an error or panics is logged and skipped, and never takes the
// host down with it.
package plugins

import (
	"context"
	"os"
	"path/filepath"
	"plugin"
	"sync"

	"github.com/visionlens/visionlens/go/metrics2"
	"github.com/visionlens/visionlens/go/skerr"
	"github.com/visionlens/visionlens/go/sklog"
	"github.com/visionlens/visionlens/go/types"
)

// SymbolName is the exported variable every plugin object must carry.
const SymbolName = "VisionLensPlugin"

// Context travels with every hook invocation. Fields are added over time;
// plugins must tolerate zero values.
type Context struct {
	DatasetID string
	Metadata  map[string]string
}

// Stats summarises a finished ingestion run.
type Stats struct {
	Images      int64
	Annotations int64
	Categories  int64
}

// Plugin is the extension contract. Embed Base to implement only the
// hooks you need.
type Plugin interface {
	// Name uniquely identifies the plugin. Registering a second plugin
	// with the same name replaces the first.
	Name() string
	// Description is optional human-readable help text.
	Description() string

	// OnActivate runs once at registration.
	OnActivate() error
	// OnDeactivate runs at host shutdown.
	OnDeactivate() error

	// OnIngestStart runs before any row of the dataset is inserted.
	OnIngestStart(ctx context.Context, pc Context) error
	// OnSampleIngested may rewrite a sample before it is inserted. The
	// default is identity.
	OnSampleIngested(ctx context.Context, pc Context, sample types.Sample) (types.Sample, error)
	// OnIngestComplete runs after the final counts are known.
	OnIngestComplete(ctx context.Context, pc Context, stats Stats) error
}

// Base is a no-op implementation of every hook. Plugins embed it and
// override what they need; Name is deliberately left out so every plugin
// must provide its own.
type Base struct{}

// Description implements Plugin.
func (Base) Description() string { return "" }

// OnActivate implements Plugin.
func (Base) OnActivate() error { return nil }

// OnDeactivate implements Plugin.
func (Base) OnDeactivate() error { return nil }

// OnIngestStart implements Plugin.
func (Base) OnIngestStart(context.Context, Context) error { return nil }

// OnSampleIngested implements Plugin.
func (Base) OnSampleIngested(_ context.Context, _ Context, sample types.Sample) (types.Sample, error) {
	return sample, nil
}

// OnIngestComplete implements Plugin.
func (Base) OnIngestComplete(context.Context, Context, Stats) error { return nil }

// Host keeps plugins in registration order and dispatches hooks to all of
// them behind a fault barrier.
type Host struct {
	mtx     sync.Mutex
	plugins []Plugin
	index   map[string]int

	failures metrics2.Counter
}

// NewHost returns an empty Host.
func NewHost() *Host {
	return &Host{
		index:    map[string]int{},
		failures: metrics2.GetCounter("visionlens_plugin_hook_failures"),
	}
}

// Register adds a plugin, replacing any prior plugin with the same name,
// and activates it. Activation failures are logged, not returned; the
// plugin stays registered either way.
func (h *Host) Register(p Plugin) {
	h.mtx.Lock()
	if i, ok := h.index[p.Name()]; ok {
		h.plugins[i] = p
	} else {
		h.index[p.Name()] = len(h.plugins)
		h.plugins = append(h.plugins, p)
	}
	h.mtx.Unlock()
	h.invoke(p, "on_activate", func() error { return p.OnActivate() })
	sklog.Infof("Registered plugin: %s", p.Name())
}

// Discover loads plugin objects from dir and registers each one. A
// missing directory is not an error; a directory entry without a matching
// .so, or an object that fails to load, is logged and skipped. Returns
// the names registered, in directory order.
func (h *Host) Discover(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		sklog.Infof("No plugin directory at %s", dir)
		return nil
	}
	var discovered []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		soPath := filepath.Join(dir, e.Name(), e.Name()+".so")
		if _, err := os.Stat(soPath); err != nil {
			continue
		}
		p, err := load(soPath)
		if err != nil {
			sklog.Errorf("Failed to load plugin from %s: %s", soPath, err)
			continue
		}
		h.Register(p)
		discovered = append(discovered, p.Name())
	}
	return discovered
}

// load opens one plugin object and extracts its Plugin symbol. The symbol
// may be declared as the interface or as a concrete type implementing it.
func load(path string) (Plugin, error) {
	obj, err := plugin.Open(path)
	if err != nil {
		return nil, skerr.Wrapf(err, "opening %s", path)
	}
	sym, err := obj.Lookup(SymbolName)
	if err != nil {
		return nil, skerr.Wrapf(err, "looking up %s in %s", SymbolName, path)
	}
	switch v := sym.(type) {
	case Plugin:
		return v, nil
	case *Plugin:
		if *v == nil {
			return nil, skerr.Fmt("%s in %s is nil", SymbolName, path)
		}
		return *v, nil
	}
	return nil, skerr.Fmt("%s in %s does not implement plugins.Plugin", SymbolName, path)
}

// IngestStart fires on_ingest_start on every plugin.
func (h *Host) IngestStart(ctx context.Context, pc Context) {
	for _, p := range h.snapshot() {
		p := p
		h.invoke(p, "on_ingest_start", func() error { return p.OnIngestStart(ctx, pc) })
	}
}

// SampleIngested threads the sample through every plugin in registration
// order. A failing plugin leaves the sample as the previous plugin shaped
// it.
func (h *Host) SampleIngested(ctx context.Context, pc Context, sample types.Sample) types.Sample {
	for _, p := range h.snapshot() {
		p := p
		h.invoke(p, "on_sample_ingested", func() error {
			modified, err := p.OnSampleIngested(ctx, pc, sample)
			if err != nil {
				return err
			}
			sample = modified
			return nil
		})
	}
	return sample
}

// IngestComplete fires on_ingest_complete on every plugin.
func (h *Host) IngestComplete(ctx context.Context, pc Context, stats Stats) {
	for _, p := range h.snapshot() {
		p := p
		h.invoke(p, "on_ingest_complete", func() error { return p.OnIngestComplete(ctx, pc, stats) })
	}
}

// Shutdown deactivates every plugin. Each call is individually isolated
// so one plugin's failure does not keep the others from shutting down.
func (h *Host) Shutdown() {
	for _, p := range h.snapshot() {
		p := p
		h.invoke(p, "on_deactivate", func() error { return p.OnDeactivate() })
	}
}

// Names returns the registered plugin names in registration order.
func (h *Host) Names() []string {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	rv := make([]string, 0, len(h.plugins))
	for _, p := range h.plugins {
		rv = append(rv, p.Name())
	}
	return rv
}

// Get returns a registered plugin by name.
func (h *Host) Get(name string) (Plugin, bool) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	i, ok := h.index[name]
	if !ok {
		return nil, false
	}
	return h.plugins[i], true
}

// snapshot copies the plugin list so hooks run outside the lock.
func (h *Host) snapshot() []Plugin {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	return append([]Plugin(nil), h.plugins...)
}

// invoke runs one hook behind the fault barrier.
func (h *Host) invoke(p Plugin, hook string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			h.failures.Inc(1)
			sklog.Errorf("Plugin %s panicked in %s: %v", p.Name(), hook, r)
		}
	}()
	if err := fn(); err != nil {
		h.failures.Inc(1)
		sklog.Errorf("Plugin %s failed in %s: %s", p.Name(), hook, err)
	}
}

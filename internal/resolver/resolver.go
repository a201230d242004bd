package resolver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ccb-dev/ccb/internal/ccberr"
	"github.com/ccb-dev/ccb/internal/descriptor"
	"github.com/ccb-dev/ccb/internal/terminal"
)

// Binding is the resolver's answer for one project+provider pair: the
// validated pane id and the transcript path to tail.
type Binding struct {
	SessionKey        string
	PaneID            string
	TranscriptPath    string
	DescriptorPath    string
	CCBSessionID      string
	WorkDir           string
	Provider          string
	OpenCodeSessionID string // set only for provider "opencode": its internal "ses_..." id
}

const (
	initialRebindInterval = 60 * time.Second
	maxRebindInterval     = 10 * time.Minute
	monitorTick           = 10 * time.Second
	evictAfter            = 5 * time.Minute
)

// cacheEntry tracks one live session's rebind schedule: it starts rechecking
// every 60s, backs off exponentially to a 10-minute ceiling while nothing
// changes, and resets to 60s the moment the descriptor is touched again.
type cacheEntry struct {
	binding      Binding
	provider     string
	descMtime    time.Time
	nextRebindAt time.Time
	rebindEvery  time.Duration
	invalidSince time.Time // zero while valid
}

// Resolver owns the session cache and the single goroutine that refreshes
// it: all reads and writes are serialized through a channel rather than
// guarded by a mutex, so the cache itself never needs its own lock.
type Resolver struct {
	backend terminal.Backend
	opts    BindOptions

	reqCh  chan resolveReq
	stopCh chan struct{}
	wg     sync.WaitGroup

	cache map[string]*cacheEntry // keyed by descriptor path
}

type resolveReq struct {
	provider string
	workDir  string
	reply    chan resolveReply
}

type resolveReply struct {
	binding Binding
	err     error
}

// New starts the resolver's monitor goroutine. Callers stop it with Close.
func New(backend terminal.Backend, opts BindOptions) *Resolver {
	r := &Resolver{
		backend: backend,
		opts:    opts,
		reqCh:   make(chan resolveReq),
		stopCh:  make(chan struct{}),
		cache:   map[string]*cacheEntry{},
	}
	r.wg.Add(1)
	go r.run()
	return r
}

func (r *Resolver) Close() {
	close(r.stopCh)
	r.wg.Wait()
}

// Resolve finds (or refreshes) the binding for workDir+provider, routed
// through the monitor goroutine so all cache access is single-threaded.
func (r *Resolver) Resolve(ctx context.Context, provider, workDir string) (Binding, error) {
	reply := make(chan resolveReply, 1)
	select {
	case r.reqCh <- resolveReq{provider: provider, workDir: workDir, reply: reply}:
	case <-ctx.Done():
		return Binding{}, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.binding, res.err
	case <-ctx.Done():
		return Binding{}, ctx.Err()
	}
}

func (r *Resolver) run() {
	defer r.wg.Done()
	ticker := time.NewTicker(monitorTick)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case req := <-r.reqCh:
			binding, err := r.resolveOnce(context.Background(), req.provider, req.workDir)
			req.reply <- resolveReply{binding: binding, err: err}
		case <-ticker.C:
			r.tick()
		}
	}
}

// tick rechecks every cached live session on its own schedule and evicts
// entries invalid for more than evictAfter.
func (r *Resolver) tick() {
	now := time.Now()
	for key, entry := range r.cache {
		if !entry.invalidSince.IsZero() && now.Sub(entry.invalidSince) > evictAfter {
			delete(r.cache, key)
			continue
		}
		if now.Before(entry.nextRebindAt) {
			continue
		}
		r.refreshEntry(context.Background(), key, entry)
	}
}

func (r *Resolver) refreshEntry(ctx context.Context, descPath string, entry *cacheEntry) {
	info, err := os.Stat(descPath)
	if err != nil {
		entry.invalidSince = time.Now()
		return
	}
	changed := info.ModTime().After(entry.descMtime)

	d, err := descriptor.Load(descPath)
	if err != nil {
		entry.invalidSince = time.Now()
		return
	}
	binding, err := r.bindDescriptor(ctx, d, descPath, entry.provider)
	if err != nil {
		entry.invalidSince = time.Now()
		return
	}
	entry.invalidSince = time.Time{}
	entry.binding = binding
	entry.descMtime = info.ModTime()

	if changed {
		entry.rebindEvery = initialRebindInterval
	} else {
		entry.rebindEvery *= 2
		if entry.rebindEvery > maxRebindInterval {
			entry.rebindEvery = maxRebindInterval
		}
	}
	entry.nextRebindAt = time.Now().Add(entry.rebindEvery)
}

// resolveOnce implements the per-request resolution path: find the
// descriptor, validate pane liveness (with a respawn attempt on tmux), and
// bind the current transcript file.
func (r *Resolver) resolveOnce(ctx context.Context, provider, workDir string) (Binding, error) {
	descPath, ok := descriptor.Find(workDir, provider)
	if !ok {
		return Binding{}, ccberr.New(ccberr.ConfigError, fmt.Sprintf("no session descriptor for provider %q under %s", provider, workDir))
	}
	d, err := descriptor.Load(descPath)
	if err != nil {
		return Binding{}, ccberr.Wrap(ccberr.ConfigError, "malformed descriptor", err)
	}

	paneID, err := r.validatePane(ctx, d)
	if err != nil {
		return Binding{}, err
	}
	d.PaneID = paneID

	binding, err := r.bindDescriptor(ctx, d, descPath, provider)
	if err != nil {
		return Binding{}, err
	}

	info, _ := os.Stat(descPath)
	mtime := time.Time{}
	if info != nil {
		mtime = info.ModTime()
	}
	r.cache[descPath] = &cacheEntry{
		binding:      binding,
		provider:     provider,
		descMtime:    mtime,
		rebindEvery:  initialRebindInterval,
		nextRebindAt: time.Now().Add(initialRebindInterval),
	}
	return binding, nil
}

// validatePane checks pane liveness, attempting find-by-title-marker and,
// for tmux panes named "%N", a respawn (saving a crash log first).
func (r *Resolver) validatePane(ctx context.Context, d *descriptor.Descriptor) (string, error) {
	if r.backend == nil {
		return "", ccberr.New(ccberr.ConfigError, "no terminal backend available")
	}
	if d.PaneID != "" {
		alive, err := r.backend.IsAlive(ctx, d.PaneID)
		if err == nil && alive {
			return d.PaneID, nil
		}
	}

	if opt, ok := r.backend.(terminal.OptionalBackend); ok && d.PaneTitleMarker != "" {
		if paneID, found, err := opt.FindPaneByTitleMarker(ctx, d.PaneTitleMarker); err == nil && found {
			return paneID, nil
		}
	}

	if strings.HasPrefix(d.PaneID, "%") && d.StartCmd != "" {
		if opt, ok := r.backend.(terminal.OptionalBackend); ok {
			crashPath := filepath.Join(d.RuntimeDir, "crash-"+d.CCBSessionID+".log")
			_ = opt.SaveCrashLog(ctx, d.PaneID, crashPath, 200)
			if err := opt.RespawnPane(ctx, d.PaneID, d.StartCmd, d.WorkDir, true); err == nil {
				return d.PaneID, nil
			}
		}
	}

	return "", ccberr.New(ccberr.PaneError, "pane not alive and could not be respawned")
}

func (r *Resolver) bindDescriptor(ctx context.Context, d *descriptor.Descriptor, descPath, provider string) (Binding, error) {
	opts := r.opts
	opts.ProjectPath = NormalizePath(d.WorkDir)
	path, err := Bind(ctx, d, opts, provider)
	if err != nil {
		return Binding{}, err
	}
	return Binding{
		SessionKey:        d.SessionKey(),
		PaneID:            d.PaneID,
		TranscriptPath:    path,
		DescriptorPath:    descPath,
		CCBSessionID:      d.CCBSessionID,
		WorkDir:           d.WorkDir,
		Provider:          provider,
		OpenCodeSessionID: d.StringExtra("opencode_session_id"),
	}, nil
}

// Package config implements loading and hot-reloading of the two XML
// configuration files this gateway watches: service.xml (service-wide
// knobs - certificate stores, the admin listener) and hosts.xml (the
// routing table). It is adapted from the teacher's viper-based
// internal/config.Load, which watches a single YAML file via
// fsnotify.Watcher and debounces rapid-fire edits before invoking a
// reload callback; this package keeps that shape - encoding/xml decode,
// fsnotify.Watcher, a debounce window, a short settle delay before
// re-reading - but replaces viper (a YAML-oriented config layer with no
// XML decoding support) with a direct os.ReadFile + xml.Unmarshal pass,
// since the wire format here is XML, not YAML (see DESIGN.md).
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow and settleDelay mirror the teacher's lame debounce: editors
// commonly write a config file across more than one syscall (rename,
// truncate+write, ...), so a burst of fsnotify events for one logical edit
// is collapsed into a single reload, after a short pause to let the write
// finish landing on disk.
const (
	debounceWindow = 500 * time.Millisecond
	settleDelay    = 150 * time.Millisecond
)

// Files is the pair of paths this package watches, both inside the same
// directory per spec.md §6 ("two files ... under a watched directory").
type Files struct {
	ServiceXML string
	HostsXML   string
}

// Documents is one successfully parsed pair of configuration files, handed
// to Build by the caller (the Service App owns BuildDeps, which Documents
// has no reason to know about).
type Documents struct {
	Service ServiceDocument
	Hosts   HostsDocument
}

// Load parses both files once and returns the result; it does not start
// watching. Callers that want hot reload call Watch separately once the
// initial configuration is live.
func Load(files Files) (*Documents, error) {
	var docs Documents

	serviceBytes, err := os.ReadFile(files.ServiceXML)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", files.ServiceXML, err)
	}
	if err := xml.Unmarshal(serviceBytes, &docs.Service); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", files.ServiceXML, err)
	}

	hostsBytes, err := os.ReadFile(files.HostsXML)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", files.HostsXML, err)
	}
	if err := xml.Unmarshal(hostsBytes, &docs.Hosts); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", files.HostsXML, err)
	}

	return &docs, nil
}

// Watcher wraps an fsnotify.Watcher over the directory containing Files,
// invoking onChange with a freshly parsed Documents after every debounced
// edit. A parse failure is reported through onChange's error parameter
// instead of panicking or silently keeping stale state - the caller (the
// Service App) decides to retain its previously built routing tables, per
// spec.md §6's "bad configs are rejected ... running configuration is
// retained".
type Watcher struct {
	files   Files
	fsw     *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	onEvent func(*Documents, error)

	mu         sync.Mutex
	lastReload time.Time
}

// Watch starts watching files's directory and returns a Watcher the caller
// must Close when done. onChange fires once per debounced burst of file
// system events touching either watched file.
func Watch(files Files, onChange func(*Documents, error)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: creating watcher: %w", err)
	}

	dir := filepath.Dir(files.HostsXML)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("config: watching %s: %w", dir, err)
	}
	serviceDir := filepath.Dir(files.ServiceXML)
	if serviceDir != dir {
		if err := fsw.Add(serviceDir); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("config: watching %s: %w", serviceDir, err)
		}
	}

	w := &Watcher{
		files:   files,
		fsw:     fsw,
		done:    make(chan struct{}),
		onEvent: onChange,
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			if !w.shouldReload() {
				continue
			}
			// Looks like editors on some platforms fire the write event
			// before the file is fully flushed; a short settle delay
			// avoids reading a truncated file.
			time.Sleep(settleDelay)
			docs, err := Load(w.files)
			w.onEvent(docs, err)
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	return event.Name == w.files.ServiceXML || event.Name == w.files.HostsXML
}

func (w *Watcher) shouldReload() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	if now.Sub(w.lastReload) < debounceWindow {
		return false
	}
	w.lastReload = now
	return true
}

// Close stops the watcher goroutine and releases the underlying fsnotify
// handle.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

package runtime

import (
	"context"
	"sync"

	loggingpkg "github.com/drblury/widgetbus/internal/runtime/logging"
	"github.com/drblury/widgetbus/internal/runtime/scan"
)

// Attachment is the live wiring of one layout tree.
type Attachment struct {
	bindings scan.Set
	detach   []func()
	once     sync.Once
}

// Bindings returns the binding set the attachment was built from.
func (a *Attachment) Bindings() scan.Set {
	return a.bindings
}

// Detach tears down everything AttachAll wired: subscribers, services,
// constants and publishers, in that order. Calling it again does nothing.
func (a *Attachment) Detach() {
	a.once.Do(func() {
		for _, fn := range a.detach {
			fn()
		}
	})
}

// AttachAll scans tree and wires every binding it finds. Failures of single
// bindings are logged; the rest of the tree is still attached.
func (rt *Runtime) AttachAll(ctx context.Context, tree any) *Attachment {
	set := scan.All(tree)
	for _, u := range set.Unrecognized {
		rt.Logger.Debug("Ignoring value entry with unknown type", loggingpkg.LogFields{
			"instance": u.InstanceID,
			"attr":     u.AttrName,
			"type":     u.Entry["type"],
		})
	}

	a := &Attachment{bindings: set}
	a.detach = append(a.detach, rt.bindSubscribers(ctx, set.Subscribers)...)
	a.detach = append(a.detach, rt.bindServices(set.Services)...)
	a.detach = append(a.detach, rt.bindConstants(set.Constants)...)
	a.detach = append(a.detach, rt.bindPublishers(ctx, set.Publishers)...)

	rt.Logger.Info("Attached layout bindings", loggingpkg.LogFields{
		"subscribers": len(set.Subscribers),
		"publishers":  len(set.Publishers),
		"services":    len(set.Services),
		"constants":   len(set.Constants),
		"widgets":     len(set.Widgets),
	})
	return a
}

// Mount replaces the currently mounted tree with tree.
func (rt *Runtime) Mount(ctx context.Context, tree any) *Attachment {
	rt.mountMu.Lock()
	defer rt.mountMu.Unlock()
	if rt.mounted != nil {
		rt.mounted.Detach()
	}
	rt.mounted = rt.AttachAll(ctx, tree)
	return rt.mounted
}

// Unmount detaches the mounted tree, if any.
func (rt *Runtime) Unmount() {
	rt.mountMu.Lock()
	defer rt.mountMu.Unlock()
	if rt.mounted != nil {
		rt.mounted.Detach()
		rt.mounted = nil
	}
}

// Bindings returns the binding set of the mounted tree.
func (rt *Runtime) Bindings() scan.Set {
	rt.mountMu.Lock()
	defer rt.mountMu.Unlock()
	if rt.mounted == nil {
		return scan.Set{}
	}
	return rt.mounted.bindings
}

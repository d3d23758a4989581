// Package cachefake provides an in-memory provider.Provider for exercising
// the cache without a real file-system driver, the way the teacher's own
// fake GCS bucket exercises its content cache (see DESIGN.md).
package cachefake

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/mdcachefs/mdcache/provider"
	"github.com/mdcachefs/mdcache/status"
)

// node is one object in the fake file system. Its wire identity is a v4
// UUID rather than the sequential id used to key the fake's internal node
// map, so tests exercise the cache's key-equality contract (spec §3) over
// realistic-looking opaque handle bytes instead of tiny integers that would
// never collide by construction anyway.
type node struct {
	id       uint64
	uuid     uuid.UUID
	typ      provider.ObjType
	mode     uint32
	uid, gid uint32
	nlink    uint32
	size     uint64
	change   uint64
	target   string // symlink target
	junction bool

	mu       sync.Mutex
	children map[string]uint64 // name -> child id, for directories
	order    []string          // insertion order, gives cookies by position

	acl []byte // nil until SetACL'd; GetACL hands back a fixed default otherwise
}

// handle is the provider.Handle the fake hands back; its Key() is the
// node's UUID so two handles for the same object always hash and compare
// equal under key.K (spec §3).
type handle struct{ id uuid.UUID }

func (h handle) Key() []byte {
	b := make([]byte, 16)
	copy(b, h.id[:])
	return b
}

// Provider is the fake sub-provider. Zero value is not usable; use New.
type Provider struct {
	mu       sync.Mutex
	nodes    map[uint64]*node
	byUUID   map[uuid.UUID]uint64
	nextID   atomic.Uint64
	rootID   uint64
	faults   map[string]error
	supports map[provider.Feature]bool
}

// New builds a fake provider with a single root directory. By default it
// supports cookie computation but not whence-based continuation or
// rename-changes-key, matching the spec's scenario-seed sub-provider.
func New() *Provider {
	p := &Provider{
		nodes:  make(map[uint64]*node),
		byUUID: make(map[uuid.UUID]uint64),
		faults: make(map[string]error),
		supports: map[provider.Feature]bool{
			provider.FeatureComputeReaddirCookie: true,
		},
	}
	root := p.newNode(provider.Directory, 0755)
	p.rootID = root.id
	return p
}

func (p *Provider) newNode(typ provider.ObjType, mode uint32) *node {
	id := p.nextID.Add(1)
	n := &node{id: id, uuid: uuid.New(), typ: typ, mode: mode, nlink: 1}
	if typ == provider.Directory {
		n.children = make(map[string]uint64)
		n.nlink = 2
	}
	p.nodes[id] = n
	p.byUUID[n.uuid] = id
	return n
}

// Root returns the handle of the fake root directory.
func (p *Provider) Root() provider.Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return handle{id: p.nodes[p.rootID].uuid}
}

// SetFault arms a one-shot fault for the named operation.
func (p *Provider) SetFault(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.faults[op] = err
}

// SetSupports overrides a feature flag for tests that need a sub-provider
// without cookie support, or with rename_changes_key.
func (p *Provider) SetSupports(f provider.Feature, v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.supports[f] = v
}

func (p *Provider) takeFault(op string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err, ok := p.faults[op]
	if ok {
		delete(p.faults, op)
	}
	return err
}

func (p *Provider) get(h provider.Handle) (*node, error) {
	u := h.(handle).id
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.byUUID[u]
	if !ok {
		return nil, &provider.StaleError{}
	}
	n, ok := p.nodes[id]
	if !ok {
		return nil, &provider.StaleError{}
	}
	return n, nil
}

func (p *Provider) attrsOf(n *node) provider.Attrs {
	return provider.Attrs{
		Type:   n.typ,
		Size:   n.size,
		Mode:   n.mode,
		Uid:    n.uid,
		Gid:    n.gid,
		Nlink:  n.nlink,
		Change: n.change,
		Fileid: n.id,
		IsJunction: n.junction,
	}
}

// SetJunction marks or unmarks the object h as a junction (a mount point
// into another export), so tests can exercise the rename-onto-junction
// XDEV rejection of spec §4.1/§8.
func (p *Provider) SetJunction(h provider.Handle, junction bool) {
	n, err := p.get(h)
	if err != nil {
		return
	}
	n.mu.Lock()
	n.junction = junction
	n.mu.Unlock()
}

func (p *Provider) create(parent provider.Handle, name string, typ provider.ObjType, mode uint32) (provider.Handle, provider.Attrs, error) {
	if err := p.takeFault("create"); err != nil {
		return nil, provider.Attrs{}, err
	}
	pn, err := p.get(parent)
	if err != nil {
		return nil, provider.Attrs{}, err
	}
	pn.mu.Lock()
	defer pn.mu.Unlock()
	if _, exists := pn.children[name]; exists {
		return nil, provider.Attrs{}, fmt.Errorf("exists")
	}

	p.mu.Lock()
	child := p.newNode(typ, mode)
	p.mu.Unlock()

	pn.children[name] = child.id
	pn.order = append(pn.order, name)
	pn.change++
	return handle{id: child.uuid}, p.attrsOf(child), nil
}

func (p *Provider) Create(ctx context.Context, parent provider.Handle, name string, mode uint32) (provider.Handle, provider.Attrs, error) {
	return p.create(parent, name, provider.Regular, mode)
}

func (p *Provider) Mkdir(ctx context.Context, parent provider.Handle, name string, mode uint32) (provider.Handle, provider.Attrs, error) {
	return p.create(parent, name, provider.Directory, mode)
}

func (p *Provider) Mknode(ctx context.Context, parent provider.Handle, name string, typ provider.ObjType, mode uint32) (provider.Handle, provider.Attrs, error) {
	return p.create(parent, name, typ, mode)
}

func (p *Provider) Symlink(ctx context.Context, parent provider.Handle, name, target string) (provider.Handle, provider.Attrs, error) {
	h, attrs, err := p.create(parent, name, provider.Symlink, 0777)
	if err != nil {
		return nil, attrs, err
	}
	n, _ := p.get(h)
	n.target = target
	return h, attrs, nil
}

func (p *Provider) Readlink(ctx context.Context, h provider.Handle) (string, error) {
	n, err := p.get(h)
	if err != nil {
		return "", err
	}
	return n.target, nil
}

func (p *Provider) Lookup(ctx context.Context, parent provider.Handle, name string) (provider.Handle, provider.Attrs, error) {
	if err := p.takeFault("lookup"); err != nil {
		return nil, provider.Attrs{}, err
	}
	pn, err := p.get(parent)
	if err != nil {
		return nil, provider.Attrs{}, err
	}
	pn.mu.Lock()
	id, ok := pn.children[name]
	pn.mu.Unlock()
	if !ok {
		return nil, provider.Attrs{}, &provider.NotFoundError{Name: name}
	}
	p.mu.Lock()
	n := p.nodes[id]
	p.mu.Unlock()
	return handle{id: n.uuid}, p.attrsOf(n), nil
}

func (p *Provider) Link(ctx context.Context, destParent provider.Handle, name string, target provider.Handle) (provider.Attrs, error) {
	pn, err := p.get(destParent)
	if err != nil {
		return provider.Attrs{}, err
	}
	tn, err := p.get(target)
	if err != nil {
		return provider.Attrs{}, err
	}
	pn.mu.Lock()
	if _, exists := pn.children[name]; exists {
		pn.mu.Unlock()
		return provider.Attrs{}, fmt.Errorf("exists")
	}
	pn.children[name] = tn.id
	pn.order = append(pn.order, name)
	pn.mu.Unlock()

	tn.mu.Lock()
	tn.nlink++
	tn.mu.Unlock()
	return p.attrsOf(tn), nil
}

func (p *Provider) Unlink(ctx context.Context, parent provider.Handle, name string) error {
	if err := p.takeFault("unlink"); err != nil {
		return err
	}
	pn, err := p.get(parent)
	if err != nil {
		return err
	}
	pn.mu.Lock()
	id, ok := pn.children[name]
	if !ok {
		pn.mu.Unlock()
		return &provider.NotFoundError{Name: name}
	}
	p.mu.Lock()
	child := p.nodes[id]
	p.mu.Unlock()
	if child.typ == provider.Directory {
		child.mu.Lock()
		empty := len(child.children) == 0
		child.mu.Unlock()
		if !empty {
			pn.mu.Unlock()
			return notEmptyError{}
		}
	}
	delete(pn.children, name)
	removeOrdered(pn, name)
	pn.change++
	pn.mu.Unlock()
	return nil
}

type notEmptyError struct{}

func (notEmptyError) Error() string        { return "directory not empty" }
func (notEmptyError) Major() status.Major  { return status.NotEmpty }

func removeOrdered(pn *node, name string) {
	for i, n := range pn.order {
		if n == name {
			pn.order = append(pn.order[:i], pn.order[i+1:]...)
			return
		}
	}
}

func (p *Provider) Rename(ctx context.Context, oldParent provider.Handle, oldName string, newParent provider.Handle, newName string) error {
	if err := p.takeFault("rename"); err != nil {
		return err
	}
	opn, err := p.get(oldParent)
	if err != nil {
		return err
	}
	npn, err := p.get(newParent)
	if err != nil {
		return err
	}
	opn.mu.Lock()
	id, ok := opn.children[oldName]
	if !ok {
		opn.mu.Unlock()
		return &provider.NotFoundError{Name: oldName}
	}
	delete(opn.children, oldName)
	removeOrdered(opn, oldName)
	opn.change++
	sameDir := opn == npn
	opn.mu.Unlock()

	if !sameDir {
		npn.mu.Lock()
	}
	npn.children[newName] = id
	npn.order = append(npn.order, newName)
	npn.change++
	if !sameDir {
		npn.mu.Unlock()
	}
	return nil
}

func (p *Provider) Readdir(ctx context.Context, dir provider.Handle, whence []byte, cb provider.ReaddirCallback) (bool, error) {
	if err := p.takeFault("readdir"); err != nil {
		return false, err
	}
	n, err := p.get(dir)
	if err != nil {
		return false, err
	}

	n.mu.Lock()
	names := append([]string(nil), n.order...)
	n.mu.Unlock()

	startCookie := decodeCookie(whence)
	for _, name := range names {
		n.mu.Lock()
		id, ok := n.children[name]
		n.mu.Unlock()
		if !ok {
			continue
		}
		cookie, _ := p.ComputeReaddirCookie(ctx, dir, name)
		if cookie < startCookie {
			continue
		}
		p.mu.Lock()
		child := p.nodes[id]
		p.mu.Unlock()
		ctl := cb(provider.DirentOut{Name: name, Handle: handle{id: child.uuid}, Attrs: p.attrsOf(child), Cookie: cookie})
		if ctl == provider.DirTerminate {
			return false, nil
		}
	}
	return true, nil
}

func decodeCookie(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// ComputeReaddirCookie derives a cookie from name's position in the
// parent's insertion order, starting at 3 (1 and 2 are reserved). Removing
// or renaming an entry shifts the cookies of every entry after it.
func (p *Provider) ComputeReaddirCookie(ctx context.Context, parent provider.Handle, name string) (uint64, bool) {
	n, err := p.get(parent)
	if err != nil {
		return 0, false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, nm := range n.order {
		if nm == name {
			return uint64(i) + 3, true
		}
	}
	return 0, false
}

func (p *Provider) GetAttrs(ctx context.Context, h provider.Handle, mask uint64) (provider.Attrs, error) {
	if err := p.takeFault("getattrs"); err != nil {
		return provider.Attrs{}, err
	}
	n, err := p.get(h)
	if err != nil {
		return provider.Attrs{}, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return p.attrsOf(n), nil
}

func (p *Provider) SetAttrs(ctx context.Context, h provider.Handle, attrs provider.Attrs, mask uint64) (provider.Attrs, error) {
	n, err := p.get(h)
	if err != nil {
		return provider.Attrs{}, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mode = attrs.Mode
	n.uid = attrs.Uid
	n.gid = attrs.Gid
	n.change++
	return p.attrsOf(n), nil
}

func (p *Provider) SetAttr2(ctx context.Context, h provider.Handle, attrs provider.Attrs, mask uint64, bypassRefresh bool) (provider.Attrs, error) {
	return p.SetAttrs(ctx, h, attrs, mask)
}

// GetACL returns n's ACL, a fixed placeholder the first time it's asked
// for. SetACL (test-only helper) lets a test give a node a distinct ACL to
// tell fetched-once from fetched-again apart.
func (p *Provider) GetACL(ctx context.Context, h provider.Handle) (provider.ACL, error) {
	if err := p.takeFault("getacl"); err != nil {
		return provider.ACL{}, err
	}
	n, err := p.get(h)
	if err != nil {
		return provider.ACL{}, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.acl == nil {
		n.acl = []byte("default-acl")
	}
	return provider.ACL{Data: n.acl}, nil
}

// SetACL is a test-only helper for giving a node a distinguishable ACL.
func (p *Provider) SetACL(h provider.Handle, data []byte) {
	n, err := p.get(h)
	if err != nil {
		return
	}
	n.mu.Lock()
	n.acl = data
	n.mu.Unlock()
}

func (p *Provider) Open(ctx context.Context, h provider.Handle, flags int) (io.Closer, error) {
	return io.NopCloser(nil), nil
}

func (p *Provider) Read(ctx context.Context, h provider.Handle, offset int64, buf []byte) (int, error) {
	return 0, nil
}

func (p *Provider) Write(ctx context.Context, h provider.Handle, offset int64, buf []byte) (int, error) {
	n, err := p.get(h)
	if err != nil {
		return 0, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	end := uint64(offset) + uint64(len(buf))
	if end > n.size {
		n.size = end
	}
	n.change++
	return len(buf), nil
}

func (p *Provider) Commit(ctx context.Context, h provider.Handle, offset, length int64) error { return nil }

func (p *Provider) LockOp(ctx context.Context, h provider.Handle, req provider.LockRequest) (provider.LockResult, error) {
	return provider.LockResult{Granted: true}, nil
}

func (p *Provider) LayoutGet(ctx context.Context, h provider.Handle) (provider.Layout, error) {
	return provider.Layout{}, nil
}
func (p *Provider) LayoutReturn(ctx context.Context, h provider.Handle, l provider.Layout) error {
	return nil
}
func (p *Provider) LayoutCommit(ctx context.Context, h provider.Handle, l provider.Layout) error {
	return nil
}

func (p *Provider) HandleToWire(h provider.Handle) ([]byte, error) { return h.Key(), nil }
func (p *Provider) HandleToKey(h provider.Handle) []byte            { return h.Key() }
func (p *Provider) HandleCmp(a, b provider.Handle) bool {
	return a.(handle).id == b.(handle).id
}
func (p *Provider) HandleIs(h provider.Handle, typ provider.ObjType) bool {
	n, err := p.get(h)
	return err == nil && n.typ == typ
}

func (p *Provider) Merge(ctx context.Context, winner, loser provider.Handle) error { return nil }
func (p *Provider) Release(h provider.Handle) error                               { return nil }

func (p *Provider) ListXattr(ctx context.Context, h provider.Handle) ([]string, error) { return nil, nil }
func (p *Provider) GetXattr(ctx context.Context, h provider.Handle, name string) ([]byte, error) {
	return nil, &provider.NotFoundError{Name: name}
}
func (p *Provider) SetXattr(ctx context.Context, h provider.Handle, name string, value []byte) error {
	return nil
}
func (p *Provider) RemoveXattr(ctx context.Context, h provider.Handle, name string) error { return nil }

func (p *Provider) LookupPath(ctx context.Context, path string) (provider.Handle, provider.Attrs, error) {
	return p.Root(), p.attrsOf(p.nodes[p.rootID]), nil
}

func (p *Provider) CreateHandle(ctx context.Context, wire []byte, export provider.Export) (provider.CreateHandleResult, error) {
	u, err := uuid.FromBytes(wire)
	if err != nil {
		return provider.CreateHandleResult{}, &provider.NotFoundError{}
	}
	p.mu.Lock()
	id, ok := p.byUUID[u]
	var n *node
	if ok {
		n = p.nodes[id]
	}
	p.mu.Unlock()
	if !ok || n == nil {
		return provider.CreateHandleResult{}, &provider.NotFoundError{}
	}
	return provider.CreateHandleResult{Handle: handle{id: u}, Attrs: p.attrsOf(n)}, nil
}

func (p *Provider) HostToKey(wire []byte) []byte { return wire }

func (p *Provider) FSSupportedAttrs(export provider.Export) uint64 { return ^uint64(0) }

func (p *Provider) Supports(feature provider.Feature) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.supports[feature]
}

var _ provider.Provider = (*Provider)(nil)

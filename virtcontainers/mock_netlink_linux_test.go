// Copyright (c) 2018 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package virtcontainers

import (
	"context"
	"net"
	"os"
	"sync"
	"syscall"
	"testing"

	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
)

// mockNetlink is an in-memory NetlinkHandle. Links added to it get the
// next free index.
type mockNetlink struct {
	mu        sync.Mutex
	links     map[string]netlink.Link
	up        map[string]bool
	masters   map[string]string
	qdiscs    []netlink.Qdisc
	filters   []netlink.Filter
	nextIndex int
	failures  map[string]error
}

var _ NetlinkHandle = (*mockNetlink)(nil)

func newMockNetlink(links ...netlink.Link) *mockNetlink {
	m := &mockNetlink{
		links:     make(map[string]netlink.Link),
		up:        make(map[string]bool),
		masters:   make(map[string]string),
		failures:  make(map[string]error),
		nextIndex: 100,
	}
	for _, l := range links {
		m.links[l.Attrs().Name] = l
	}
	return m
}

// fail makes every following call to method return err.
func (m *mockNetlink) fail(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[method] = err
}

func (m *mockNetlink) has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.links[name]
	return ok
}

func (m *mockNetlink) isUp(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.up[name]
}

func (m *mockNetlink) master(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.masters[name]
}

func (m *mockNetlink) counts() (qdiscs int, filters int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.qdiscs), len(m.filters)
}

func (m *mockNetlink) lookup(link netlink.Link) (netlink.Link, error) {
	attrs := link.Attrs()
	if l, ok := m.links[attrs.Name]; ok {
		return l, nil
	}
	for _, l := range m.links {
		if attrs.Index != 0 && l.Attrs().Index == attrs.Index {
			return l, nil
		}
	}
	return nil, errors.Errorf("Link not found: %s", attrs.Name)
}

func (m *mockNetlink) LinkByIndex(index int) (netlink.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures["LinkByIndex"]; err != nil {
		return nil, err
	}
	for _, l := range m.links {
		if l.Attrs().Index == index {
			return l, nil
		}
	}
	return nil, errors.Errorf("Link not found: index %d", index)
}

func (m *mockNetlink) LinkByName(name string) (netlink.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures["LinkByName"]; err != nil {
		return nil, err
	}
	if l, ok := m.links[name]; ok {
		return l, nil
	}
	return nil, errors.Errorf("Link not found: %s", name)
}

func (m *mockNetlink) LinkAdd(link netlink.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures["LinkAdd/"+link.Type()]; err != nil {
		return err
	}
	attrs := link.Attrs()
	if _, ok := m.links[attrs.Name]; ok {
		return syscall.EEXIST
	}
	m.nextIndex++
	attrs.Index = m.nextIndex
	m.links[attrs.Name] = link
	return nil
}

func (m *mockNetlink) LinkDel(link netlink.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures["LinkDel"]; err != nil {
		return err
	}
	l, err := m.lookup(link)
	if err != nil {
		return err
	}
	name := l.Attrs().Name
	index := l.Attrs().Index
	delete(m.links, name)
	delete(m.up, name)
	delete(m.masters, name)
	for slave, master := range m.masters {
		if master == name {
			delete(m.masters, slave)
		}
	}

	var qdiscs []netlink.Qdisc
	for _, q := range m.qdiscs {
		if q.Attrs().LinkIndex != index {
			qdiscs = append(qdiscs, q)
		}
	}
	m.qdiscs = qdiscs

	var filters []netlink.Filter
	for _, f := range m.filters {
		if f.Attrs().LinkIndex != index {
			filters = append(filters, f)
		}
	}
	m.filters = filters
	return nil
}

func (m *mockNetlink) LinkSetUp(link netlink.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures["LinkSetUp"]; err != nil {
		return err
	}
	l, err := m.lookup(link)
	if err != nil {
		return err
	}
	m.up[l.Attrs().Name] = true
	return nil
}

func (m *mockNetlink) LinkSetDown(link netlink.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, err := m.lookup(link)
	if err != nil {
		return err
	}
	m.up[l.Attrs().Name] = false
	return nil
}

func (m *mockNetlink) LinkSetMTU(link netlink.Link, mtu int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures["LinkSetMTU"]; err != nil {
		return err
	}
	l, err := m.lookup(link)
	if err != nil {
		return err
	}
	l.Attrs().MTU = mtu
	return nil
}

func (m *mockNetlink) LinkSetMaster(link netlink.Link, master netlink.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures["LinkSetMaster"]; err != nil {
		return err
	}
	l, err := m.lookup(link)
	if err != nil {
		return err
	}
	b, err := m.lookup(master)
	if err != nil {
		return err
	}
	m.masters[l.Attrs().Name] = b.Attrs().Name
	return nil
}

func (m *mockNetlink) QdiscAdd(qdisc netlink.Qdisc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures["QdiscAdd"]; err != nil {
		return err
	}
	m.qdiscs = append(m.qdiscs, qdisc)
	return nil
}

func (m *mockNetlink) QdiscDel(qdisc netlink.Qdisc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, q := range m.qdiscs {
		if q == qdisc {
			m.qdiscs = append(m.qdiscs[:i], m.qdiscs[i+1:]...)
			return nil
		}
	}
	return syscall.ENOENT
}

func (m *mockNetlink) QdiscList(link netlink.Link) ([]netlink.Qdisc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var qdiscs []netlink.Qdisc
	for _, q := range m.qdiscs {
		if q.Attrs().LinkIndex == link.Attrs().Index {
			qdiscs = append(qdiscs, q)
		}
	}
	return qdiscs, nil
}

func (m *mockNetlink) FilterAdd(filter netlink.Filter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures["FilterAdd"]; err != nil {
		return err
	}
	m.filters = append(m.filters, filter)
	return nil
}

func (m *mockNetlink) FilterDel(filter netlink.Filter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, f := range m.filters {
		if f == filter {
			m.filters = append(m.filters[:i], m.filters[i+1:]...)
			return nil
		}
	}
	return syscall.ENOENT
}

func (m *mockNetlink) FilterList(link netlink.Link, parent uint32) ([]netlink.Filter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var filters []netlink.Filter
	for _, f := range m.filters {
		if f.Attrs().LinkIndex == link.Attrs().Index && f.Attrs().Parent == parent {
			filters = append(filters, f)
		}
	}
	return filters, nil
}

func testLinkAttrs(t *testing.T, name string, index int, mac string) netlink.LinkAttrs {
	hw, err := net.ParseMAC(mac)
	if err != nil {
		t.Fatalf("invalid test MAC %s: %v", mac, err)
	}
	return netlink.LinkAttrs{
		Name:         name,
		Index:        index,
		HardwareAddr: hw,
		MTU:          1500,
	}
}

func newTestMacvtapLink(t *testing.T, name string, index int, mac string) *netlink.Macvtap {
	return &netlink.Macvtap{
		Macvlan: netlink.Macvlan{LinkAttrs: testLinkAttrs(t, name, index, mac)},
	}
}

func newTestVethLink(t *testing.T, name string, index int, mac string) *netlink.Veth {
	return &netlink.Veth{LinkAttrs: testLinkAttrs(t, name, index, mac)}
}

func newTestIPVlanLink(t *testing.T, name string, index int, mac string) *netlink.IPVlan {
	return &netlink.IPVlan{LinkAttrs: testLinkAttrs(t, name, index, mac)}
}

// fdRecorder observes every descriptor opened by the fd provisioning
// layer. failAt makes the n-th open (1-based) fail with EMFILE, onOpen
// runs after every successful open.
type fdRecorder struct {
	mu     sync.Mutex
	files  []*os.File
	failAt int
	onOpen func(n int)
}

func recordOpens(t *testing.T) *fdRecorder {
	r := &fdRecorder{}
	saved := openDeviceFile

	openDeviceFile = func(name string, flag int, perm os.FileMode) (*os.File, error) {
		r.mu.Lock()
		n := len(r.files) + 1
		if r.failAt > 0 && n == r.failAt {
			r.mu.Unlock()
			return nil, &os.PathError{Op: "open", Path: name, Err: syscall.EMFILE}
		}
		r.mu.Unlock()

		f, err := saved(name, flag, perm)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.files = append(r.files, f)
		onOpen := r.onOpen
		r.mu.Unlock()

		if onOpen != nil {
			onOpen(n)
		}
		return f, nil
	}

	t.Cleanup(func() {
		openDeviceFile = saved
		for _, f := range r.files {
			f.Close()
		}
	})
	return r
}

func (r *fdRecorder) opened() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.files)
}

// closed counts the recorded descriptors that are no longer open.
func (r *fdRecorder) closed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, f := range r.files {
		if _, err := f.Stat(); errors.Is(err, os.ErrClosed) {
			n++
		}
	}
	return n
}

// testDevicePaths returns endpoint options pointing the macvtap and
// vhost-net device nodes to regular files of a temporary directory.
func testDevicePaths(t *testing.T) EndpointOption {
	dir := t.TempDir()
	return WithDevicePaths(dir+"/tap%d", dir+"/vhost-net")
}

func cancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

//go:build linux
// +build linux

package fal

import (
	"fmt"
	"net/netip"
	"sort"
	"sync"

	"github.com/google/nftables"
	"github.com/google/nftables/binaryutil"
	"github.com/google/nftables/expr"
	"golang.org/x/sys/unix"

	"grimm.is/aclsync/internal/errors"
	"grimm.is/aclsync/internal/rule"
)

// nft object reference type for named counters (NFT_OBJECT_COUNTER).
const objTypeCounter = 1

const (
	ipv4SrcOffset = 12
	ipv4DstOffset = 16
	ipv6SrcOffset = 8
	ipv6DstOffset = 24
)

type nftGroup struct {
	spec  GroupSpec
	chain *nftables.Chain
	// live is false until the chain exists in the kernel
	live bool
}

type nftRule struct {
	spec RuleSpec
}

type nftCounter struct {
	spec CounterSpec
	name string
	live bool
}

type nftAttachment struct {
	group ObjID
	ifc   Interface
}

// NFTBackend programs ACL groups into an nftables inet table. Each group is
// a regular chain, each counter a named counter object, and each binding a
// jump from a per-direction base chain. Calls stage changes; Commit writes
// them in one netlink batch.
type NFTBackend struct {
	mu    sync.Mutex
	conn  NFTablesConn
	table *nftables.Table
	base  map[Direction]*nftables.Chain

	nextID   ObjID
	groups   map[ObjID]*nftGroup
	rules    map[ObjID]*nftRule
	counters map[ObjID]*nftCounter
	attached map[Direction][]nftAttachment

	dirtyGroups  map[ObjID]bool
	dirtyBase    map[Direction]bool
	deadGroups   []*nftables.Chain
	deadCounters []string
	newCounters  []ObjID
	newGroups    []ObjID
}

// NewNFTBackend creates the table and base chains and returns the backend.
// Any previous table of the same name is replaced.
func NewNFTBackend(conn NFTablesConn, tableName string) (*NFTBackend, error) {
	if tableName == "" {
		tableName = "aclsync"
	}
	b := &NFTBackend{
		conn:        conn,
		table:       &nftables.Table{Name: tableName, Family: nftables.TableFamilyINet},
		base:        make(map[Direction]*nftables.Chain),
		groups:      make(map[ObjID]*nftGroup),
		rules:       make(map[ObjID]*nftRule),
		counters:    make(map[ObjID]*nftCounter),
		attached:    make(map[Direction][]nftAttachment),
		dirtyGroups: make(map[ObjID]bool),
		dirtyBase:   make(map[Direction]bool),
	}

	conn.DelTable(b.table)
	_ = conn.Flush()

	conn.AddTable(b.table)

	accept := nftables.ChainPolicyAccept
	b.base[Ingress] = conn.AddChain(&nftables.Chain{
		Name:     "acl-ingress",
		Table:    b.table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookPrerouting,
		Priority: nftables.ChainPriorityFilter,
		Policy:   &accept,
	})
	b.base[Egress] = conn.AddChain(&nftables.Chain{
		Name:     "acl-egress",
		Table:    b.table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookPostrouting,
		Priority: nftables.ChainPriorityFilter,
		Policy:   &accept,
	})

	if err := conn.Flush(); err != nil {
		return nil, errors.Wrap(err, errors.KindHardware, "failed to create acl table")
	}
	return b, nil
}

// Close removes the table.
func (b *NFTBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conn.DelTable(b.table)
	return b.conn.Flush()
}

func (b *NFTBackend) alloc() ObjID {
	b.nextID++
	return b.nextID
}

func groupChainName(id ObjID) string {
	return fmt.Sprintf("acl-%d", id)
}

func counterObjName(id ObjID) string {
	return fmt.Sprintf("ctr-%d", id)
}

func (b *NFTBackend) CreateGroup(spec GroupSpec) (ObjID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if spec.Family == rule.FamilyNone {
		return 0, errors.Errorf(errors.KindHardware, "group %s has no address family", spec.Name)
	}
	id := b.alloc()
	b.groups[id] = &nftGroup{
		spec:  spec,
		chain: &nftables.Chain{Name: groupChainName(id), Table: b.table},
	}
	b.newGroups = append(b.newGroups, id)
	b.dirtyGroups[id] = true
	return id, nil
}

func (b *NFTBackend) DeleteGroup(id ObjID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.groups[id]
	if !ok {
		return errors.Errorf(errors.KindHardware, "unknown group %d", id)
	}
	for dir, list := range b.attached {
		for _, a := range list {
			if a.group == id {
				return errors.Errorf(errors.KindHardware, "group %s still attached %s", g.spec.Name, dir)
			}
		}
	}
	for _, r := range b.rules {
		if r.spec.Group == id {
			return errors.Errorf(errors.KindHardware, "group %s still has rules", g.spec.Name)
		}
	}
	delete(b.groups, id)
	delete(b.dirtyGroups, id)
	if g.live {
		b.deadGroups = append(b.deadGroups, g.chain)
	}
	return nil
}

// ModifyGroup only records the new summary; rule expressions do not
// depend on it.
func (b *NFTBackend) ModifyGroup(id ObjID, summary rule.Summary) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.groups[id]
	if !ok {
		return errors.Errorf(errors.KindHardware, "unknown group %d", id)
	}
	g.spec.Summary = summary
	return nil
}

func (b *NFTBackend) AttachGroup(id ObjID, ifc Interface, dir Direction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.groups[id]; !ok {
		return errors.Errorf(errors.KindHardware, "unknown group %d", id)
	}
	for _, a := range b.attached[dir] {
		if a.group == id && a.ifc.Name == ifc.Name {
			return errors.Errorf(errors.KindHardware, "group %d already attached to %s", id, ifc.Name)
		}
	}
	b.attached[dir] = append(b.attached[dir], nftAttachment{group: id, ifc: ifc})
	b.dirtyBase[dir] = true
	return nil
}

func (b *NFTBackend) DetachGroup(id ObjID, ifc Interface, dir Direction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.attached[dir]
	for i, a := range list {
		if a.group == id && a.ifc.Name == ifc.Name {
			b.attached[dir] = append(list[:i:i], list[i+1:]...)
			b.dirtyBase[dir] = true
			return nil
		}
	}
	return errors.Errorf(errors.KindHardware, "group %d not attached to %s", id, ifc.Name)
}

func (b *NFTBackend) CreateRule(spec RuleSpec) (ObjID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.groups[spec.Group]; !ok {
		return 0, errors.Errorf(errors.KindHardware, "rule %d: unknown group %d", spec.Index, spec.Group)
	}
	if spec.Counter != 0 {
		if _, ok := b.counters[spec.Counter]; !ok {
			return 0, errors.Errorf(errors.KindHardware, "rule %d: unknown counter %d", spec.Index, spec.Counter)
		}
	}
	id := b.alloc()
	b.rules[id] = &nftRule{spec: spec}
	b.dirtyGroups[spec.Group] = true
	return id, nil
}

func (b *NFTBackend) DeleteRule(id ObjID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rules[id]
	if !ok {
		return errors.Errorf(errors.KindHardware, "unknown rule %d", id)
	}
	delete(b.rules, id)
	if _, ok := b.groups[r.spec.Group]; ok {
		b.dirtyGroups[r.spec.Group] = true
	}
	return nil
}

func (b *NFTBackend) CreateCounter(spec CounterSpec) (ObjID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.alloc()
	b.counters[id] = &nftCounter{spec: spec, name: counterObjName(id)}
	b.newCounters = append(b.newCounters, id)
	return id, nil
}

func (b *NFTBackend) DeleteCounter(id ObjID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.counters[id]
	if !ok {
		return errors.Errorf(errors.KindHardware, "unknown counter %d", id)
	}
	for _, r := range b.rules {
		if r.spec.Counter == id {
			return errors.Errorf(errors.KindHardware, "counter %s still referenced by rule %d", c.spec.Name, r.spec.Index)
		}
	}
	delete(b.counters, id)
	if c.live {
		b.deadCounters = append(b.deadCounters, c.name)
	}
	return nil
}

func (b *NFTBackend) findCounter(objs []nftables.Obj, name string) (*nftables.CounterObj, bool) {
	for _, o := range objs {
		if c, ok := o.(*nftables.CounterObj); ok && c.Name == name {
			return c, true
		}
	}
	return nil, false
}

func (b *NFTBackend) ReadCounter(id ObjID) (CounterValues, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.counters[id]
	if !ok || !c.live {
		return CounterValues{}, errors.Errorf(errors.KindHardware, "counter %d not programmed", id)
	}
	objs, err := b.conn.GetObj(&nftables.CounterObj{Table: b.table, Name: c.name})
	if err != nil {
		return CounterValues{}, errors.Wrap(err, errors.KindHardware, "read counter")
	}
	obj, ok := b.findCounter(objs, c.name)
	if !ok {
		return CounterValues{}, errors.Errorf(errors.KindHardware, "counter %s missing from kernel", c.name)
	}
	return CounterValues{Packets: obj.Packets, Bytes: obj.Bytes}, nil
}

func (b *NFTBackend) ClearCounter(id ObjID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.counters[id]
	if !ok || !c.live {
		return errors.Errorf(errors.KindHardware, "counter %d not programmed", id)
	}
	if _, err := b.conn.GetObjReset(&nftables.CounterObj{Table: b.table, Name: c.name}); err != nil {
		return errors.Wrap(err, errors.KindHardware, "reset counter")
	}
	return nil
}

// Commit writes staged changes. Creations go first so rules can reference
// new counters and chains; deletions go last, after every rule that
// referenced them has been flushed.
func (b *NFTBackend) Commit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, id := range b.newCounters {
		c, ok := b.counters[id]
		if !ok {
			continue
		}
		b.conn.AddObj(&nftables.CounterObj{Table: b.table, Name: c.name})
	}
	for _, id := range b.newGroups {
		g, ok := b.groups[id]
		if !ok {
			continue
		}
		g.chain = b.conn.AddChain(g.chain)
	}

	dirty := make([]ObjID, 0, len(b.dirtyGroups))
	for id := range b.dirtyGroups {
		dirty = append(dirty, id)
	}
	sort.Slice(dirty, func(i, j int) bool { return dirty[i] < dirty[j] })
	for _, id := range dirty {
		b.rebuildGroup(b.groups[id])
	}

	for _, dir := range []Direction{Ingress, Egress} {
		if b.dirtyBase[dir] {
			b.rebuildBase(dir)
		}
	}

	for _, chain := range b.deadGroups {
		b.conn.FlushChain(chain)
		b.conn.DelChain(chain)
	}
	for _, name := range b.deadCounters {
		b.conn.DeleteObject(&nftables.CounterObj{Table: b.table, Name: name})
	}

	if err := b.conn.Flush(); err != nil {
		return errors.Wrap(err, errors.KindHardware, "nftables commit")
	}

	for _, id := range b.newCounters {
		if c, ok := b.counters[id]; ok {
			c.live = true
		}
	}
	for _, id := range b.newGroups {
		if g, ok := b.groups[id]; ok {
			g.live = true
		}
	}
	b.newCounters = nil
	b.newGroups = nil
	b.deadGroups = nil
	b.deadCounters = nil
	b.dirtyGroups = make(map[ObjID]bool)
	b.dirtyBase = make(map[Direction]bool)
	return nil
}

func (b *NFTBackend) rebuildGroup(g *nftGroup) {
	b.conn.FlushChain(g.chain)

	var members []*nftRule
	for _, r := range b.rules {
		if b.groups[r.spec.Group] == g {
			members = append(members, r)
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].spec.Index < members[j].spec.Index })

	for _, r := range members {
		ctr := ""
		if c, ok := b.counters[r.spec.Counter]; ok {
			ctr = c.name
		}
		b.conn.AddRule(&nftables.Rule{
			Table:    b.table,
			Chain:    g.chain,
			Exprs:    buildRuleExprs(g.spec.Family, r.spec.Rule, ctr),
			UserData: []byte(fmt.Sprintf("%s:%d", g.spec.Name, r.spec.Index)),
		})
	}
}

func (b *NFTBackend) rebuildBase(dir Direction) {
	chain := b.base[dir]
	b.conn.FlushChain(chain)

	key := expr.MetaKeyIIFNAME
	if dir == Egress {
		key = expr.MetaKeyOIFNAME
	}
	for _, a := range b.attached[dir] {
		g, ok := b.groups[a.group]
		if !ok {
			continue
		}
		b.conn.AddRule(&nftables.Rule{
			Table: b.table,
			Chain: chain,
			Exprs: []expr.Any{
				&expr.Meta{Key: key, Register: 1},
				&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: ifname(a.ifc.Name)},
				&expr.Verdict{Kind: expr.VerdictJump, Chain: g.chain.Name},
			},
			UserData: []byte(g.spec.Name),
		})
	}
}

// buildRuleExprs compiles a parsed rule into nftables expressions.
func buildRuleExprs(family rule.Family, r *rule.Rule, counter string) []expr.Any {
	var exprs []expr.Any

	proto := byte(unix.NFPROTO_IPV4)
	if family == rule.FamilyIPv6 {
		proto = byte(unix.NFPROTO_IPV6)
	}
	exprs = append(exprs,
		&expr.Meta{Key: expr.MetaKeyNFPROTO, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{proto}},
	)

	if r == nil {
		return exprs
	}

	if r.Proto != 0 {
		exprs = append(exprs,
			&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{r.Proto}},
		)
	}
	if r.Src.IsValid() {
		exprs = append(exprs, prefixExprs(r.Src, true)...)
	}
	if r.Dst.IsValid() {
		exprs = append(exprs, prefixExprs(r.Dst, false)...)
	}
	if r.SrcPort != 0 {
		exprs = append(exprs,
			&expr.Payload{DestRegister: 1, Base: expr.PayloadBaseTransportHeader, Offset: 0, Len: 2},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: binaryutil.BigEndian.PutUint16(r.SrcPort)},
		)
	}
	if r.DstPort != 0 {
		exprs = append(exprs,
			&expr.Payload{DestRegister: 1, Base: expr.PayloadBaseTransportHeader, Offset: 2, Len: 2},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: binaryutil.BigEndian.PutUint16(r.DstPort)},
		)
	}

	if counter != "" {
		exprs = append(exprs, &expr.Objref{Type: objTypeCounter, Name: counter})
	}

	switch r.Action {
	case rule.ActionPass:
		exprs = append(exprs, &expr.Verdict{Kind: expr.VerdictAccept})
	case rule.ActionDrop:
		exprs = append(exprs, &expr.Verdict{Kind: expr.VerdictDrop})
	}
	return exprs
}

func prefixExprs(p netip.Prefix, src bool) []expr.Any {
	p = p.Masked()
	addr := p.Addr()

	var offset, length uint32
	if addr.Is4() {
		length = 4
		offset = ipv4DstOffset
		if src {
			offset = ipv4SrcOffset
		}
	} else {
		length = 16
		offset = ipv6DstOffset
		if src {
			offset = ipv6SrcOffset
		}
	}

	exprs := []expr.Any{
		&expr.Payload{DestRegister: 1, Base: expr.PayloadBaseNetworkHeader, Offset: offset, Len: length},
	}
	if p.Bits() < int(length*8) {
		exprs = append(exprs, &expr.Bitwise{
			SourceRegister: 1,
			DestRegister:   1,
			Len:            length,
			Mask:           prefixMask(p.Bits(), int(length)),
			Xor:            make([]byte, length),
		})
	}
	return append(exprs, &expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: addr.AsSlice()})
}

func prefixMask(bits, length int) []byte {
	mask := make([]byte, length)
	for i := 0; i < bits; i++ {
		mask[i/8] |= 0x80 >> (i % 8)
	}
	return mask
}

// ifname pads an interface name to IFNAMSIZ for meta comparisons.
func ifname(n string) []byte {
	b := make([]byte, unix.IFNAMSIZ)
	copy(b, n+"\x00")
	return b
}

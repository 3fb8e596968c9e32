//go:build linux
// +build linux

package fal

import (
	"github.com/google/nftables"
)

// NFTablesConn abstracts the nftables.Conn operations the backend uses,
// so the backend can be exercised against a mock.
type NFTablesConn interface {
	// Table operations
	AddTable(t *nftables.Table) *nftables.Table
	DelTable(t *nftables.Table)

	// Chain operations
	AddChain(c *nftables.Chain) *nftables.Chain
	DelChain(c *nftables.Chain)
	FlushChain(c *nftables.Chain)

	// Rule operations
	AddRule(r *nftables.Rule) *nftables.Rule

	// Stateful object operations
	AddObj(o nftables.Obj) nftables.Obj
	DeleteObject(o nftables.Obj)
	GetObj(o nftables.Obj) ([]nftables.Obj, error)
	GetObjReset(o nftables.Obj) ([]nftables.Obj, error)

	// Commit changes
	Flush() error
}

// RealNFTablesConn wraps the actual nftables.Conn.
type RealNFTablesConn struct {
	conn *nftables.Conn
}

// NewRealNFTablesConn creates a new RealNFTablesConn wrapping an nftables.Conn.
func NewRealNFTablesConn(conn *nftables.Conn) *RealNFTablesConn {
	return &RealNFTablesConn{conn: conn}
}

func (r *RealNFTablesConn) AddTable(t *nftables.Table) *nftables.Table {
	return r.conn.AddTable(t)
}

func (r *RealNFTablesConn) DelTable(t *nftables.Table) {
	r.conn.DelTable(t)
}

func (r *RealNFTablesConn) AddChain(c *nftables.Chain) *nftables.Chain {
	return r.conn.AddChain(c)
}

func (r *RealNFTablesConn) DelChain(c *nftables.Chain) {
	r.conn.DelChain(c)
}

func (r *RealNFTablesConn) FlushChain(c *nftables.Chain) {
	r.conn.FlushChain(c)
}

func (r *RealNFTablesConn) AddRule(rule *nftables.Rule) *nftables.Rule {
	return r.conn.AddRule(rule)
}

func (r *RealNFTablesConn) AddObj(o nftables.Obj) nftables.Obj {
	return r.conn.AddObj(o)
}

func (r *RealNFTablesConn) DeleteObject(o nftables.Obj) {
	r.conn.DeleteObject(o)
}

func (r *RealNFTablesConn) GetObj(o nftables.Obj) ([]nftables.Obj, error) {
	return r.conn.GetObj(o)
}

func (r *RealNFTablesConn) GetObjReset(o nftables.Obj) ([]nftables.Obj, error) {
	return r.conn.GetObjReset(o)
}

func (r *RealNFTablesConn) Flush() error {
	return r.conn.Flush()
}

// OpenNFTBackend connects to the running kernel and builds a backend on the
// named table.
func OpenNFTBackend(table string) (*NFTBackend, error) {
	conn, err := nftables.New()
	if err != nil {
		return nil, err
	}
	return NewNFTBackend(NewRealNFTablesConn(conn), table)
}

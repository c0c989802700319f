// Package extras implements the manifest-local, two-level extras
// dictionary described in spec §3/§9: an arena of interned (key, value)
// pairs identified by kvid, and an arena of bundles (ordered sets of
// kvids) identified by xid. xid 0 always means "no extras"; ids 0–7 are
// reserved in both arenas.
package extras

import "sort"

// KVID identifies one interned (key, value) pair within a single manifest.
type KVID uint64

// XID identifies one bundle of kvids within a single manifest. XID 0 means
// "no extras" and is never assigned to a real bundle.
type XID uint64

const firstFreeID = 8

// KV is one interned key-value pair, as it appears in a 0x21 definition
// entry.
type KV struct {
	ID    KVID
	Key   string
	Value string
}

// Bundle is one interned ordered set of kvids, as it appears in a 0x22
// extradef entry.
type Bundle struct {
	ID    XID
	KVIDs []KVID
}

// Builder interns (key, value) pairs and kvid bundles while a manifest is
// being built, handing out stable small integer ids and deduplicating
// repeats so files sharing owner/group/permissions share one bundle
// (design note "Shared ownership of extras", spec §9).
type Builder struct {
	kvByPair map[[2]string]KVID
	kvs      []KV
	nextKVID KVID

	bundleByKey map[string]XID
	bundles     []Bundle
	nextXID     XID
}

// NewBuilder returns an empty Builder with id allocation starting past the
// reserved range.
func NewBuilder() *Builder {
	return &Builder{
		kvByPair:    make(map[[2]string]KVID),
		bundleByKey: make(map[string]XID),
		nextKVID:    firstFreeID,
		nextXID:     firstFreeID,
	}
}

// InternKV returns the kvid for (key, value), allocating a new one on
// first use.
func (b *Builder) InternKV(key, value string) KVID {
	pair := [2]string{key, value}
	if id, ok := b.kvByPair[pair]; ok {
		return id
	}
	id := b.nextKVID
	b.nextKVID++
	b.kvByPair[pair] = id
	b.kvs = append(b.kvs, KV{ID: id, Key: key, Value: value})
	return id
}

// InternBundle returns the xid for the given set of kvids, allocating a
// new bundle on first use. An empty kvids returns XID 0 ("no extras")
// without allocating anything.
func (b *Builder) InternBundle(kvids []KVID) XID {
	if len(kvids) == 0 {
		return 0
	}
	sorted := append([]KVID(nil), kvids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	key := bundleKey(sorted)
	if id, ok := b.bundleByKey[key]; ok {
		return id
	}
	id := b.nextXID
	b.nextXID++
	b.bundleByKey[key] = id
	b.bundles = append(b.bundles, Bundle{ID: id, KVIDs: sorted})
	return id
}

func bundleKey(sorted []KVID) string {
	buf := make([]byte, 0, len(sorted)*9)
	for _, id := range sorted {
		for id >= 0x80 {
			buf = append(buf, byte(id)|0x80)
			id >>= 7
		}
		buf = append(buf, byte(id))
	}
	return string(buf)
}

// KVs returns every interned key-value pair, in allocation order.
func (b *Builder) KVs() []KV { return b.kvs }

// Bundles returns every interned bundle, in allocation order.
func (b *Builder) Bundles() []Bundle { return b.bundles }

// Table is the reader-side counterpart: it replays 0x21/0x22 definition
// entries observed while parsing a manifest and resolves an xid to its
// flattened key-value map on demand.
type Table struct {
	kv      map[KVID]KV
	bundles map[XID][]KVID
}

// NewTable returns an empty Table, ready to be populated by AddKV/AddBundle
// as the manifest's definition blocks are parsed.
func NewTable() *Table {
	return &Table{kv: make(map[KVID]KV), bundles: make(map[XID][]KVID)}
}

// AddKV records one parsed 0x21 entry.
func (t *Table) AddKV(id KVID, key, value string) {
	t.kv[id] = KV{ID: id, Key: key, Value: value}
}

// AddBundle records one parsed 0x22 entry.
func (t *Table) AddBundle(id XID, kvids []KVID) {
	t.bundles[id] = kvids
}

// Resolve flattens bundle xid into its key-value map. xid 0 resolves to an
// empty, non-nil map.
func (t *Table) Resolve(xid XID) map[string]string {
	out := make(map[string]string)
	if xid == 0 {
		return out
	}
	for _, kvid := range t.bundles[xid] {
		if kv, ok := t.kv[kvid]; ok {
			out[kv.Key] = kv.Value
		}
	}
	return out
}

// Defined well-known extras keys (spec §3).
const (
	KeyOwner      = "owner"
	KeyGroup      = "group"
	KeyUnixAccess = "unix-access"
)

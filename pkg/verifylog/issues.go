package verifylog

import (
	"github.com/eirikba/ebakup/pkg/blockfile"
	"github.com/eirikba/ebakup/pkg/checksum"
	"github.com/eirikba/ebakup/pkg/cid"
	"github.com/eirikba/ebakup/pkg/ebakuperr"
	"github.com/eirikba/ebakup/pkg/wire"
)

// MagicIssues is the settings-block magic line for db/issues.
const MagicIssues = "ebakup issue data"

const (
	tagObjectHistory byte = 'C'
	tagBackupHistory byte = 'B'
)

const (
	detailSuspectOK    byte = 'k'
	detailLogicallyBad byte = 'l'
	detailMissingCID   byte = 'c'
	detailBrokenTrail  byte = 'w'
	detailBrokenShort  byte = 'b'
)

// itemRecord is one fully decoded "exactly one history entry per item"
// record (spec §4.7 "Rewrite discipline").
type itemRecord struct {
	kind byte
	key  []byte // CID bytes, or manifest name bytes
	body []byte // already-encoded change/bkchange events, opaque and appended to
}

func (r itemRecord) itemKey() string { return string(r.kind) + "\x00" + string(r.key) }

func (r itemRecord) encode() []byte {
	var buf []byte
	inner := wire.PutUvarint(nil, uint64(len(r.key)))
	inner = append(inner, r.key...)
	inner = append(inner, r.body...)
	buf = append(buf, r.kind)
	buf = wire.PutUvarint(buf, uint64(len(inner)))
	buf = append(buf, inner...)
	return buf
}

type errNonZeroPadding struct{}

func (errNonZeroPadding) Error() string {
	return "verifylog: non-zero byte after block terminator"
}

func decodeItemRecord(c *blockfile.Cursor) (itemRecord, error) {
	kind, err := c.ReadByte()
	if err != nil {
		return itemRecord{}, err
	}
	if kind != tagObjectHistory && kind != tagBackupHistory {
		return itemRecord{}, ebakuperr.InvalidFormat("", "unknown issues entry tag")
	}
	size, err := c.ReadUvarint()
	if err != nil {
		return itemRecord{}, err
	}
	body, err := c.ReadBytes(int(size))
	if err != nil {
		return itemRecord{}, err
	}
	bc := blockfile.NewCursor(body)
	key, err := bc.ReadLengthPrefixed()
	if err != nil {
		return itemRecord{}, err
	}
	rest := body[bc.Pos():]
	return itemRecord{kind: kind, key: append([]byte(nil), key...), body: append([]byte(nil), rest...)}, nil
}

// EncodeChangeEvent appends one changeevent to buf (spec §4.7).
func EncodeChangeEvent(buf []byte, ev ChangeEvent) []byte {
	buf = encodeTime(buf, ev.Before)
	buf = encodeTime(buf, ev.After)
	buf = append(buf, byte(ev.State))
	if ev.State == StateChecksumBroken {
		buf = encodeLengthPrefixed(buf, ev.Checksum)
	}
	return buf
}

// DecodeChangeEvent decodes one changeevent.
func DecodeChangeEvent(c *blockfile.Cursor) (ChangeEvent, error) {
	before, err := decodeTime(c)
	if err != nil {
		return ChangeEvent{}, err
	}
	after, err := decodeTime(c)
	if err != nil {
		return ChangeEvent{}, err
	}
	state, err := c.ReadByte()
	if err != nil {
		return ChangeEvent{}, err
	}
	ev := ChangeEvent{Before: before, After: after, State: ChangeState(state)}
	if ev.State == StateChecksumBroken {
		ck, err := c.ReadLengthPrefixed()
		if err != nil {
			return ChangeEvent{}, err
		}
		ev.Checksum = append([]byte(nil), ck...)
	}
	return ev, nil
}

// EncodeBackupChangeEvent appends one bkchangeevent to buf (spec §4.7).
func EncodeBackupChangeEvent(buf []byte, ev BackupChangeEvent) []byte {
	buf = encodeTime(buf, ev.Before)
	buf = encodeTime(buf, ev.After)
	if ev.Rewritten {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	if ev.Broken {
		buf = append(buf, detailBrokenShort)
		return buf
	}
	if len(ev.SuspectOK) > 0 {
		buf = append(buf, detailSuspectOK)
		buf = encodeBlockIdxList(buf, ev.SuspectOK)
	}
	if len(ev.LogicallyBad) > 0 {
		buf = append(buf, detailLogicallyBad)
		buf = encodeBlockIdxList(buf, ev.LogicallyBad)
	}
	for _, c := range ev.MissingCIDs {
		buf = append(buf, detailMissingCID)
		buf = encodeLengthPrefixed(buf, c)
	}
	buf = append(buf, detailBrokenTrail)
	buf = encodeBlockIdxList(buf, ev.BrokenBlocks)
	return buf
}

// DecodeBackupChangeEvent decodes one bkchangeevent.
func DecodeBackupChangeEvent(c *blockfile.Cursor) (BackupChangeEvent, error) {
	before, err := decodeTime(c)
	if err != nil {
		return BackupChangeEvent{}, err
	}
	after, err := decodeTime(c)
	if err != nil {
		return BackupChangeEvent{}, err
	}
	rewrittenB, err := c.ReadByte()
	if err != nil {
		return BackupChangeEvent{}, err
	}
	ev := BackupChangeEvent{Before: before, After: after, Rewritten: rewrittenB != 0}

	tag, err := c.ReadByte()
	if err != nil {
		return BackupChangeEvent{}, err
	}
	if tag == detailBrokenShort {
		ev.Broken = true
		return ev, nil
	}
	if tag == detailSuspectOK {
		ev.SuspectOK, err = decodeBlockIdxList(c)
		if err != nil {
			return BackupChangeEvent{}, err
		}
		tag, err = c.ReadByte()
		if err != nil {
			return BackupChangeEvent{}, err
		}
	}
	if tag == detailLogicallyBad {
		ev.LogicallyBad, err = decodeBlockIdxList(c)
		if err != nil {
			return BackupChangeEvent{}, err
		}
		tag, err = c.ReadByte()
		if err != nil {
			return BackupChangeEvent{}, err
		}
	}
	for tag == detailMissingCID {
		c0, err := c.ReadLengthPrefixed()
		if err != nil {
			return BackupChangeEvent{}, err
		}
		ev.MissingCIDs = append(ev.MissingCIDs, cid.CID(append([]byte(nil), c0...)))
		tag, err = c.ReadByte()
		if err != nil {
			return BackupChangeEvent{}, err
		}
	}
	if tag != detailBrokenTrail {
		return BackupChangeEvent{}, ebakuperr.InvalidFormat("", "bkchangeevent missing mandatory w trailer")
	}
	ev.BrokenBlocks, err = decodeBlockIdxList(c)
	if err != nil {
		return BackupChangeEvent{}, err
	}
	return ev, nil
}

// Issues is an open db/issues file.
type Issues struct {
	file      *blockfile.File
	path      string
	blockSize int
	sumAlgo   checksum.Algorithm
}

// OpenIssues opens an existing issues file.
func OpenIssues(path string) (*Issues, error) {
	file, settings, err := blockfile.Open(path)
	if err != nil {
		return nil, err
	}
	if settings.Magic != MagicIssues {
		file.Close()
		return nil, ebakuperr.InvalidFormat(path, "unrecognized magic: "+settings.Magic)
	}
	return &Issues{file: file, path: path, blockSize: settings.BlockSize, sumAlgo: settings.BlockSum}, nil
}

// CreateIssues creates a new, empty issues file.
func CreateIssues(path string, blockSize int, sumAlgo checksum.Algorithm) (*Issues, error) {
	s := blockfile.Settings{Magic: MagicIssues, BlockSize: blockSize, BlockSum: sumAlgo}
	file, err := blockfile.Create(path, s)
	if err != nil {
		return nil, err
	}
	return &Issues{file: file, path: path, blockSize: blockSize, sumAlgo: sumAlgo}, nil
}

// Close closes the underlying container file.
func (is *Issues) Close() error { return is.file.Close() }

func (is *Issues) capacity() (int, error) {
	sumSize, err := checksum.Size(is.sumAlgo)
	if err != nil {
		return 0, err
	}
	return is.blockSize - sumSize, nil
}

// scan loads every block's decoded records, in block order.
func (is *Issues) scan() (blockOrder []int, blocks map[int][]itemRecord, err error) {
	blocks = make(map[int][]itemRecord)
	err = is.file.Iterate(1, func(blockIndex int, payload []byte) error {
		c := blockfile.NewCursor(payload)
		var recs []itemRecord
		for c.Remaining() > 0 {
			// A 0x00 byte where a record's kind tag is expected ends
			// this block's records; everything after it must be zero
			// padding (spec §4.1). Record bodies are exact-length (a
			// varint size prefix), so this check never fires mid-record.
			if tag, has := c.PeekByte(); has && tag == 0x00 {
				for _, b := range c.Rest() {
					if b != 0x00 {
						return ebakuperr.BlockCorrupt(is.path, blockIndex, errNonZeroPadding{})
					}
				}
				break
			}
			r, err := decodeItemRecord(c)
			if err != nil {
				return ebakuperr.BlockCorrupt(is.path, blockIndex, err)
			}
			recs = append(recs, r)
		}
		if len(recs) > 0 {
			blockOrder = append(blockOrder, blockIndex)
			blocks[blockIndex] = recs
		}
		return nil
	})
	return blockOrder, blocks, err
}

func encodeRecords(recs []itemRecord) []byte {
	var buf []byte
	for _, r := range recs {
		buf = append(buf, r.encode()...)
	}
	return buf
}

// updateRecord finds the item keyed by (kind, key), applies mutate to its
// event body (appending the new event's encoding), and writes it back —
// creating the item fresh if it did not exist. Exactly one record exists
// per item; if the owning block no longer has room once the record grows,
// other records from that block are spilled one at a time, each to the
// first other block with space or to a new block if none has room, until
// the grown record fits (spec §4.7 "Rewrite discipline").
func (is *Issues) updateRecord(kind byte, key []byte, appendEvent []byte) error {
	capacity, err := is.capacity()
	if err != nil {
		return err
	}
	order, blocks, err := is.scan()
	if err != nil {
		return err
	}
	target := string(kind) + "\x00" + string(key)

	ownerBlock := -1
	ownerIdx := -1
	for _, b := range order {
		for i, r := range blocks[b] {
			if r.itemKey() == target {
				ownerBlock, ownerIdx = b, i
				break
			}
		}
		if ownerBlock >= 0 {
			break
		}
	}

	if ownerBlock < 0 {
		rec := itemRecord{kind: kind, key: key, body: appendEvent}
		for _, b := range order {
			if len(encodeRecords(blocks[b]))+len(rec.encode()) <= capacity {
				blocks[b] = append(blocks[b], rec)
				return is.file.RewriteBlock(b, encodeRecords(blocks[b]))
			}
		}
		return is.file.AppendBlock(rec.encode())
	}

	recs := blocks[ownerBlock]
	recs[ownerIdx].body = append(append([]byte(nil), recs[ownerIdx].body...), appendEvent...)
	if len(encodeRecords(recs)) <= capacity {
		return is.file.RewriteBlock(ownerBlock, encodeRecords(recs))
	}

	// Spill the first other record out to make room, one at a time.
	for len(encodeRecords(recs)) > capacity {
		spillIdx := -1
		for i := range recs {
			if i != ownerIdx {
				spillIdx = i
				break
			}
		}
		if spillIdx < 0 {
			return ebakuperr.InvalidFormat(is.path, "updated issues record too large for any block")
		}
		spilled := recs[spillIdx]
		recs = append(recs[:spillIdx], recs[spillIdx+1:]...)
		if spillIdx < ownerIdx {
			ownerIdx--
		}
		placed := false
		for _, b := range order {
			if b == ownerBlock {
				continue
			}
			if len(encodeRecords(blocks[b]))+len(spilled.encode()) <= capacity {
				blocks[b] = append(blocks[b], spilled)
				if err := is.file.RewriteBlock(b, encodeRecords(blocks[b])); err != nil {
					return err
				}
				placed = true
				break
			}
		}
		if !placed {
			if err := is.file.AppendBlock(spilled.encode()); err != nil {
				return err
			}
		}
	}
	blocks[ownerBlock] = recs
	return is.file.RewriteBlock(ownerBlock, encodeRecords(recs))
}

// AppendObjectEvent records a new changeevent for a CID's history.
func (is *Issues) AppendObjectEvent(c cid.CID, ev ChangeEvent) error {
	return is.updateRecord(tagObjectHistory, c, EncodeChangeEvent(nil, ev))
}

// AppendBackupEvent records a new bkchangeevent for a manifest's history.
func (is *Issues) AppendBackupEvent(name string, ev BackupChangeEvent) error {
	return is.updateRecord(tagBackupHistory, []byte(name), EncodeBackupChangeEvent(nil, ev))
}

// ObjectHistory returns the decoded changeevent history for cid, or nil
// if it has none.
func (is *Issues) ObjectHistory(c cid.CID) ([]ChangeEvent, error) {
	_, blocks, err := is.scan()
	if err != nil {
		return nil, err
	}
	for _, recs := range blocks {
		for _, r := range recs {
			if r.kind == tagObjectHistory && string(r.key) == string(c) {
				return decodeChangeEvents(r.body)
			}
		}
	}
	return nil, nil
}

// BackupHistory returns the decoded bkchangeevent history for name, or
// nil if it has none.
func (is *Issues) BackupHistory(name string) ([]BackupChangeEvent, error) {
	_, blocks, err := is.scan()
	if err != nil {
		return nil, err
	}
	for _, recs := range blocks {
		for _, r := range recs {
			if r.kind == tagBackupHistory && string(r.key) == name {
				return decodeBackupChangeEvents(r.body)
			}
		}
	}
	return nil, nil
}

func decodeChangeEvents(body []byte) ([]ChangeEvent, error) {
	c := blockfile.NewCursor(body)
	var out []ChangeEvent
	for c.Remaining() > 0 {
		ev, err := DecodeChangeEvent(c)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func decodeBackupChangeEvents(body []byte) ([]BackupChangeEvent, error) {
	c := blockfile.NewCursor(body)
	var out []BackupChangeEvent
	for c.Remaining() > 0 {
		ev, err := DecodeBackupChangeEvent(c)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

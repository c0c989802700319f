package manifest

import (
	"sort"
	"time"

	"github.com/eirikba/ebakup/pkg/blockfile"
	"github.com/eirikba/ebakup/pkg/ebakuperr"
	"github.com/eirikba/ebakup/pkg/extras"
)

// Reader is a fully parsed, immutable manifest plus the indexes needed for
// random access by (parent, name) and for sorted directory listings (spec
// §4.3 "Reader contract").
type Reader struct {
	path  string
	start time.Time
	end   time.Time

	dirs  []Directory
	files []File
	table *extras.Table

	fileByParent map[DirID]map[string]*File
	dirByParent  map[DirID]map[string]*Directory
}

// Open parses the manifest file at path, verifying every block's checksum
// along the way and enforcing the definition-before-data block ordering
// and the "no unknown settings" rule (spec §4.3, §4.8).
func Open(path string) (*Reader, error) {
	file, settings, err := blockfile.OpenReadOnly(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if settings.Magic != Magic {
		return nil, ebakuperr.InvalidFormat(path, "unrecognized magic: "+settings.Magic)
	}
	startStr, ok := settings.Get("start")
	if !ok {
		return nil, ebakuperr.InvalidFormat(path, "missing start setting")
	}
	endStr, hasEnd := settings.Get("end")
	for _, kv := range settings.Extra {
		if kv.Key != "start" && kv.Key != "end" {
			return nil, ebakuperr.InvalidFormat(path, "unknown setting: "+kv.Key)
		}
	}
	start, err := parseManifestTime(startStr, time.Local)
	if err != nil {
		return nil, ebakuperr.InvalidFormat(path, "invalid start setting: "+startStr)
	}
	var end time.Time
	if hasEnd {
		end, err = parseManifestTime(endStr, time.Local)
		if err != nil {
			return nil, ebakuperr.InvalidFormat(path, "invalid end setting: "+endStr)
		}
	}

	table := extras.NewTable()
	var dirs []Directory
	var files []File
	sawData := false
	err = file.Iterate(1, func(index int, payload []byte) error {
		kind, err := decodeBlock(payload, table, &dirs, &files)
		if err != nil {
			return ebakuperr.InvalidFormat(path, err.Error())
		}
		if kind == kindDefinition && sawData {
			return ebakuperr.InvalidFormat(path, "definition block found after data block")
		}
		if kind == kindData {
			sawData = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r := &Reader{
		path:  path,
		start: start,
		end:   end,
		dirs:  dirs,
		files: files,
		table: table,

		fileByParent: make(map[DirID]map[string]*File),
		dirByParent:  make(map[DirID]map[string]*Directory),
	}
	for i := range r.files {
		f := &r.files[i]
		m := r.fileByParent[f.Parent]
		if m == nil {
			m = make(map[string]*File)
			r.fileByParent[f.Parent] = m
		}
		m[f.Name] = f
	}
	for i := range r.dirs {
		d := &r.dirs[i]
		m := r.dirByParent[d.Parent]
		if m == nil {
			m = make(map[string]*Directory)
			r.dirByParent[d.Parent] = m
		}
		m[d.Name] = d
	}
	return r, nil
}

// Start returns the snapshot's start time.
func (r *Reader) Start() time.Time { return r.start }

// End returns the snapshot's end time (zero if the manifest predates
// finalization, which should never happen for a file the façade exposes).
func (r *Reader) End() time.Time { return r.end }

// Lookup resolves a file by (parent directory id, name).
func (r *Reader) Lookup(parent DirID, name string) (*File, bool) {
	f, ok := r.fileByParent[parent][name]
	return f, ok
}

// LookupDir resolves a directory by (parent directory id, name).
func (r *Reader) LookupDir(parent DirID, name string) (*Directory, bool) {
	d, ok := r.dirByParent[parent][name]
	return d, ok
}

// Files returns every file record, in manifest file order.
func (r *Reader) Files() []File { return r.files }

// Directories returns every directory record, in manifest file order.
func (r *Reader) Directories() []Directory { return r.dirs }

// ListDir returns the immediate child directories and files of parent,
// each sorted by byte-wise name order (spec §4.3 "Reader contract").
func (r *Reader) ListDir(parent DirID) (dirs []Directory, files []File) {
	for _, d := range r.dirs {
		if d.Parent == parent {
			dirs = append(dirs, d)
		}
	}
	for _, f := range r.files {
		if f.Parent == parent {
			files = append(files, f)
		}
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name < dirs[j].Name })
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return dirs, files
}

// Extras resolves xid to its flattened key-value map.
func (r *Reader) Extras(xid extras.XID) map[string]string {
	return r.table.Resolve(xid)
}

package results

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	// ErrorKey holds the failure trace of a run that crashed.
	ErrorKey = "ERROR"
	// ErrorsKey holds the per-target failures reported by the processor.
	ErrorsKey = "errors"
	// BackupsSuffix marks keys whose value is a list of backup entries.
	BackupsSuffix = "_backups"
	// DownloadPathKey is the artifact path of a single backup entry.
	DownloadPathKey = "download_path"
)

// ErrNotObject is returned when a document is not a JSON object.
var ErrNotObject = errors.New("results document is not a JSON object")

// Document is the outcome of one backup run. Keys keep the order in which
// they were written so the file reads back the same way.
type Document struct {
	fields *orderedmap.OrderedMap[string, any]
}

// Entry is the typed view of one backup entry.
type Entry struct {
	DownloadPath string         `mapstructure:"download_path" json:"download_path"`
	App          string         `mapstructure:"app"           json:"app,omitempty"`
	Controller   string         `mapstructure:"controller"    json:"controller,omitempty"`
	Model        string         `mapstructure:"model"         json:"model,omitempty"`
	Extra        map[string]any `mapstructure:",remain"       json:"-"`
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{fields: orderedmap.New[string, any]()}
}

// ErrorDocument returns a document carrying only the captured failure trace.
func ErrorDocument(trace string) *Document {
	doc := NewDocument()
	doc.Set(ErrorKey, trace)
	return doc
}

// Parse decodes raw JSON into a Document.
func Parse(data []byte) (*Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrNotObject
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("malformed JSON")
	}
	doc := NewDocument()
	if err := doc.fields.UnmarshalJSON(trimmed); err != nil {
		return nil, err
	}
	return doc, nil
}

// Set stores a top-level value.
func (d *Document) Set(key string, value any) {
	d.fields.Set(key, value)
}

// Get returns a top-level value.
func (d *Document) Get(key string) (any, bool) {
	return d.fields.Get(key)
}

// Keys returns the top-level keys in document order.
func (d *Document) Keys() []string {
	keys := make([]string, 0, d.fields.Len())
	for pair := d.fields.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Error returns the crash trace when the run failed hard.
func (d *Document) Error() (any, bool) {
	return d.fields.Get(ErrorKey)
}

// Errors returns the per-target failures when the run partially failed.
func (d *Document) Errors() (any, bool) {
	return d.fields.Get(ErrorsKey)
}

// BackupKinds returns, in order, every key ending in "_backups".
func (d *Document) BackupKinds() []string {
	var kinds []string
	for _, key := range d.Keys() {
		if strings.HasSuffix(key, BackupsSuffix) {
			kinds = append(kinds, key)
		}
	}
	return kinds
}

// RawEntries returns the untyped entries stored under kind.
func (d *Document) RawEntries(kind string) ([]any, error) {
	value, ok := d.fields.Get(kind)
	if !ok {
		return nil, nil
	}
	entries, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("%s: expected a list of entries, got %T", kind, value)
	}
	return entries, nil
}

// SetRawEntries replaces the entries stored under kind.
func (d *Document) SetRawEntries(kind string, entries []any) {
	d.fields.Set(kind, entries)
}

// DecodeEntry converts a raw entry into an Entry. hasPath reports whether the
// entry carries a download_path at all; err is set only when that path is not
// a string. Metadata never fails the decode: values the typed fields cannot
// hold are kept untyped in Extra.
func DecodeEntry(raw any) (entry Entry, hasPath bool, err error) {
	fields, ok := raw.(map[string]any)
	if !ok {
		return Entry{}, false, nil
	}
	value, hasPath := fields[DownloadPathKey]
	if !hasPath {
		return Entry{}, false, nil
	}
	path, ok := value.(string)
	if !ok {
		return Entry{}, true, fmt.Errorf("decode backup entry: download_path is %T, not a string", value)
	}
	entry = decodeMetadata(fields)
	entry.DownloadPath = path
	return entry, true, nil
}

func decodeMetadata(fields map[string]any) Entry {
	var entry Entry
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &entry,
	})
	if err == nil && decoder.Decode(fields) == nil {
		return entry
	}

	extra := make(map[string]any, len(fields))
	for key, value := range fields {
		if key != DownloadPathKey {
			extra[key] = value
		}
	}
	return Entry{Extra: extra}
}

// MarshalJSON encodes the document preserving key order.
func (d *Document) MarshalJSON() ([]byte, error) {
	return d.fields.MarshalJSON()
}

// UnmarshalJSON decodes a JSON object into the document.
func (d *Document) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	d.fields = parsed.fields
	return nil
}

// String renders a JSON value the way it appears in health messages.
func String(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(b)
}

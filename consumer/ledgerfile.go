package consumer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

const ledgerSchema = "v1"

// LedgerFile persists committed offsets as YAML so a restarted consumer can
// resume in ledger mode.
type LedgerFile struct {
	path string
}

func NewLedgerFile(path string) *LedgerFile {
	return &LedgerFile{path: path}
}

type ledgerDoc struct {
	SchemaVersion string        `yaml:"schema_version"`
	Offsets       []ledgerEntry `yaml:"offsets"`
}

type ledgerEntry struct {
	Topic     string `yaml:"topic"`
	Partition int32  `yaml:"partition"`
	Committed int64  `yaml:"committed"`
}

// Load returns the persisted offsets. A missing file is an empty ledger.
func (f *LedgerFile) Load() (map[TopicPartition]int64, error) {
	out := map[TopicPartition]int64{}
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	var doc ledgerDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if doc.SchemaVersion != "" && doc.SchemaVersion != ledgerSchema {
		return nil, fmt.Errorf("ledger schema_version %q not supported (want %q)", doc.SchemaVersion, ledgerSchema)
	}
	for _, e := range doc.Offsets {
		out[TopicPartition{Topic: e.Topic, Partition: e.Partition}] = e.Committed
	}
	return out, nil
}

// Store writes the offsets atomically via a temp file and rename.
func (f *LedgerFile) Store(offsets map[TopicPartition]int64) error {
	doc := ledgerDoc{SchemaVersion: ledgerSchema}
	for tp, off := range offsets {
		doc.Offsets = append(doc.Offsets, ledgerEntry{Topic: tp.Topic, Partition: tp.Partition, Committed: off})
	}
	sort.Slice(doc.Offsets, func(i, j int) bool {
		if doc.Offsets[i].Topic != doc.Offsets[j].Topic {
			return doc.Offsets[i].Topic < doc.Offsets[j].Topic
		}
		return doc.Offsets[i].Partition < doc.Offsets[j].Partition
	})
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

package core

// mapping.go projects a Group snapshot through a Channel's field mappings.
//
// Projection is deterministic and side-effect free: the same channel and
// snapshot always yield the same rows, columns, and warnings. Per-field
// problems are collected as warnings; the only fatal condition is a
// snapshot with no usable data.

import "github.com/samber/lo"

// Projection is the derived output of one channel over one snapshot.
type Projection struct {
	Channel       string
	Columns       []string   // Target names in channel order
	Rows          [][]string // One row per snapshot record, aligned to Columns
	Warnings      []Warning
	SchemaVersion int64
	SnapshotState SnapshotStatus
}

type warningKey struct {
	kind   WarningKind
	target string
}

// warningSet folds repeated warnings into one entry per (kind, target),
// keeping first-seen order.
type warningSet struct {
	index map[warningKey]int
	list  []Warning
}

func (w *warningSet) add(kind WarningKind, row int, m FieldMapping) {
	if w.index == nil {
		w.index = make(map[warningKey]int)
	}
	key := warningKey{kind: kind, target: m.TargetName}
	if i, ok := w.index[key]; ok {
		w.list[i].Count++
		return
	}
	w.index[key] = len(w.list)
	w.list = append(w.list, Warning{
		Kind:        kind,
		TargetName:  m.TargetName,
		SourceField: m.SourceField,
		Rule:        m.Rule,
		FirstRow:    row,
		Count:       1,
	})
}

// Project maps every snapshot record through the channel's field mappings.
// A nil snapshot or one with status error returns *MappingError. Stale
// snapshots still project: they hold the last good data.
func Project(ch Channel, snap *Snapshot) (Projection, error) {
	if !snap.Usable() {
		cause := "no successful fetch yet"
		if snap != nil && snap.Cause != "" {
			cause = snap.Cause
		}
		return Projection{}, &MappingError{Channel: ch.Name, Group: ch.Group, Cause: cause}
	}

	rules := make([]Rule, len(ch.Fields))
	for i, m := range ch.Fields {
		rules[i] = CompileRule(m.Rule)
	}

	var warnings warningSet
	rows := make([][]string, len(snap.Records))
	for r, rec := range snap.Records {
		row := make([]string, len(ch.Fields))
		for i, m := range ch.Fields {
			value, ok := rec[m.SourceField]
			if !ok {
				warnings.add(WarnMissingSourceField, r, m)
			}
			out, kind := rules[i].Apply(value)
			if kind != "" {
				warnings.add(kind, r, m)
			}
			row[i] = out
		}
		rows[r] = row
	}

	return Projection{
		Channel:       ch.Name,
		Columns:       ch.Columns(),
		Rows:          rows,
		Warnings:      lo.Ternary(warnings.list == nil, []Warning{}, warnings.list),
		SchemaVersion: snap.SchemaVersion,
		SnapshotState: snap.Status,
	}, nil
}

// WarningCount returns the total number of folded warning occurrences.
func (p Projection) WarningCount() int {
	n := 0
	for _, w := range p.Warnings {
		n += w.Count
	}
	return n
}

// SPDX-License-Identifier: MIT
// Copyright (c) 2026 ObscureTools
// Source: github.com/obscuretools/hvp

package hvp

import (
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

// Decision states what the builder does with one plan entry.
type Decision string

// Plan entry decisions.
const (
	// DecisionReuse copies the stored payload verbatim from the source archive.
	DecisionReuse Decision = "reuse"
	// DecisionRecompress reads the entry content from its input stream.
	DecisionRecompress Decision = "recompress"
)

// PlanReason states why a decision was taken, for reporting.
type PlanReason string

// Plan decision reasons.
const (
	// PlanReasonUnchanged marks entries whose content fingerprint matched.
	PlanReasonUnchanged PlanReason = "unchanged"
	// PlanReasonNew marks files absent from the source archive.
	PlanReasonNew PlanReason = "new"
	// PlanReasonChanged marks files whose content fingerprint differs.
	PlanReasonChanged PlanReason = "changed"
	// PlanReasonUntracked marks files present in the archive but missing from the manifest.
	PlanReasonUntracked PlanReason = "untracked"
	// PlanReasonForced marks entries rebuilt because ForceAll was set.
	PlanReasonForced PlanReason = "forced"
	// PlanReasonFullRebuild marks entries rebuilt because no archive or manifest was available.
	PlanReasonFullRebuild PlanReason = "full-rebuild"
)

// PlanEntry is one build instruction: where the entry payload comes from and why.
type PlanEntry struct {
	// Input is the directory file backing this entry. Always set by
	// ComputePlan; required by the builder for recompression.
	Input *Input `json:"input,omitempty" yaml:"input,omitempty"`
	// Source is the archive entry whose stored payload is reused.
	Source *Entry `json:"source,omitempty" yaml:"source,omitempty"`
	// Name is the canonical entry name.
	Name string `json:"name" yaml:"name"`
	// Decision selects the payload path.
	Decision Decision `json:"decision" yaml:"decision"`
	// Reason records why the decision was taken.
	Reason PlanReason `json:"reason,omitempty" yaml:"reason,omitempty"`
	// Fingerprint is the current content fingerprint of the input.
	Fingerprint Fingerprint `json:"fingerprint,omitzero" yaml:"fingerprint,omitzero"`
}

// PackPlan is an ordered set of build instructions. Entries retained from the
// source archive keep their archive order; new files follow, sorted by name.
type PackPlan struct {
	// Entries are build instructions in output order.
	Entries []PlanEntry `json:"entries" yaml:"entries"`
}

// Decisions returns a name-to-decision view of the plan.
func (p *PackPlan) Decisions() map[string]Decision {
	if p == nil {
		return nil
	}

	out := make(map[string]Decision, len(p.Entries))
	for i := range p.Entries {
		out[p.Entries[i].Name] = p.Entries[i].Decision
	}

	return out
}

// Reused returns the number of entries planned for verbatim payload reuse.
func (p *PackPlan) Reused() int {
	n := 0
	for i := range p.Entries {
		if p.Entries[i].Decision == DecisionReuse {
			n++
		}
	}

	return n
}

// Recompressed returns the number of entries planned for recompression.
func (p *PackPlan) Recompressed() int {
	return len(p.Entries) - p.Reused()
}

// ComputePlan decides, for every directory file, whether its stored payload
// can be reused from the existing archive or must be rebuilt from disk.
//
// existing is the archive whose stored payloads may be reused; pass nil when
// none is available or when building for a different profile. prior is the
// manifest written by the pack that produced existing. Reuse requires both:
// an archive entry to copy from and a manifest fingerprint to compare with.
// Archive entries without a matching directory file are dropped, the
// directory is authoritative.
func ComputePlan(ctx context.Context, files []Input, existing *Reader, prior *Manifest, opts PlanOptions) (*PackPlan, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if len(files) == 0 {
		return nil, ErrEmptyPlan
	}

	entries, err := normalizePlanInputs(files)
	if err != nil {
		return nil, err
	}

	if err := fingerprintPlanInputs(ctx, entries, prior, opts); err != nil {
		return nil, err
	}

	decidePlanEntries(entries, existing, prior, opts)

	return &PackPlan{Entries: orderPlanEntries(entries, existing)}, nil
}

// normalizePlanInputs canonicalizes input paths and rejects duplicates.
func normalizePlanInputs(files []Input) ([]PlanEntry, error) {
	entries := make([]PlanEntry, len(files))
	seen := make(map[string]string, len(files))

	for i := range files {
		name, err := normalizeEntryName(files[i].Path)
		if err != nil {
			return nil, err
		}

		key := entryNameKey(name)
		if existing, ok := seen[key]; ok {
			return nil, fmt.Errorf("%w: %q conflicts with %q", ErrDuplicateEntryName, name, existing)
		}
		seen[key] = name

		in := files[i]
		in.Path = name
		entries[i] = PlanEntry{Name: name, Input: &in}
	}

	return entries, nil
}

// fingerprintPlanInputs fills current content fingerprints, hashing inputs in
// parallel. With TrustModTime, files whose size and modification time match
// the prior manifest carry the prior checksum without being read.
func fingerprintPlanInputs(ctx context.Context, entries []PlanEntry, prior *Manifest, opts PlanOptions) error {
	g, ctx := errgroup.WithContext(ctx)
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(workers)

	for i := range entries {
		e := &entries[i]

		if opts.TrustModTime && !opts.ForceAll {
			if pf, ok := prior.Lookup(e.Name); ok && pf.Size == e.Input.Size && pf.ModTime.Equal(e.Input.ModTime) {
				e.Fingerprint = Fingerprint{Size: pf.Size, CRC32: pf.CRC32, ModTime: e.Input.ModTime}
				continue
			}
		}

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			crc, size, err := hashInput(*e.Input)
			if err != nil {
				return err
			}

			e.Fingerprint = Fingerprint{Size: size, CRC32: crc, ModTime: e.Input.ModTime}
			return nil
		})
	}

	return g.Wait()
}

// hashInput reads one input fully and returns its CRC32 and byte size.
func hashInput(in Input) (uint32, int64, error) {
	rc, err := openInputReader(in)
	if err != nil {
		return 0, 0, err
	}

	h := crc32.NewIEEE()
	size, copyErr := io.Copy(h, rc)
	closeErr := rc.Close()
	if copyErr != nil {
		return 0, 0, fmt.Errorf("hash input %s: %w", in.Path, copyErr)
	}
	if closeErr != nil {
		return 0, 0, fmt.Errorf("close input %s: %w", in.Path, closeErr)
	}

	return h.Sum32(), size, nil
}

// decidePlanEntries assigns a decision and reason to every plan entry.
func decidePlanEntries(entries []PlanEntry, existing *Reader, prior *Manifest, opts PlanOptions) {
	for i := range entries {
		e := &entries[i]

		if opts.ForceAll {
			e.Decision = DecisionRecompress
			e.Reason = PlanReasonForced
			continue
		}

		if existing == nil || prior == nil {
			e.Decision = DecisionRecompress
			e.Reason = PlanReasonFullRebuild
			continue
		}

		source := existing.findEntryByName(e.Name)
		if source == nil {
			e.Decision = DecisionRecompress
			e.Reason = PlanReasonNew
			continue
		}

		pf, tracked := prior.Lookup(e.Name)
		if !tracked {
			e.Decision = DecisionRecompress
			e.Reason = PlanReasonUntracked
			continue
		}

		if !e.Fingerprint.Equal(pf) {
			e.Decision = DecisionRecompress
			e.Reason = PlanReasonChanged
			continue
		}

		src := *source
		e.Decision = DecisionReuse
		e.Reason = PlanReasonUnchanged
		e.Source = &src
	}
}

// orderPlanEntries puts entries retained from the archive first, in archive
// table order, and appends the rest sorted by name. The resulting payload
// layout is stable across repacks, so unchanged archives rebuild identically.
func orderPlanEntries(entries []PlanEntry, existing *Reader) []PlanEntry {
	if existing == nil {
		sortPlanEntries(entries)
		return entries
	}

	byKey := make(map[string]int, len(entries))
	for i := range entries {
		byKey[entryNameKey(entries[i].Name)] = i
	}

	ordered := make([]PlanEntry, 0, len(entries))
	consumed := make(map[int]struct{}, len(entries))

	for _, archived := range existing.entries {
		i, ok := byKey[entryNameKey(archived.Name)]
		if !ok {
			continue
		}
		if _, done := consumed[i]; done {
			continue
		}

		consumed[i] = struct{}{}
		ordered = append(ordered, entries[i])
	}

	fresh := make([]PlanEntry, 0, len(entries)-len(ordered))
	for i := range entries {
		if _, done := consumed[i]; !done {
			fresh = append(fresh, entries[i])
		}
	}

	sortPlanEntries(fresh)
	return append(ordered, fresh...)
}

// sortPlanEntries orders entries by canonical name.
func sortPlanEntries(entries []PlanEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
}

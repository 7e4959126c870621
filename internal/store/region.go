package store

// region is a byte-range pending write, modeled on rclone's lib/ranges.Range
// (Pos, Size, with End/Intersection/Merge helpers) — only that package's
// test file survived retrieval, so the type is rebuilt here from its
// observed behavior rather than copied.
type region struct {
	Pos  int64
	Size int64
	Data []byte
}

// End returns the offset one past the end of the region.
func (r region) End() int64 { return r.Pos + r.Size }

// overlaps reports whether r and b share any byte.
func (r region) overlaps(b region) bool {
	return r.Pos < b.End() && b.Pos < r.End()
}

// pendingWrites is the per-FID ordered buffer of unstable writes from spec
// §4.5/§4.9: regions are kept in the order the server received them: wire
// order determines replay order, and on overlap the later write wins.
type pendingWrites struct {
	regions []region
}

// add appends a newly received region, splitting any existing region that
// it partially overlaps so that, when regions are replayed in order, the
// latest write for any given byte always wins without needing to resolve
// overlaps at read time.
func (p *pendingWrites) add(r region) {
	var kept []region
	for _, existing := range p.regions {
		if !existing.overlaps(r) {
			kept = append(kept, existing)
			continue
		}
		// Keep the parts of existing that fall outside r.
		if existing.Pos < r.Pos {
			kept = append(kept, region{
				Pos:  existing.Pos,
				Size: r.Pos - existing.Pos,
				Data: existing.Data[:r.Pos-existing.Pos],
			})
		}
		if existing.End() > r.End() {
			cut := r.End() - existing.Pos
			kept = append(kept, region{
				Pos:  r.End(),
				Size: existing.End() - r.End(),
				Data: existing.Data[cut:],
			})
		}
	}
	kept = append(kept, r)
	p.regions = kept
}

// overlay returns the bytes of buf (which represents committed data read
// starting at fileOffset) with every pending region that intersects
// [fileOffset, fileOffset+len(buf)) applied on top, in the order they are
// stored (oldest first, so later adds — already reconciled by add — take
// precedence naturally).
func (p *pendingWrites) overlay(buf []byte, fileOffset int64) []byte {
	out := append([]byte(nil), buf...)
	winEnd := fileOffset + int64(len(out))
	for _, r := range p.regions {
		lo := max64(r.Pos, fileOffset)
		hi := min64(r.End(), winEnd)
		if lo >= hi {
			continue
		}
		copy(out[lo-fileOffset:hi-fileOffset], r.Data[lo-r.Pos:hi-r.Pos])
	}
	return out
}

// span returns the smallest region covering every pending write, or ok ==
// false if there are none.
func (p *pendingWrites) span() (lo, hi int64, ok bool) {
	if len(p.regions) == 0 {
		return 0, 0, false
	}
	lo, hi = p.regions[0].Pos, p.regions[0].End()
	for _, r := range p.regions[1:] {
		if r.Pos < lo {
			lo = r.Pos
		}
		if r.End() > hi {
			hi = r.End()
		}
	}
	return lo, hi, true
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

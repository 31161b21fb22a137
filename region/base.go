package region

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"go.uber.org/zap"

	"github.com/lanearena/memarena/arenaerr"
	"github.com/lanearena/memarena/handle"
	"github.com/lanearena/memarena/record"
)

const initialTableCapacity = 16

// Base is the shared Region implementation embedded by FastLane and
// SlowLane. Every exported method listed on the Region interface is
// implemented here; specialisations override only what spec sections
// 4.2/4.3 actually change (FastLane's Compact, SlowLane's reserved
// margin is just a constructor parameter).
//
// Base holds no lock of its own: the Arena facade serialises all
// access to both lanes behind one mutex (spec section 5), so Base's
// methods assume they are never called concurrently.
type Base struct {
	name     string
	tag      handle.Tag
	capacity int
	reserved int // bytes kept unusable by CanAllocate/Allocate (SlowLane's safety margin)

	buffer []byte

	records map[int64]*record.Record
	order   []int64 // insertion order; freed slots become the sentinel id 0

	freeIDPool []int64
	nextID     int64
	direction  int64

	filter *bloom.BloomFilter

	// peerResolveDirect/peerFree let a stub record in this region
	// cascade into the region that actually owns the redirect target.
	// Wired once by the Arena facade after both lanes exist.
	peerResolveDirect func(handle.Handle) ([]byte, error)
	peerFree          func(handle.Handle) error

	observer Observer
	log      *zap.Logger
}

// NewBase constructs a region with the given fixed capacity and
// reserved margin (0 for FastLane). tag must be TagFast or TagSlow.
func NewBase(name string, tag handle.Tag, capacity, reserved int, log *zap.Logger, observer Observer) *Base {
	if log == nil {
		log = zap.NewNop()
	}
	if observer == nil {
		observer = NopObserver{}
	}
	direction := int64(1)
	if tag == handle.TagSlow {
		direction = -1
	}
	return &Base{
		name:      name,
		tag:       tag,
		capacity:  capacity,
		reserved:  reserved,
		buffer:    make([]byte, capacity),
		records:   make(map[int64]*record.Record),
		order:     make([]int64, 0, initialTableCapacity),
		nextID:    direction,
		direction: direction,
		filter:    newFilter(capacity),
		observer:  observer,
		log:       log,
	}
}

func newFilter(capacity int) *bloom.BloomFilter {
	// One expected element per 32 bytes of capacity is a generous
	// estimate for small/hot allocations; rebuilt from scratch on
	// Compact keeps the false-positive rate from drifting upward as
	// ids churn.
	n := uint(capacity/32 + 16)
	return bloom.NewWithEstimates(n, 0.01)
}

// SetPeer wires the callbacks Base needs to cascade a stub's free/
// resolve into the region that owns the redirect target. Called once
// by the Arena facade after both lanes are constructed.
func (b *Base) SetPeer(resolveDirect func(handle.Handle) ([]byte, error), free func(handle.Handle) error) {
	b.peerResolveDirect = resolveDirect
	b.peerFree = free
}

// SetLogger swaps the logger after construction. Arena.New does not
// call it; it passes its logger to the lane constructors instead.
func (b *Base) SetLogger(log *zap.Logger) {
	if log != nil {
		b.log = log
	}
}

func (b *Base) Name() string          { return b.name }
func (b *Base) Tag() handle.Tag       { return b.tag }
func (b *Base) Capacity() int         { return b.capacity }
func (b *Base) op(name string) string { return b.name + "." + name }

func idKey(id int64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(id))
	return buf[:]
}

// Allocate implements spec section 4.1.
func (b *Base) Allocate(size int, priority record.Priority, hints record.Hints, debugName string, frame int64) (handle.Handle, error) {
	if size < 0 {
		return handle.Handle{}, arenaerr.New(arenaerr.KindOutOfCapacity, b.op("allocate"))
	}
	offset, ok := b.findGap(size)
	if !ok {
		return handle.Handle{}, arenaerr.New(arenaerr.KindOutOfCapacity, b.op("allocate"))
	}

	id := b.mintID()
	h := handle.New(id, b.tag)
	rec := &record.Record{
		ID:              id,
		Offset:          offset,
		Size:            size,
		Priority:        priority,
		Hints:           hints,
		DebugName:       debugName,
		AllocationFrame: frame,
		LastAccessFrame: frame,
	}
	b.records[id] = rec
	b.appendOrder(id)
	b.filter.Add(idKey(id))

	return h, nil
}

// CanAllocate implements spec section 4.1: a cheap prediction backed
// by the same first-fit scan Allocate uses, so it never disagrees with
// a subsequent Allocate call absent intervening mutation.
func (b *Base) CanAllocate(size int) bool {
	if size < 0 {
		return false
	}
	_, ok := b.findGap(size)
	return ok
}

// usableCapacity returns the capacity Allocate/CanAllocate may place
// bytes within, excluding any reserved safety margin.
func (b *Base) usableCapacity() int {
	if b.reserved >= b.capacity {
		return 0
	}
	return b.capacity - b.reserved
}

func (b *Base) findGap(size int) (int, bool) {
	bound := b.usableCapacity()
	if size > bound {
		return 0, false
	}
	cursor := 0
	for _, rec := range b.liveSortedByOffset() {
		if rec.Offset-cursor >= size {
			return cursor, true
		}
		if rec.End() > cursor {
			cursor = rec.End()
		}
	}
	if bound-cursor >= size {
		return cursor, true
	}
	return 0, false
}

func (b *Base) liveSortedByOffset() []*record.Record {
	live := make([]*record.Record, 0, len(b.records))
	for _, rec := range b.records {
		if !rec.IsStub {
			live = append(live, rec)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].Offset < live[j].Offset })
	return live
}

func (b *Base) mintID() int64 {
	if n := len(b.freeIDPool); n > 0 {
		id := b.freeIDPool[n-1]
		b.freeIDPool = b.freeIDPool[:n-1]
		return id
	}
	id := b.nextID
	b.nextID += b.direction
	return id
}

func (b *Base) appendOrder(id int64) {
	if len(b.order) == cap(b.order) {
		oldCap := cap(b.order)
		newCap := oldCap * 2
		if newCap == 0 {
			newCap = initialTableCapacity
		}
		grown := make([]int64, len(b.order), newCap)
		copy(grown, b.order)
		b.order = grown
		b.observer.OnRecordTableGrowth(b.name, oldCap, newCap)
		b.log.Debug("record table grown", zap.String("region", b.name), zap.Int("old_capacity", oldCap), zap.Int("new_capacity", newCap))
	}
	b.order = append(b.order, id)
}

func (b *Base) removeFromOrder(id int64) {
	for i, v := range b.order {
		if v == id {
			b.order[i] = 0 // tombstone; ids are never 0
			return
		}
	}
}

// validateOwn reports whether h could possibly be owned by b (tag
// matches and id is nonzero), without consulting the record table.
func (b *Base) validateOwn(h handle.Handle) error {
	if h.Tag != b.tag || h.ID == 0 {
		return arenaerr.New(arenaerr.KindInvalidHandle, b.op("handle"))
	}
	return nil
}

func (b *Base) lookup(h handle.Handle) (*record.Record, error) {
	if err := b.validateOwn(h); err != nil {
		return nil, err
	}
	if b.filter != nil && !b.filter.Test(idKey(h.ID)) {
		return nil, arenaerr.New(arenaerr.KindInvalidHandle, b.op("handle"))
	}
	rec, ok := b.records[h.ID]
	if !ok {
		return nil, arenaerr.New(arenaerr.KindInvalidHandle, b.op("handle"))
	}
	return rec, nil
}

// ResolveDirect returns the live bytes for h without following a
// redirect; it is the callback the Arena facade wires as this
// region's peer, so that a one-hop stub chase never becomes
// transitive (spec section 4.1: "transitive follow is not permitted").
func (b *Base) ResolveDirect(h handle.Handle) ([]byte, error) {
	rec, err := b.lookup(h)
	if err != nil {
		return nil, err
	}
	if rec.IsStub {
		return nil, arenaerr.New(arenaerr.KindDanglingStub, b.op("resolve"))
	}
	return b.buffer[rec.Offset : rec.Offset+rec.Size], nil
}

// Resolve implements spec section 4.1, following at most one redirect
// hop into the peer region.
func (b *Base) Resolve(h handle.Handle) ([]byte, error) {
	rec, err := b.lookup(h)
	if err != nil {
		return nil, err
	}
	if !rec.IsStub {
		return b.buffer[rec.Offset : rec.Offset+rec.Size], nil
	}
	if b.peerResolveDirect == nil {
		return nil, arenaerr.New(arenaerr.KindDanglingStub, b.op("resolve"))
	}
	bytes, err := b.peerResolveDirect(rec.RedirectTo)
	if err != nil {
		return nil, arenaerr.Wrap(arenaerr.KindDanglingStub, b.op("resolve"), err)
	}
	return bytes, nil
}

// Free implements spec section 4.1, cascading into the peer region
// when the record being freed is a stub.
func (b *Base) Free(h handle.Handle) error {
	rec, err := b.lookup(h)
	if err != nil {
		return err
	}

	delete(b.records, h.ID)
	b.removeFromOrder(h.ID)
	b.freeIDPool = append(b.freeIDPool, h.ID)

	if rec.IsStub && b.peerFree != nil {
		if err := b.peerFree(rec.RedirectTo); err != nil {
			return arenaerr.Wrap(arenaerr.KindInvalidHandle, b.op("free"), err)
		}
	}
	return nil
}

// FreeMany implements spec section 4.1: frees in order, stopping (and
// preserving prior frees) at the first failure.
func (b *Base) FreeMany(hs []handle.Handle) error {
	for i, h := range hs {
		if err := b.Free(h); err != nil {
			return &arenaerr.BatchError{Succeeded: i, Err: err}
		}
	}
	return nil
}

// ReplaceWithStub turns a live record into a stub redirecting to
// target, per spec section 4.2. It is not part of the generic Region
// contract; it lives on Base, so both FastLane and SlowLane expose it
// through embedding, though only FastLane records are stubbed by the
// OneWayLane.
func (b *Base) ReplaceWithStub(h handle.Handle, target handle.Handle) error {
	rec, err := b.lookup(h)
	if err != nil {
		return err
	}
	if rec.IsStub {
		return arenaerr.New(arenaerr.KindInvalidHandle, b.op("replace_with_stub"))
	}
	rec.IsStub = true
	rec.Size = 0
	rec.RedirectTo = target
	return nil
}

// HasHandle, GetRecord, AllocationSize are plain local accessors; they
// never chase a stub's redirect.
func (b *Base) HasHandle(h handle.Handle) bool {
	_, err := b.lookup(h)
	return err == nil
}

func (b *Base) GetRecord(h handle.Handle) (record.Record, error) {
	rec, err := b.lookup(h)
	if err != nil {
		return record.Record{}, err
	}
	return *rec, nil
}

func (b *Base) AllocationSize(h handle.Handle) (int, error) {
	rec, err := b.lookup(h)
	if err != nil {
		return 0, err
	}
	return rec.Size, nil
}

// LiveRecords returns a snapshot copy of every live (non-stub) record,
// for callers (FastLane's Compact) that need to scan records without
// reaching into Base's internals.
func (b *Base) LiveRecords() []record.Record {
	out := make([]record.Record, 0, len(b.records))
	for _, rec := range b.records {
		if !rec.IsStub {
			out = append(out, *rec)
		}
	}
	return out
}

// usedBytes sums the size of every live (non-stub) record.
func (b *Base) usedBytes() int {
	used := 0
	for _, rec := range b.records {
		if !rec.IsStub {
			used += rec.Size
		}
	}
	return used
}

func (b *Base) UsageRatio() float64 {
	if b.capacity == 0 {
		return 0
	}
	return float64(b.usedBytes()) / float64(b.capacity)
}

func (b *Base) FreeSpace() int {
	return b.capacity - b.usedBytes()
}

func (b *Base) StubCount() int {
	n := 0
	for _, rec := range b.records {
		if rec.IsStub {
			n++
		}
	}
	return n
}

// EstimatedFragmentationPercent mirrors the teacher's buddy-allocator
// convention (kernel/threads/arena/buddy.go GetStats): fragmentation is
// how much of the free space is broken into more than one run.
func (b *Base) EstimatedFragmentationPercent() float64 {
	free := b.FreeSpace()
	if free <= 0 {
		return 0
	}
	gaps := b.countGaps()
	if gaps <= 1 {
		return 0
	}
	return float64(gaps-1) / float64(gaps) * 100
}

func (b *Base) countGaps() int {
	bound := b.capacity
	cursor := 0
	gaps := 0
	for _, rec := range b.liveSortedByOffset() {
		if rec.Offset > cursor {
			gaps++
		}
		if rec.End() > cursor {
			cursor = rec.End()
		}
	}
	if bound > cursor {
		gaps++
	}
	return gaps
}

// Compact implements the generic prefix-compaction pass shared by both
// lanes (spec section 4.1, step list). FastLane additionally migrates
// eligible entries to SlowLane *before* calling this method; this
// method itself never migrates, so it is safe for SlowLane to use
// unmodified (spec section 4.3).
func (b *Base) Compact() {
	live := b.liveSortedByOffset()

	newBuffer := make([]byte, b.capacity)
	cursor := 0
	for _, rec := range live {
		copy(newBuffer[cursor:cursor+rec.Size], b.buffer[rec.Offset:rec.Offset+rec.Size])
		rec.Offset = cursor
		cursor += rec.Size
	}
	b.buffer = newBuffer

	b.rebuildFilter()

	b.observer.OnCompaction(b.name)
	b.log.Info("region compacted", zap.String("region", b.name), zap.Int("live_records", len(live)), zap.Int("used_bytes", cursor))
}

func (b *Base) rebuildFilter() {
	b.filter = newFilter(b.capacity)
	for id := range b.records {
		b.filter.Add(idKey(id))
	}
}

// DebugDump renders a human-readable summary, consumed directly by
// Arena.DebugDump and, brotli-compressed, by Arena.DumpCompressed.
func (b *Base) DebugDump() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s capacity=%d used=%d reserved=%d stubs=%d records=%d\n",
		b.name, b.capacity, b.usedBytes(), b.reserved, b.StubCount(), len(b.records))
	for _, id := range b.order {
		if id == 0 {
			continue
		}
		rec := b.records[id]
		if rec == nil {
			continue
		}
		fmt.Fprintf(&sb, "  id=%d offset=%d size=%d", rec.ID, rec.Offset, rec.Size)
		if rec.IsStub {
			fmt.Fprintf(&sb, " stub->%s", rec.RedirectTo)
		}
		if rec.DebugName != "" {
			fmt.Fprintf(&sb, " name=%s", rec.DebugName)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Release drops the buffer and record table, implementing the
// Region-level half of Arena.Close (spec section 5 "Dispose/teardown").
// Subsequent lookups fail with InvalidHandle rather than panicking.
func (b *Base) Release() {
	b.buffer = nil
	b.records = make(map[int64]*record.Record)
	b.order = b.order[:0]
	b.filter = newFilter(0)
}

// VisualMap renders an ASCII bar of the buffer: '#' for live bytes,
// '.' for free space. Stubs hold no bytes and are not drawn.
func (b *Base) VisualMap() string {
	const width = 64
	if b.capacity == 0 {
		return ""
	}
	marks := make([]byte, width)
	for i := range marks {
		marks[i] = '.'
	}
	for _, rec := range b.liveSortedByOffset() {
		start := rec.Offset * width / b.capacity
		end := (rec.End()) * width / b.capacity
		if end <= start {
			end = start + 1
		}
		for i := start; i < end && i < width; i++ {
			marks[i] = '#'
		}
	}
	return string(marks)
}


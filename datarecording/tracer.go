package datarecording

import (
	"github.com/sarchlab/membus/mem"
	"github.com/sarchlab/membus/mem/bus"
	"github.com/sarchlab/membus/mem/trafficgen"
	"github.com/sarchlab/membus/sim"
)

// TransferEntry is a packet that a bus accepted or refused.
type TransferEntry struct {
	ID     string
	Bus    string
	Kind   string
	Cmd    string
	Addr   uint64
	Size   int
	Src    int
	Dest   int
	Tick   int64
	Start  int64
	Header int64
	Finish int64
	Reason string
}

// Kinds of TransferEntry.
const (
	KindTransfer = "transfer"
	KindRefuse   = "refuse"
)

// TransferTracer is a hook that records the activity of buses into a table.
type TransferTracer struct {
	recorder DataRecorder
	table    string
}

// NewTransferTracer creates the table and returns a tracer that writes into
// it.
func NewTransferTracer(recorder DataRecorder, table string) *TransferTracer {
	recorder.CreateTable(table, TransferEntry{})

	return &TransferTracer{
		recorder: recorder,
		table:    table,
	}
}

// Func records a transfer or a refusal.
func (t *TransferTracer) Func(ctx sim.HookCtx) {
	var kind string

	switch ctx.Pos {
	case bus.HookPosTransfer:
		kind = KindTransfer
	case bus.HookPosRefuse:
		kind = KindRefuse
	default:
		return
	}

	pkt := ctx.Item.(*mem.Packet)
	detail := ctx.Detail.(bus.Transfer)

	t.recorder.InsertData(t.table, TransferEntry{
		ID:     pkt.ID,
		Bus:    nameOf(ctx.Domain),
		Kind:   kind,
		Cmd:    pkt.Cmd.String(),
		Addr:   uint64(pkt.Addr()),
		Size:   pkt.Size(),
		Src:    int(detail.Src),
		Dest:   int(detail.Dest),
		Tick:   int64(ctx.Now),
		Start:  int64(detail.Start),
		Header: int64(detail.HeaderTime),
		Finish: int64(detail.Finish),
		Reason: detail.Reason,
	})
}

// CompletionEntry is an access that a traffic generator completed.
type CompletionEntry struct {
	ID      string
	Gen     string
	Cmd     string
	Addr    uint64
	Size    int
	Issued  int64
	Done    int64
	Latency int64
	OK      bool
}

// CompletionTracer is a hook that records the completed accesses of traffic
// generators.
type CompletionTracer struct {
	recorder DataRecorder
	table    string
}

// NewCompletionTracer creates the table and returns a tracer that writes
// into it.
func NewCompletionTracer(
	recorder DataRecorder,
	table string,
) *CompletionTracer {
	recorder.CreateTable(table, CompletionEntry{})

	return &CompletionTracer{
		recorder: recorder,
		table:    table,
	}
}

// Func records a completion.
func (t *CompletionTracer) Func(ctx sim.HookCtx) {
	if ctx.Pos != trafficgen.HookPosReqComplete {
		return
	}

	pkt := ctx.Item.(*mem.Packet)
	c := ctx.Detail.(trafficgen.Completion)

	t.recorder.InsertData(t.table, CompletionEntry{
		ID:      pkt.ID,
		Gen:     nameOf(ctx.Domain),
		Cmd:     pkt.Cmd.String(),
		Addr:    uint64(pkt.Addr()),
		Size:    pkt.Size(),
		Issued:  int64(c.Issued),
		Done:    int64(ctx.Now),
		Latency: int64(c.Latency),
		OK:      c.OK,
	})
}

func nameOf(domain sim.Hookable) string {
	if named, ok := domain.(sim.Named); ok {
		return named.Name()
	}

	return ""
}

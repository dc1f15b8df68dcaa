// Package coordinator implements the transaction coordinator (spec.md
// §4.F): the three LAB-27/28/29 operations, each archiving the inbound
// message, converting it, calling the upstream adapter, converting the
// reply, and collapsing every error path to a protocol-appropriate
// negative reply. HandleConnection wires the coordinator to one live
// analyzer TCP connection via the dispatcher and link engine.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/kstaniek/sysmex-astm-bridge/internal/archive"
	"github.com/kstaniek/sysmex-astm-bridge/internal/astm/link"
	"github.com/kstaniek/sysmex-astm-bridge/internal/astm/record"
	"github.com/kstaniek/sysmex-astm-bridge/internal/dispatch"
	"github.com/kstaniek/sysmex-astm-bridge/internal/hl7translate"
	"github.com/kstaniek/sysmex-astm-bridge/internal/logging"
	"github.com/kstaniek/sysmex-astm-bridge/internal/mapping"
	"github.com/kstaniek/sysmex-astm-bridge/internal/metrics"
)

// ErrOrderQueueFull is returned by EnqueueOrder when a LAB-28 order is
// already pending delivery to the analyzer.
var ErrOrderQueueFull = errors.New("coordinator: order queue full")

// Poster is the upstream HL7 adapter dependency (internal/upstream.Client
// satisfies it); narrowed to an interface so tests can stub it.
type Poster interface {
	Send(ctx context.Context, url string, hl7 []byte) ([]byte, error)
}

// nowFn and controlIDFn are test seams, mirroring the teacher's
// sleepFn-style hooks: unit tests substitute them for deterministic MSH
// timestamps and control IDs.
var (
	nowFn       = time.Now
	controlIDFn = func() string { return fmt.Sprintf("MSG%d", nowFn().UnixMilli()) }
)

// Coordinator ties the mapping table, translator, archiver and upstream
// client together behind the three operations spec.md §4.F names.
type Coordinator struct {
	AnalyzerID string
	Archiver   *archive.Archiver
	Upstream   Poster
	Mapping    *mapping.Table
	Endpoints  hl7translate.Endpoints
	URLLAB27   string
	URLLAB29   string
	Logger     *slog.Logger

	// Timeouts bounds every link-layer establishment/frame-ack wait
	// HandleConnection and LAB28 perform on conn.
	Timeouts link.Timeouts

	// Orders carries LAB-28 HL7 OML^O33 jobs pushed by the LIS, delivered
	// to the analyzer between completed receive cycles (the link is
	// half-duplex; see spec.md §5 Reentrancy). Each job's reply channel
	// carries the resulting ACK^R22 back to whatever called EnqueueOrder.
	Orders chan orderJob
}

// orderJob is one pending LAB-28 delivery: the inbound HL7 OML^O33 payload
// plus a reply channel the submitter blocks on for the ACK^R22 that results
// from actually driving the order down to the analyzer.
type orderJob struct {
	hl7   []byte
	reply chan string
}

// New returns a Coordinator with its order queue and default link timeouts
// initialized.
func New() *Coordinator {
	return &Coordinator{Orders: make(chan orderJob, 1), Timeouts: link.DefaultTimeouts()}
}

func (c *Coordinator) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logging.L()
}

func (c *Coordinator) archiveMessage(payload []byte, kind archive.Kind, dir archive.Direction, label string) {
	if c.Archiver == nil {
		return
	}
	if _, err := c.Archiver.Save(archive.Message{
		AnalyzerID: c.AnalyzerID,
		Kind:       kind,
		Payload:    payload,
		Label:      label,
		Direction:  dir,
		Timestamp:  nowFn(),
	}); err != nil {
		metrics.IncError(metrics.ErrArchive)
		c.logger().Warn("archive_failed", "error", err, "label", label)
	}
}

func (c *Coordinator) timestamp() string { return nowFn().UTC().Format("20060102150405") }

// EnqueueOrder is the production entry point for spec.md's "lab28"
// operation: it queues hl7OML for delivery to the analyzer on its next idle
// turn (HandleConnection drains Orders between completed receive cycles,
// since the link is half-duplex) and blocks until that delivery has
// happened and produced an ACK^R22, or until ctx ends first. LAB28Handler
// calls this to turn an inbound HTTP request into a synchronous reply.
func (c *Coordinator) EnqueueOrder(ctx context.Context, hl7OML []byte) (string, error) {
	job := orderJob{hl7: hl7OML, reply: make(chan string, 1)}
	select {
	case c.Orders <- job:
	default:
		return "", ErrOrderQueueFull
	}
	select {
	case ack := <-job.reply:
		return ack, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// LAB29 converts an inbound ASTM result message to HL7, posts it upstream,
// and returns the ASTM-side terminator reply, per spec.md §4.E/§4.F.
func (c *Coordinator) LAB29(ctx context.Context, rawASTM string) string {
	c.archiveMessage([]byte(rawASTM), archive.KindASTM, archive.DirectionIn, "LAB-29")
	recs := record.ParseMessage(rawASTM)

	sid := hl7translate.SpecimenIDFromASTM(recs)
	if hl7translate.IsBackgroundCheck(sid) {
		metrics.IncBackgroundCheck()
		return "L|1|Y"
	}

	hl7 := hl7translate.BuildOULR22(recs, c.Mapping, c.Endpoints, c.timestamp(), controlIDFn())
	metrics.IncLAB29()
	reply, err := c.Upstream.Send(ctx, c.URLLAB29, []byte(hl7))
	if err != nil {
		metrics.IncError(metrics.ErrUpstreamSend)
		c.logger().Error("lab29_upstream_error", "error", err)
		return "L|1|N"
	}
	metrics.IncHL7Upstream()
	return hl7translate.ParseUpstreamACK(reply)
}

// LAB27 converts an inbound ASTM worklist query to HL7, posts it upstream,
// and returns the ASTM-side H/P/O/L reply block. ok is false whenever
// spec.md §7's UpstreamNonHL7 rule applies: "for LAB-27 return null/no
// reply" — the caller must not send anything back in that case.
func (c *Coordinator) LAB27(ctx context.Context, rawASTM string) (replyRecords []string, ok bool) {
	c.archiveMessage([]byte(rawASTM), archive.KindASTM, archive.DirectionIn, "LAB-27")
	recs := record.ParseMessage(rawASTM)

	hl7, built := hl7translate.BuildQBPQ11(recs, c.Endpoints, c.timestamp(), controlIDFn())
	if !built {
		return nil, false
	}
	metrics.IncLAB27()
	reply, err := c.Upstream.Send(ctx, c.URLLAB27, []byte(hl7))
	if err != nil {
		metrics.IncError(metrics.ErrUpstreamSend)
		c.logger().Error("lab27_upstream_error", "error", err)
		return nil, false
	}
	metrics.IncHL7Upstream()
	if !strings.HasPrefix(string(reply), "MSH|") {
		return nil, false
	}
	sid, found := hl7translate.ParseRSPK11SpecimenID(reply)
	if !found {
		return nil, false
	}
	return hl7translate.BuildASTMOrderBlock(sid), true
}

// LAB28 pushes an HL7 order down to the analyzer over conn and returns the
// ACK^R22 to reply to the LIS with, per spec.md §4.E/§4.F.
func (c *Coordinator) LAB28(conn link.Conn, hl7OML []byte) string {
	c.archiveMessage(hl7OML, archive.KindHL7, archive.DirectionIn, "LAB-28")
	sid, _ := hl7translate.SpecimenIDFromOML(hl7OML)
	recs := hl7translate.BuildASTMOrderBlock(sid)

	metrics.IncLAB28()
	err := link.SendMessage(conn, recs, c.Timeouts)
	success := err == nil
	if err != nil {
		metrics.IncError(metrics.ErrAnalyzerWrite)
		c.logger().Error("lab28_send_error", "error", err)
	}
	return hl7translate.BuildACKR22(hl7OML, success, c.Endpoints, c.timestamp(), controlIDFn())
}

// HandleConnection is the per-analyzer-connection loop: receive one ASTM
// message, dispatch it to LAB-27 or LAB-29, send the reply synchronously
// on the same connection (spec.md §5 Reentrancy), then opportunistically
// deliver one pending LAB-28 order before waiting for the next message.
func (c *Coordinator) HandleConnection(ctx context.Context, conn net.Conn) {
	logger := c.logger()
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := link.ReceiveMessage(conn, c.Timeouts)
		if err != nil {
			return // connection ended; supervisor tears it down
		}
		metrics.IncASTMRx()

		switch dispatch.Classify(msg) {
		case dispatch.RouteLAB29:
			reply := c.LAB29(ctx, msg)
			if err := link.SendMessage(conn, []string{reply}, c.Timeouts); err != nil {
				metrics.IncError(metrics.ErrAnalyzerWrite)
				logger.Warn("lab29_reply_send_failed", "error", err)
			}
		case dispatch.RouteLAB27:
			if recs, ok := c.LAB27(ctx, msg); ok {
				if err := link.SendMessage(conn, recs, c.Timeouts); err != nil {
					metrics.IncError(metrics.ErrAnalyzerWrite)
					logger.Warn("lab27_reply_send_failed", "error", err)
				}
			}
		default:
			logger.Debug("message_ignored", "reason", "no Q or H record")
		}

		select {
		case job := <-c.Orders:
			ack := c.LAB28(conn, job.hl7)
			select {
			case job.reply <- ack:
			default:
			}
		default:
		}
	}
}

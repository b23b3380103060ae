package main

import (
	"github.com/prometheus/client_golang/prometheus"

	"rollback.gg/internal/persistence/indexdb"
	"rollback.gg/internal/sim/runtime"
	"rollback.gg/internal/transport/ws"
)

// collector reads the atomically published runtime counters at scrape time,
// so the tick loop never touches the registry.
type collector struct {
	worldID string
	srv     *runtime.Server
	ws      *ws.Server
	idx     *indexdb.SQLiteIndex

	frame       *prometheus.Desc
	clients     *prometheus.Desc
	ticks       *prometheus.Desc
	corrections *prometheus.Desc
	resimulated *prometheus.Desc
	inputs      *prometheus.Desc
	dropped     *prometheus.Desc
	syncs       *prometheus.Desc
	snapshots   *prometheus.Desc
	conns       *prometheus.Desc
	queueDepth  *prometheus.Desc
}

func newCollector(worldID string, srv *runtime.Server, wsSrv *ws.Server, idx *indexdb.SQLiteIndex) *collector {
	labels := prometheus.Labels{"world": worldID}
	desc := func(name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("rollback", "", name), help, variable, labels)
	}
	return &collector{
		worldID:     worldID,
		srv:         srv,
		ws:          wsSrv,
		idx:         idx,
		frame:       desc("server_frame", "Frame the next server tick will simulate."),
		clients:     desc("server_clients", "Currently logged-in players."),
		ticks:       desc("engine_ticks_total", "Engine ticks by kind.", "kind"),
		corrections: desc("engine_dropped_corrections_total", "Corrections dropped as stale.", "type"),
		resimulated: desc("engine_resimulated_frames_total", "Frames re-stepped by rollbacks and resyncs."),
		inputs:      desc("engine_inputs_total", "Remote inputs that were staged or dropped.", "result"),
		dropped:     desc("server_refused_inputs_total", "Inputs refused for being too far ahead."),
		syncs:       desc("server_syncs_sent_total", "Periodic GAME_SYNC broadcasts."),
		snapshots:   desc("server_snapshots_total", "Snapshots handed to the writer."),
		conns:       desc("ws_events_total", "Websocket transport events.", "event"),
		queueDepth:  desc("index_queue_depth", "Index writer backlog."),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.frame, c.clients, c.ticks, c.corrections, c.resimulated, c.inputs,
		c.dropped, c.syncs, c.snapshots, c.conns, c.queueDepth,
	} {
		ch <- d
	}
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	st := c.srv.Stats()
	e := st.Engine
	gauge := func(d *prometheus.Desc, v float64, lv ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, lv...)
	}
	counter := func(d *prometheus.Desc, v uint64, lv ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), lv...)
	}

	gauge(c.frame, float64(st.Frame))
	gauge(c.clients, float64(st.Clients))
	counter(c.ticks, e.PlainTicks, "plain")
	counter(c.ticks, e.Rollbacks, "rollback")
	counter(c.ticks, e.Resyncs, "resync")
	counter(c.ticks, e.RollForwards, "roll_forward")
	counter(c.corrections, e.StaleRollbacks, "rollback")
	counter(c.corrections, e.StaleSnapshots, "snapshot")
	counter(c.resimulated, e.Resimulated)
	counter(c.inputs, e.StagedInputs, "staged")
	counter(c.inputs, e.StaleInputs, "stale")
	counter(c.dropped, st.RefusedInputs)
	counter(c.syncs, st.SyncsSent)
	counter(c.snapshots, st.Snapshots)

	if c.ws != nil {
		ws := c.ws.Stats()
		counter(c.conns, ws.Connections, "connected")
		counter(c.conns, ws.Rejected, "rejected")
		counter(c.conns, ws.BadFrames, "bad_frame")
		counter(c.conns, ws.RateLimited, "rate_limited")
	}
	if c.idx != nil {
		gauge(c.queueDepth, float64(c.idx.Stats().QueueDepth))
	}
}

var _ prometheus.Collector = (*collector)(nil)

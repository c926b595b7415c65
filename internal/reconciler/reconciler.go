// Package reconciler owns the reconciler task: the single goroutine that
// consumes the config watcher's ConfigUpdate stream in strict FIFO order,
// builds upstream resolvers via the resolver factory, and mutates the
// routing catalog. Filenames are its stable identity; domain names are the
// catalog's, so renaming a zone in-place is a remove of the old name
// followed by an insert of the new one.
package reconciler

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"github.com/polyresolver/polyresolver/internal/catalog"
	"github.com/polyresolver/polyresolver/internal/dnsname"
	"github.com/polyresolver/polyresolver/internal/metrics"
	"github.com/polyresolver/polyresolver/internal/upstream"
	"github.com/polyresolver/polyresolver/internal/zoneconfig"
)

// historyCapacity bounds the reload-event ring surfaced at the admin
// /api/v1/events backlog; it is an operational event log, not a DNS
// response cache, so it does not reintroduce Non-goal "no response caching".
const historyCapacity = 200

// Event records one catalog mutation applied by the reconciler, for the
// admin HTTP event feed (GET /api/v1/events) and its connect-time backlog.
type Event struct {
	Seq        int64     `json:"seq"`
	Type       string    `json:"type"` // "upsert" or "remove"
	Filename   string    `json:"filename"`
	DomainName string    `json:"domain_name"`
	Time       time.Time `json:"time"`
}

// BuildFunc constructs an upstream resolver from a Config. Exposed so tests
// can substitute a stub factory; a nil BuildFunc passed to New falls back to
// upstream.BuildResolver.
type BuildFunc func(cfg *zoneconfig.Config) (catalog.Resolver, error)

// Reconciler owns ReconcilerState exclusively and drives catalog mutations
// in response to ConfigUpdate events.
type Reconciler struct {
	catalog *catalog.Catalog
	build   BuildFunc
	log     zerolog.Logger

	// state maps config filename to the Config currently installed from it.
	// Never observed outside Run's single goroutine.
	state map[string]*zoneconfig.Config

	reloads int

	history *lru.LRU[int64, Event]
	seq     atomic.Int64
	notify  func(Event)
}

// New returns a Reconciler that mutates cat using build to construct
// resolvers from upserted Configs.
func New(cat *catalog.Catalog, build BuildFunc, log zerolog.Logger) *Reconciler {
	if build == nil {
		build = func(cfg *zoneconfig.Config) (catalog.Resolver, error) {
			return upstream.BuildResolver(cfg)
		}
	}

	return &Reconciler{
		catalog: cat,
		build:   build,
		log:     log,
		state:   make(map[string]*zoneconfig.Config),
		history: lru.NewLRU[int64, Event](historyCapacity, nil, 0),
	}
}

// SetNotifier registers fn to be called synchronously after every applied
// upsert/remove, in addition to the event being appended to History. Used
// by internal/adminhttp to fan the event out over its WebSocket feed.
func (r *Reconciler) SetNotifier(fn func(Event)) {
	r.notify = fn
}

// History returns the bounded ring of recent catalog mutations, oldest
// first, for the admin event feed's connect-time backlog.
func (r *Reconciler) History() []Event {
	keys := r.history.Keys()
	out := make([]Event, 0, len(keys))

	for _, k := range keys {
		if ev, ok := r.history.Peek(k); ok {
			out = append(out, ev)
		}
	}

	return out
}

func (r *Reconciler) record(eventType, filename, domainName string) {
	ev := Event{
		Seq:        r.seq.Add(1),
		Type:       eventType,
		Filename:   filename,
		DomainName: domainName,
		Time:       time.Now(),
	}

	r.history.Add(ev.Seq, ev)

	if r.notify != nil {
		r.notify(ev)
	}
}

// Run consumes updates from in until the channel is closed or ctx is
// cancelled, applying each in the order received. It drains at most one more
// queued event after cancellation is observed, rather than dropping an
// update already in flight when the context is cancelled.
func (r *Reconciler) Run(ctx context.Context, in <-chan zoneconfig.ConfigUpdate) {
	for {
		select {
		case update, ok := <-in:
			if !ok {
				return
			}

			r.apply(update)

		case <-ctx.Done():
			select {
			case update, ok := <-in:
				if ok {
					r.apply(update)
				}
			default:
			}

			return
		}
	}
}

func (r *Reconciler) apply(update zoneconfig.ConfigUpdate) {
	if update.Config == nil {
		r.applyRemove(update.ConfigFilename)

		return
	}

	r.applyUpsert(update.ConfigFilename, update.Config)
}

func (r *Reconciler) applyUpsert(filename string, cfg *zoneconfig.Config) {
	forwarder, err := r.build(cfg)
	if err != nil {
		r.log.Warn().Err(err).Str("file", filename).Msg("skipping config: resolver factory failed")

		return
	}

	if old, ok := r.state[filename]; ok && !old.DomainName.Equal(cfg.DomainName) {
		r.catalog.Remove(old.DomainName)
	}

	r.state[filename] = cfg
	r.reloads++

	addrs := make([]string, 0, len(cfg.Forwarders))
	for _, ip := range cfg.Forwarders {
		addrs = append(addrs, ip.String())
	}

	r.catalog.Upsert(cfg.DomainName, &catalog.Forwarder{
		Origin:        cfg.DomainName,
		Resolver:      forwarder,
		UpstreamAddrs: addrs,
		Protocol:      string(cfg.Protocol),
	})
	r.record("upsert", filename, cfg.DomainName.String())
	r.bumpMetrics()
}

func (r *Reconciler) applyRemove(filename string) {
	old, ok := r.state[filename]
	if !ok {
		return
	}

	delete(r.state, filename)
	r.catalog.Remove(old.DomainName)
	r.reloads++
	r.record("remove", filename, old.DomainName.String())
	r.bumpMetrics()
}

func (r *Reconciler) bumpMetrics() {
	if metrics.M.ConfigReloads != nil {
		metrics.M.ConfigReloads.Inc()
	}

	if metrics.M.CatalogSize != nil {
		metrics.M.CatalogSize.Set(float64(r.catalog.Len()))
	}
}

// Reloads reports the number of upsert/remove operations applied: the same
// operations counted by the dns_config_reload_total metric in bumpMetrics.
func (r *Reconciler) Reloads() int {
	return r.reloads
}

// stateDomains is a test-only helper exposing the currently installed
// domain names, so tests can assert the one-entry-per-live-config
// invariant without reaching into unexported state directly.
func (r *Reconciler) stateDomains() []dnsname.Name {
	out := make([]dnsname.Name, 0, len(r.state))
	for _, cfg := range r.state {
		out = append(out, cfg.DomainName)
	}

	return out
}

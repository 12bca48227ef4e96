package cli

import (
	"cmp"
	"errors"
	"io"
	"slices"

	"github.com/openslides/vmrepo"
	"github.com/openslides/vmrepo/contrib/motions"
	"github.com/openslides/vmrepo/internal/config"
	"github.com/openslides/vmrepo/pkg/autoupdate"
	"github.com/openslides/vmrepo/pkg/datastore"
	"github.com/openslides/vmrepo/pkg/logger"
	"github.com/openslides/vmrepo/pkg/sortlist"
	"github.com/openslides/vmrepo/pkg/storage"
	"github.com/openslides/vmrepo/pkg/storage/sqlite"
)

// app wires the data store, repositories and sort service of one command run.
type app struct {
	cfg       config.Config
	log       logger.Logger
	closeLog  func() error
	ds        *datastore.Store
	collector *vmrepo.Collector
	repos     *motions.Repositories
	store     storage.Store
	closeDB   func() error
	sort      *sortlist.Service[*motions.ViewMotion]
}

func newApp(cfg config.Config, logOut io.Writer) (*app, error) {
	log, closeLog, err := cfg.NewLogger(logOut)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, closeLog: closeLog, closeDB: func() error { return nil }}
	if cfg.StoragePath == "" {
		a.store = storage.NewMemory()
	} else {
		db, err := sqlite.Open(cfg.StoragePath)
		if err != nil {
			closeLog()
			return nil, err
		}
		a.store = db
		a.closeDB = db.Close
	}

	a.ds = datastore.New(datastore.WithLogger(log))
	a.collector = vmrepo.NewCollector(a.ds, vmrepo.WithLogger(log), vmrepo.WithLanguage(cfg.Language))
	a.repos = motions.Register(a.collector)
	a.sort = motions.NewSortListService(a.repos.Motions, motions.SortConfig{Store: a.store, Logger: log})
	return a, nil
}

// subscriptions requests the fieldsets of the configured collections.
func (a *app) subscriptions() []autoupdate.Subscription {
	var subs []autoupdate.Subscription
	for collection, fs := range a.collector.Fieldsets() {
		if !slices.Contains(a.cfg.Collections, collection) {
			continue
		}
		fields := slices.Clone(fs.Detail)
		for _, f := range fs.Routing {
			if !slices.Contains(fields, f) {
				fields = append(fields, f)
			}
		}
		subs = append(subs, autoupdate.Subscription{Collection: collection, Fields: fields})
	}
	slices.SortFunc(subs, func(x, y autoupdate.Subscription) int {
		return cmp.Compare(x.Collection, y.Collection)
	})
	return subs
}

func (a *app) Close() error {
	a.sort.Close()
	a.collector.Close()
	return errors.Join(a.closeDB(), a.closeLog())
}

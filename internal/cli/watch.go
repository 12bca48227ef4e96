package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/openslides/vmrepo/contrib/motions"
	"github.com/openslides/vmrepo/pkg/autoupdate"
	"github.com/openslides/vmrepo/pkg/observable"
	"github.com/openslides/vmrepo/pkg/sortlist"
)

// renderAuditTime folds bursts of list updates into one rendering.
const renderAuditTime = 50 * time.Millisecond

var errDone = errors.New("done")

func watchCmd(opts *options, logOut io.Writer) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream the sorted motion list",
		Long: `Connect to the autoupdate service and print the motion list every time
its order or content changes, sorted by the persisted sort setting.

Examples:
  vmrepo watch --url ws://localhost:9012/system/autoupdate
  vmrepo watch --once --storage ~/.vmrepo/settings.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(cfg, logOut)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.sort.InitSorting(ctx); err != nil {
				return err
			}
			client, err := autoupdate.NewClient(a.ds, autoupdate.Config{
				URL:               cfg.URL,
				Subscriptions:     a.subscriptions(),
				ReconnectInterval: cfg.ReconnectInterval,
				RequestTimeout:    cfg.RequestTimeout,
				Logger:            a.log,
			})
			if err != nil {
				return err
			}
			if err := client.Connect(ctx); err != nil {
				return err
			}
			return watch(ctx, a, client, cmd.OutOrStdout(), once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "print the first non-empty list and exit")
	return cmd
}

// latest keeps only the most recent list for the render loop.
type latest struct {
	mu     sync.Mutex
	list   []*motions.ViewMotion
	notify chan struct{}
}

func (l *latest) set(list []*motions.ViewMotion) {
	l.mu.Lock()
	l.list = list
	l.mu.Unlock()
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *latest) get() []*motions.ViewMotion {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.list
}

func watch(ctx context.Context, a *app, client *autoupdate.Client, out io.Writer, once bool) error {
	g, ctx := errgroup.WithContext(ctx)

	l := &latest{notify: make(chan struct{}, 1)}
	sub := observable.Audit(a.repos.Motions.SortedViewModelListObservable(), renderAuditTime).Subscribe(l.set)
	defer sub.Unsubscribe()

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-l.notify:
			}
			list := l.get()
			if once && len(list) == 0 {
				continue
			}
			renderList(out, list, a.sort)
			if once {
				return errDone
			}
		}
	})
	g.Go(func() error {
		<-ctx.Done()
		closeCtx, cancel := context.WithTimeout(context.Background(), a.cfg.RequestTimeout)
		defer cancel()
		return client.Close(closeCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errDone) {
		return err
	}
	return nil
}

func renderList(out io.Writer, list []*motions.ViewMotion, svc *sortlist.Service[*motions.ViewMotion]) {
	direction := "ascending"
	if !svc.Ascending() {
		direction = "descending"
	}
	color.New(color.Bold).Fprintf(out, "%d motions sorted by %s, %s\n", len(list), svc.SortProperty(), direction)

	number := color.New(color.FgCyan)
	for i, m := range list {
		state := ""
		if s, ok := m.State(); ok {
			state = stateColor(s).Sprint(s.Name())
		}
		fmt.Fprintf(out, "%3d  %s  %s  %s\n", i+1, number.Sprintf("%-6s", m.Number()), m.RawTitle(), state)
	}
}

func stateColor(s *motions.ViewState) *color.Color {
	if s.IsFinal() {
		return color.New(color.FgGreen)
	}
	return color.New(color.FgYellow)
}

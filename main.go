package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"txsim-server/packages/client"
	"txsim-server/packages/common"
	"txsim-server/packages/execution"
	"txsim-server/packages/report"
	"txsim-server/packages/server"
	"txsim-server/packages/simulator"
	"txsim-server/packages/store"

	"github.com/Code-Hex/dd"
	"github.com/alecthomas/kong"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type app struct {
	cfg *common.Config
	log *zap.Logger
}

func (a *app) openStore() (store.Store, error) {
	cat, err := store.DefaultCatalog()
	if err != nil {
		return nil, err
	}
	return store.Open(a.cfg.Store, cat)
}

func (a *app) simulator(lookup simulator.Lookup) *simulator.Simulator {
	return simulator.New(lookup, a.log, simulator.WithTimeScale(a.cfg.Stream.TimeScale))
}

// backend is the part of the API the read-only commands share, served
// either by a local store or by a remote server.
type backend interface {
	List(ctx context.Context) ([]store.TransactionRecord, error)
	Get(ctx context.Context, id int) (*store.TestCaseDetail, error)
	Report(ctx context.Context, id int) (*report.Report, error)
}

type localBackend struct {
	store.Store
}

func (l localBackend) Report(ctx context.Context, id int) (*report.Report, error) {
	detail, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return report.Build(detail, time.Now()), nil
}

// backend returns the remote client when remote is set, otherwise a local
// store. The returned func releases it.
func (a *app) backend(remote string) (backend, func(), error) {
	if remote != "" {
		return client.New(remote, nil, a.log), func() {}, nil
	}
	st, err := a.openStore()
	if err != nil {
		return nil, nil, err
	}
	return localBackend{st}, func() { st.Close() }, nil
}

type ServeCmd struct {
	Port string `help:"Port to listen on. Overrides PORT and the config file."`
}

func (s *ServeCmd) Run(a *app) error {
	port := a.cfg.Port
	if s.Port != "" {
		port = s.Port
	}

	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := server.NewHandler(a.log, st, a.simulator(st))
	return server.RunServer(ctx, ":"+port, h, a.log)
}

type RunCmd struct {
	ID     string `arg:"" help:"Test case id."`
	Remote string `help:"Base URL of a running server to stream logs from." placeholder:"URL"`
}

func (r *RunCmd) Run(a *app) error {
	id, err := common.ParseID(r.ID)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, release, err := a.backend(r.Remote)
	if err != nil {
		return err
	}
	defer release()

	var source execution.Source
	if r.Remote != "" {
		source = client.Source{Client: b.(*client.Client)}
	} else {
		source = execution.LocalSource{Sim: a.simulator(b.(localBackend).Store)}
	}

	finished := make(chan struct{}, 1)
	p := &progressPrinter{finished: finished}
	ctrl := execution.NewController(id, source, execution.Options{
		ProgressTick: a.cfg.Execution.ProgressTick,
		ProgressStep: a.cfg.Execution.ProgressStep,
		OnChange:     p.print,
	}, a.log)
	defer ctrl.Stop()

	if err := ctrl.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		fmt.Println("interrupted")
		return nil
	case <-finished:
	}

	if !ctrl.CanGenerateReport() {
		return nil
	}
	rep, err := b.Report(ctx, id)
	if err != nil {
		return err
	}
	fmt.Println()
	return rep.Render(os.Stdout)
}

// progressPrinter writes new log lines and every tenth percent of progress
// to stdout, and signals finished once the run and its log feed are done.
type progressPrinter struct {
	finished chan<- struct{}
	printed  int
	progress int
	state    execution.State
}

func (p *progressPrinter) print(snap execution.Snapshot) {
	if snap.State != p.state {
		fmt.Printf("[%3d%%] %s\n", snap.Progress, snap.State)
		p.state = snap.State
	}
	if snap.Progress/10 != p.progress/10 {
		fmt.Printf("[%3d%%] elapsed %s\n", snap.Progress, snap.Elapsed)
	}
	p.progress = snap.Progress

	for ; p.printed < len(snap.Logs); p.printed++ {
		fmt.Printf("       %s\n", snap.Logs[p.printed])
	}
	if snap.Err != "" && snap.State == execution.Error {
		fmt.Printf("       error: %s\n", snap.Err)
	}

	done := snap.State == execution.Success || snap.State == execution.Error
	if done && snap.Stream != execution.StreamStreaming {
		select {
		case p.finished <- struct{}{}:
		default:
		}
	}
}

type ListCmd struct {
	Remote string `help:"Base URL of a running server to list from." placeholder:"URL"`
}

func (l *ListCmd) Run(a *app) error {
	b, release, err := a.backend(l.Remote)
	if err != nil {
		return err
	}
	defer release()

	records, err := b.List(context.Background())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tRESPONSE TIME\tVALUE\tDATE")
	for _, rec := range records {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", rec.ID, rec.ResponseTime, rec.TransactionValue, rec.TransactionDate)
	}
	return w.Flush()
}

type ShowCmd struct {
	ID     string `arg:"" help:"Test case id."`
	Remote string `help:"Base URL of a running server to read from." placeholder:"URL"`
}

func (s *ShowCmd) Run(a *app) error {
	id, err := common.ParseID(s.ID)
	if err != nil {
		return err
	}
	b, release, err := a.backend(s.Remote)
	if err != nil {
		return err
	}
	defer release()

	detail, err := b.Get(context.Background(), id)
	if err != nil {
		return err
	}
	fmt.Println(dd.Dump(detail))
	return nil
}

type ReportCmd struct {
	ID     string `arg:"" help:"Test case id."`
	Remote string `help:"Base URL of a running server to read from." placeholder:"URL"`
	Format string `help:"Output format." enum:"text,json" default:"text"`
}

func (r *ReportCmd) Run(a *app) error {
	id, err := common.ParseID(r.ID)
	if err != nil {
		return err
	}
	b, release, err := a.backend(r.Remote)
	if err != nil {
		return err
	}
	defer release()

	rep, err := b.Report(context.Background(), id)
	if err != nil {
		return err
	}
	if r.Format == "json" {
		data, err := common.Marshal(rep)
		if err != nil {
			return errors.Wrap(err, "failed to encode report")
		}
		fmt.Println(string(data))
		return nil
	}
	return rep.Render(os.Stdout)
}

type PrintConfigCmd struct{}

func (PrintConfigCmd) Run(a *app) error {
	data, err := a.cfg.Dump()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

var cli struct {
	Config string `help:"YAML config file. Defaults to TXSIM_CONFIG." type:"path" placeholder:"FILE"`
	Env    string `help:"Runtime environment; \"local\" switches to the console logger. Overrides ENV."`

	Serve       ServeCmd       `cmd:"" default:"1" help:"Serve the HTTP API and log streams."`
	Run         RunCmd         `cmd:"" help:"Execute a test case, printing progress, logs and the report."`
	List        ListCmd        `cmd:"" help:"List test cases."`
	Show        ShowCmd        `cmd:"" help:"Dump a test case with its narrative."`
	Report      ReportCmd      `cmd:"" help:"Print the report of a test case."`
	PrintConfig PrintConfigCmd `cmd:"" name:"print-config" help:"Print the effective configuration."`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("txsim-server"),
		kong.Description("Mock financial transaction test runner."),
		kong.UsageOnError(),
	)

	cfg, err := common.LoadConfig(cli.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %+v\n", err)
		os.Exit(1)
	}
	if cli.Env != "" {
		cfg.Env = cli.Env
	}

	log, err := common.NewLogger(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := kctx.Run(&app{cfg: cfg, log: log}); err != nil {
		log.Error("Command failed", zap.String("command", kctx.Command()), zap.Error(err))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		log.Sync()
		os.Exit(1)
	}
}

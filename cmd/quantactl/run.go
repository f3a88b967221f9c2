package main

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/quantasim/quanta"
	"github.com/quantasim/quanta/config"
	"github.com/quantasim/quanta/examples"
	"github.com/quantasim/quanta/tracing"
	"github.com/spf13/cobra"
)

var (
	runScenario string
	runFor      time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run [bench.yaml]",
	Short: "Build a scenario, step it forward, and print what its sinks collected.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&runScenario, "scenario", "pipeline",
		"built-in scenario to run (pipeline, ping, counter, backpressure)")
	runCmd.Flags().DurationVar(&runFor, "for", 2*time.Second,
		"simulated duration to step through")
}

func runRun(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader()

	var cfg *config.BenchConfig
	var err error
	if len(args) == 1 {
		cfg, err = loader.LoadFromFile(args[0])
	} else {
		cfg, err = loader.AutoLoad()
	}
	if err != nil {
		return err
	}

	scenario, ok := scenarios[runScenario]
	if !ok {
		return fmt.Errorf("quantactl: unknown scenario %q", runScenario)
	}

	b := quanta.NewSimInit()
	if cfg.MailboxCap > 0 {
		b.SetMailboxCapacity(cfg.MailboxCap)
	}
	b.SetWorkers(cfg.Workers)
	b.SetMaxSameInstantIterations(cfg.MaxSameInstant)
	if cfg.TimeoutMillis > 0 {
		b.SetTimeout(quanta.Duration(time.Duration(cfg.TimeoutMillis) * time.Millisecond))
	}
	if cfg.DistributedIDs {
		b.SetIDGenerator(quanta.NewDistributedIDGenerator())
	}

	built := scenario.build(b)

	tracer, flush, err := buildTracer(cfg.Trace)
	if err != nil {
		return err
	}

	sim := b.Init(quanta.Epoch)
	defer sim.Shutdown()

	if tracer != nil {
		sim.AcceptHook(newDispatchTracer(tracer, sim.NextID))
	}
	if cfg.Log.Level == "debug" {
		sim.AcceptHook(quanta.NewEventLogger(log.New(cmd.OutOrStderr(), "", log.LstdFlags)))
	}

	if err := built.wire(sim); err != nil {
		return fmt.Errorf("quantactl: %w", err)
	}

	if _, err := sim.StepBy(quanta.Duration(runFor)); err != nil {
		return fmt.Errorf("quantactl: %w", err)
	}

	if flush != nil {
		flush()
	}

	fmt.Fprintln(cmd.OutOrStdout(), built.report(sim))
	return nil
}

// scenarioDef is one built-in bench: build wires up its models against
// the builder and returns the handle used to finish wiring and report
// results once the simulation exists (ports connect to a Simulation's
// address space, which only exists after Init).
type scenarioDef struct {
	build func(b *quanta.SimInit) builtScenario
}

type builtScenario struct {
	wire   func(sim *quanta.Simulation) error
	report func(sim *quanta.Simulation) string
}

var scenarios = map[string]scenarioDef{
	"pipeline":     {build: buildPipelineScenario},
	"ping":         {build: buildPingScenario},
	"counter":      {build: buildCounterScenario},
	"backpressure": {build: buildBackpressureScenario},
}

func buildPipelineScenario(b *quanta.SimInit) builtScenario {
	stage1 := examples.NewDelayDoubler("stage1", quanta.Duration(quanta.Second))
	stage2 := examples.NewDelayDoubler("stage2", quanta.Duration(quanta.Second))
	stage1Addr := b.AddModel("stage1", stage1)
	stage2Addr := b.AddModel("stage2", stage2)
	sink := quanta.NewCollectingSink[float64]()

	return builtScenario{
		wire: func(sim *quanta.Simulation) error {
			stage1.Out.ConnectAddress(sim.Handle(), stage2Addr, func(ctx quanta.Context, v float64) {
				stage2.Receive(ctx, v)
			})
			stage2.Out.Connect(sink)
			return sim.ProcessEvent(stage1Addr, func(ctx quanta.Context) {
				stage1.Receive(ctx, 3.5)
			})
		},
		report: func(sim *quanta.Simulation) string {
			return formatRecords("stage2.out", sink.Records())
		},
	}
}

func buildPingScenario(b *quanta.SimInit) builtScenario {
	ping := examples.NewPeriodicPing("ping", quanta.Duration(100*quanta.Millisecond))
	b.AddModel("ping", ping)
	sink := quanta.NewCollectingSink[int]()

	return builtScenario{
		wire: func(sim *quanta.Simulation) error {
			ping.Out.Connect(sink)
			return nil
		},
		report: func(sim *quanta.Simulation) string {
			return formatRecords("ping.out", sink.Records())
		},
	}
}

func buildCounterScenario(b *quanta.SimInit) builtScenario {
	counter := examples.NewCounter("counter")
	addr := b.AddModel("counter", counter)

	return builtScenario{
		wire: func(sim *quanta.Simulation) error {
			for i := 0; i < 5; i++ {
				if err := sim.ProcessEvent(addr, func(ctx quanta.Context) {
					counter.Increment(ctx)
				}); err != nil {
					return err
				}
			}
			return nil
		},
		report: func(sim *quanta.Simulation) string {
			count, err := quanta.ProcessQuery(sim, addr, counter.State)
			if err != nil {
				return fmt.Sprintf("counter.State(): %v", err)
			}
			return fmt.Sprintf("counter.State() = %d", count)
		},
	}
}

func buildBackpressureScenario(b *quanta.SimInit) builtScenario {
	consumer := examples.NewBlockingConsumer("consumer")
	producer := examples.NewFanoutProducer("producer")
	consumerAddr := b.AddModel("consumer", consumer)
	producerAddr := b.AddModel("producer", producer)

	return builtScenario{
		wire: func(sim *quanta.Simulation) error {
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 3; i++ {
					consumer.Release()
				}
			}()
			err := sim.ProcessEvent(producerAddr, func(ctx quanta.Context) {
				producer.SendAll(ctx, 3, consumerAddr, consumer)
			})
			wg.Wait()
			return err
		},
		report: func(sim *quanta.Simulation) string {
			return fmt.Sprintf("consumer.Received() = %v", consumer.Received())
		},
	}
}

func formatRecords[T any](portName string, records []quanta.Record[T]) string {
	out := fmt.Sprintf("%s collected %d value(s):\n", portName, len(records))
	for _, r := range records {
		out += fmt.Sprintf("  %s  %v\n", r.At, r.Value)
	}
	return out
}

// buildTracer constructs the tracing backend cfg selects, and a flush
// function to call once the run is done. A nil tracer means no tracing
// hook should be attached at all.
func buildTracer(cfg config.TraceConfig) (tracing.Tracer, func(), error) {
	switch cfg.Format {
	case config.TraceFormatNone, "":
		return nil, nil, nil
	case config.TraceFormatCSV:
		t := tracing.NewCSVTracer(cfg.Path)
		return t, t.Flush, nil
	case config.TraceFormatJSON:
		return tracing.NewJSONTracer(), nil, nil
	case config.TraceFormatSQLite:
		t := tracing.NewSQLiteTracer(cfg.Path)
		return t, t.Flush, nil
	default:
		return nil, nil, fmt.Errorf("quantactl: unknown trace format %q", cfg.Format)
	}
}

// dispatchTracer turns BeforeDispatch/AfterDispatch hook pairs into
// tracing.Task spans, one per dispatched mailbox closure. It keys the
// open span by model name rather than a dispatch-local ID, which is safe
// because a mailbox never runs two handlers concurrently: the span for
// a given model is always closed before the next one for that model
// opens. Each span's own ID comes from the simulation's configured
// IDGenerator, so the bench's distributed_ids setting actually changes
// what ends up in a trace file instead of only affecting an abstraction
// nothing reads.
type dispatchTracer struct {
	tracer tracing.Tracer
	nextID func() string

	mu   sync.Mutex
	open map[string]tracing.Task
}

func newDispatchTracer(t tracing.Tracer, nextID func() string) *dispatchTracer {
	return &dispatchTracer{tracer: t, nextID: nextID, open: make(map[string]tracing.Task)}
}

func (d *dispatchTracer) Func(ctx quanta.HookCtx) {
	switch ctx.Pos {
	case quanta.HookPosBeforeDispatch:
		task := tracing.Task{
			ID:        d.nextID(),
			Kind:      "dispatch",
			What:      "handler",
			Where:     ctx.Model,
			StartTime: ctx.Now,
		}
		d.mu.Lock()
		d.open[ctx.Model] = task
		d.mu.Unlock()
		d.tracer.StartTask(task)
	case quanta.HookPosAfterDispatch:
		d.mu.Lock()
		task, ok := d.open[ctx.Model]
		delete(d.open, ctx.Model)
		d.mu.Unlock()
		if !ok {
			return
		}
		task.EndTime = ctx.Now
		d.tracer.EndTask(task)
	}
}

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/webriots/filament"
)

// PipelineOptions holds flags for the pipeline command.
type PipelineOptions struct {
	*RootOptions
	Producers int
	Consumers int
	Items     int
	Maxsize   int
	Inflight  int
	Priority  bool
	Lifo      bool
}

// PipelineResult summarizes a pipeline run.
type PipelineResult struct {
	Processed int
	Sum       int
	Order     []int
}

type job struct {
	seq  int
	stop bool
}

// NewPipelineCommand creates a producer/consumer demo over a bounded queue.
func NewPipelineCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PipelineOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "pipeline",
		Short:         "Run producers and consumers over a bounded queue",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.scheduler(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := runPipeline(commandContext(cmd), s, opts)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "processed %d items, sum of squares %d\n", res.Processed, res.Sum)
			return err
		},
	}

	cmd.Flags().IntVarP(&opts.Producers, "producers", "p", 2, "number of producer fibers")
	cmd.Flags().IntVarP(&opts.Consumers, "consumers", "w", 3, "number of consumer fibers")
	cmd.Flags().IntVarP(&opts.Items, "items", "i", 10, "items per producer")
	cmd.Flags().IntVar(&opts.Maxsize, "maxsize", 4, "queue capacity (0 for unbounded)")
	cmd.Flags().IntVar(&opts.Inflight, "inflight", 2, "maximum concurrent offloaded computations")
	cmd.Flags().BoolVar(&opts.Priority, "priority", false, "serve lower sequence numbers first")
	cmd.Flags().BoolVar(&opts.Lifo, "lifo", false, "serve the newest item first")
	cmd.MarkFlagsMutuallyExclusive("priority", "lifo")

	return cmd
}

func newJobQueue(opts *PipelineOptions) *filament.Queue[job] {
	switch {
	case opts.Priority:
		return filament.NewPriorityQueue(opts.Maxsize, func(a, b job) bool {
			return !a.stop && (b.stop || a.seq < b.seq)
		})
	case opts.Lifo:
		return filament.NewLifoQueue[job](opts.Maxsize)
	default:
		return filament.NewQueue[job](opts.Maxsize)
	}
}

// runPipeline feeds Producers*Items jobs through the queue. Consumers square
// each job on an offload goroutine, at most Inflight at a time.
func runPipeline(ctx context.Context, s *filament.Scheduler, opts *PipelineOptions) (*PipelineResult, error) {
	if opts.Producers < 1 || opts.Consumers < 1 || opts.Items < 0 || opts.Maxsize < 0 || opts.Inflight < 1 {
		return nil, fmt.Errorf("%w: pipeline sizes out of range", filament.ErrUsage)
	}

	q := newJobQueue(opts)
	slots := filament.NewBoundedSemaphore(opts.Inflight)
	res := &PipelineResult{}

	consume := func(ctx context.Context) error {
		f := filament.MustFiberFromContext(ctx)
		for {
			j, err := q.Get(f, true, 0)
			if err != nil {
				return err
			}
			if j.stop {
				return q.TaskDone()
			}
			res.Order = append(res.Order, j.seq)

			if err := slots.Acquire(f, true, 0); err != nil {
				return err
			}
			v, err := filament.Offload(f, func(context.Context) (int, error) {
				return j.seq * j.seq, nil
			})
			if rerr := slots.Release(); err == nil {
				err = rerr
			}
			if err != nil {
				return err
			}

			res.Processed++
			res.Sum += v
			if err := q.TaskDone(); err != nil {
				return err
			}
		}
	}

	root := s.Spawn(func(_ context.Context, f *filament.Fiber) error {
		consumers := filament.NewErrGroup(f)
		for range opts.Consumers {
			consumers.Go(consume)
		}

		producers := f.Group()
		for p := range opts.Producers {
			producers.Go(func(ctx context.Context) error {
				f := filament.MustFiberFromContext(ctx)
				for i := range opts.Items {
					if err := q.Put(f, job{seq: p*opts.Items + i}, true, 0); err != nil {
						return err
					}
				}
				return nil
			})
		}
		if err := producers.Wait(f); err != nil {
			return err
		}
		if err := q.Join(f); err != nil {
			return err
		}

		f.Logf("drained %d jobs", res.Processed)
		for range opts.Consumers {
			if err := q.Put(f, job{stop: true}, true, 0); err != nil {
				return err
			}
		}
		return consumers.Wait(f)
	})

	if err := s.Run(ctx); err != nil {
		return nil, err
	}
	if err := root.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

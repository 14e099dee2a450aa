// Command vmemu runs the virtual-memory emulator's two demo workloads: a
// concurrent heap/stack soak test that stresses the memory arena directly
// (real goroutines, no scheduler involved), and a cooperative scheduler demo
// driven by internal/runtime's tick loop. Neither is part of the emulator's
// tested invariants — both exist so the module is a runnable program, not
// just a library.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"

	"vmemu/internal/config"
	"vmemu/internal/klog"
	"vmemu/internal/kpanic"
	"vmemu/internal/mm"
	"vmemu/internal/runtime"
	"vmemu/internal/sched"
	"vmemu/internal/stats"
	"vmemu/internal/swap"
	"vmemu/internal/vmm"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML engine config (defaults built in if empty)")
	threads := flag.Int("threads", 8, "soak test: number of concurrent worker threads")
	ops := flag.Int("ops", 200, "soak test: heap alloc/write/read operations per worker")
	profilePath := flag.String("profile", "", "write a pprof frame-occupancy profile to this path after running")
	schedDemo := flag.Bool("sched-demo", false, "run the cooperative scheduler demo instead of the soak test")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "vmemu:", err)
		os.Exit(1)
	}

	log := klog.New(slog.NewJSONHandler(os.Stderr, nil))

	panics := kpanic.Func(func(threadID uint8, ctx any) {
		log.Log(slog.LevelError, "kernel panic", slog.Int("thread_id", int(threadID)), slog.Any("context", ctx))
	})

	store, err := swap.New(cfg.SwapDir, cfg.PageSize)
	if err != nil {
		fmt.Fprintln(os.Stderr, "vmemu:", err)
		os.Exit(1)
	}
	img := mm.New(cfg, store, panics, log)
	v := vmm.New(img, store, panics, log)
	v.Startup()
	defer v.Shutdown()

	if *schedDemo {
		runSchedDemo(log)
	} else {
		runSoakTest(v, *threads, *ops)
	}

	printer := stats.NewPrinter(language.English)
	fmt.Println(printer.FrameSummary(img))

	if *profilePath != "" {
		f, err := os.Create(*profilePath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "vmemu: profile:", err)
			os.Exit(1)
		}
		defer f.Close()
		if err := stats.DumpFrameProfile(img, f); err != nil {
			fmt.Fprintln(os.Stderr, "vmemu: profile:", err)
			os.Exit(1)
		}
	}
}

// runSoakTest fans out threads concurrent workers, each with its own VMM
// thread handle, hammering AllocateHeapMem/WriteToAddr/ReadFromAddr. This
// exercises the arena's fault/eviction concurrency directly; it does not go
// through internal/sched, since the soak test wants genuine OS-thread
// concurrency rather than the cooperative single-turn model.
func runSoakTest(v *vmm.VMM, threads, ops int) {
	bar := progressbar.Default(int64(threads * ops))

	var g errgroup.Group
	for i := 0; i < threads; i++ {
		i := i
		g.Go(func() error {
			th := v.CreateThread()
			buf := make([]byte, 64)
			for b := range buf {
				buf[b] = byte(i)
			}
			out := make([]byte, 64)

			for j := 0; j < ops; j++ {
				addr := v.AllocateHeapMem(th, len(buf))
				if addr < 0 {
					return fmt.Errorf("worker %d: heap exhausted after %d ops", i, j)
				}
				if err := v.WriteToAddr(th, addr, buf); err != nil {
					return fmt.Errorf("worker %d: write: %w", i, err)
				}
				if err := v.ReadFromAddr(th, addr, out); err != nil {
					return fmt.Errorf("worker %d: read: %w", i, err)
				}
				for b, want := range buf {
					if out[b] != want {
						return fmt.Errorf("worker %d: read back mismatch at byte %d", i, b)
					}
				}
				bar.Add(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		fmt.Fprintln(os.Stderr, "vmemu: soak test:", err)
		os.Exit(1)
	}
}

// runSchedDemo runs a handful of cooperative threads at different
// priorities, each sleeping for a few ticks, and drives them to completion
// through internal/runtime's tick loop.
func runSchedDemo(log *klog.Logger) {
	s := sched.New(log)
	s.Initialize()
	defer s.Shutdown()

	rt := runtime.New(s, log)

	priorities := []int{1, 5, 9}
	for i, pri := range priorities {
		name := fmt.Sprintf("demo-%d", i)
		rt.CreateThread(name, pri, nil, func(rt *runtime.Runtime, _ *vmm.ThreadHandle, st *sched.Thread) {
			rt.TickSleep(st, 2)
		})
	}

	if err := rt.Run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "vmemu: sched demo:", err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/oclgrind/oclgrind-go/internal/demo"
	"github.com/oclgrind/oclgrind-go/pkg/debugger"
	"github.com/oclgrind/oclgrind-go/pkg/device"
	"github.com/oclgrind/oclgrind-go/pkg/kernel"
	"github.com/oclgrind/oclgrind-go/pkg/plugin"
	"github.com/oclgrind/oclgrind-go/pkg/program"
	"github.com/oclgrind/oclgrind-go/pkg/value"
	"github.com/oclgrind/oclgrind-go/pkg/version"
	"github.com/spf13/cobra"
)

var (
	kernelName  string
	elements    int
	groupSize   int
	numBuckets  int
	parallel    bool
	tracePath   string
	traceVerbose bool
	luaScript   string
	repl        bool
	showVersion bool
)

var rootCmd = &cobra.Command{
	Use:   "oclgrind-sim",
	Short: "oclgrind-sim " + version.GetVersion(),
	Long: `oclgrind-sim - OpenCL device simulator
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
Launches one of a handful of bundled demo kernels against the
in-process N-D range dispatcher and reports the result.

KERNELS:
  copy       out[i] = in[i]                         (--elements)
  groupsum   per-group local-memory reduction        (--elements, --group-size)
  histogram  atomic bucket counts                    (--elements, --buckets)
  lookup     constant-buffer indexed read            (fixed 4-entry table)

EXAMPLES:
  oclgrind-sim --kernel copy --elements 16
  oclgrind-sim --kernel groupsum --elements 16 --group-size 4 --trace -
  oclgrind-sim --kernel histogram --elements 64 --buckets 8 --parallel
  OCLGRIND_INTERACTIVE=1 oclgrind-sim --kernel copy --repl`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if showVersion {
			fmt.Println(version.GetFullVersion())
			return nil
		}
		return run()
	},
}

func init() {
	rootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "show version")
	rootCmd.Flags().StringVarP(&kernelName, "kernel", "k", "copy", "demo kernel to launch (copy, groupsum, histogram, lookup)")
	rootCmd.Flags().IntVarP(&elements, "elements", "n", 16, "number of elements in the global range")
	rootCmd.Flags().IntVar(&groupSize, "group-size", 4, "work-group size for groupsum")
	rootCmd.Flags().IntVar(&numBuckets, "buckets", 4, "bucket count for histogram")
	rootCmd.Flags().BoolVarP(&parallel, "parallel", "p", false, "run work-groups concurrently, one goroutine per group")
	rootCmd.Flags().StringVar(&tracePath, "trace", "", "write an event trace to this path, or \"-\" for stdout")
	rootCmd.Flags().BoolVar(&traceVerbose, "trace-verbose", false, "include per-instruction events in the trace")
	rootCmd.Flags().StringVar(&luaScript, "lua", "", "attach a Lua observer script")
	rootCmd.Flags().BoolVar(&repl, "repl", false, "attach the interactive debugger instead of running to completion")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// buildLaunch returns the demo module, the kernel to run, and the launch
// configuration for the selected --kernel.
func buildLaunch(d *device.Device) (*program.Module, *kernel.Kernel, device.RunConfig, error) {
	switch kernelName {
	case "copy":
		mod := demo.Copy()
		fn, _ := mod.FunctionByName("copy")
		k := kernel.New(fn, mod)

		in, err := d.GlobalMemory().Allocate(4 * elements)
		if err != nil {
			return nil, nil, device.RunConfig{}, err
		}
		out, err := d.GlobalMemory().Allocate(4 * elements)
		if err != nil {
			return nil, nil, device.RunConfig{}, err
		}
		for i := 0; i < elements; i++ {
			if err := d.GlobalMemory().Store(in+uint64(i*4), value.FromUint64(4, uint64(i)).Bytes(), plugin.Origin{}); err != nil {
				return nil, nil, device.RunConfig{}, err
			}
		}
		if err := k.SetArgument(0, value.FromUint64(8, in)); err != nil {
			return nil, nil, device.RunConfig{}, err
		}
		if err := k.SetArgument(1, value.FromUint64(8, out)); err != nil {
			return nil, nil, device.RunConfig{}, err
		}
		return mod, k, device.RunConfig{WorkDim: 1, GlobalSize: [3]int{elements, 0, 0}, LocalSize: [3]int{elements, 0, 0}}, nil

	case "groupsum":
		if elements%groupSize != 0 {
			return nil, nil, device.RunConfig{}, fmt.Errorf("--elements (%d) must be divisible by --group-size (%d)", elements, groupSize)
		}
		mod := demo.GroupSum(groupSize)
		fn, _ := mod.FunctionByName("group_sum")
		k := kernel.New(fn, mod)

		in, err := d.GlobalMemory().Allocate(4 * elements)
		if err != nil {
			return nil, nil, device.RunConfig{}, err
		}
		out, err := d.GlobalMemory().Allocate(4 * (elements / groupSize))
		if err != nil {
			return nil, nil, device.RunConfig{}, err
		}
		for i := 0; i < elements; i++ {
			if err := d.GlobalMemory().Store(in+uint64(i*4), value.FromUint64(4, uint64(i+1)).Bytes(), plugin.Origin{}); err != nil {
				return nil, nil, device.RunConfig{}, err
			}
		}
		if err := k.SetArgument(0, value.FromUint64(8, in)); err != nil {
			return nil, nil, device.RunConfig{}, err
		}
		if err := k.SetArgument(1, value.FromUint64(8, out)); err != nil {
			return nil, nil, device.RunConfig{}, err
		}
		if err := k.SetArgument(2, value.New(1, groupSize*4)); err != nil {
			return nil, nil, device.RunConfig{}, err
		}
		return mod, k, device.RunConfig{WorkDim: 1, GlobalSize: [3]int{elements, 0, 0}, LocalSize: [3]int{groupSize, 0, 0}}, nil

	case "histogram":
		mod := demo.AtomicHistogram(numBuckets)
		fn, _ := mod.FunctionByName("atomic_histogram")
		k := kernel.New(fn, mod)

		in, err := d.GlobalMemory().Allocate(4 * elements)
		if err != nil {
			return nil, nil, device.RunConfig{}, err
		}
		buckets, err := d.GlobalMemory().Allocate(4 * numBuckets)
		if err != nil {
			return nil, nil, device.RunConfig{}, err
		}
		for i := 0; i < elements; i++ {
			if err := d.GlobalMemory().Store(in+uint64(i*4), value.FromUint64(4, uint64(i)).Bytes(), plugin.Origin{}); err != nil {
				return nil, nil, device.RunConfig{}, err
			}
		}
		for i := 0; i < numBuckets; i++ {
			if err := d.GlobalMemory().AtomicStore(buckets+uint64(i*4), 0, plugin.Origin{}); err != nil {
				return nil, nil, device.RunConfig{}, err
			}
		}
		if err := k.SetArgument(0, value.FromUint64(8, in)); err != nil {
			return nil, nil, device.RunConfig{}, err
		}
		if err := k.SetArgument(1, value.FromUint64(8, buckets)); err != nil {
			return nil, nil, device.RunConfig{}, err
		}
		local := groupSize
		if elements%local != 0 {
			local = 1
		}
		return mod, k, device.RunConfig{WorkDim: 1, GlobalSize: [3]int{elements, 0, 0}, LocalSize: [3]int{local, 0, 0}}, nil

	case "lookup":
		lut := []int64{100, 200, 300, 400}
		mod := demo.ConstantLookup(lut)
		fn, _ := mod.FunctionByName("constant_lookup")
		k := kernel.New(fn, mod)

		n := len(lut)
		in, err := d.GlobalMemory().Allocate(4 * n)
		if err != nil {
			return nil, nil, device.RunConfig{}, err
		}
		out, err := d.GlobalMemory().Allocate(4 * n)
		if err != nil {
			return nil, nil, device.RunConfig{}, err
		}
		for i := 0; i < n; i++ {
			if err := d.GlobalMemory().Store(in+uint64(i*4), value.FromUint64(4, uint64(i)).Bytes(), plugin.Origin{}); err != nil {
				return nil, nil, device.RunConfig{}, err
			}
		}
		if err := k.SetArgument(0, value.FromUint64(8, in)); err != nil {
			return nil, nil, device.RunConfig{}, err
		}
		if err := k.SetArgument(1, value.FromUint64(8, out)); err != nil {
			return nil, nil, device.RunConfig{}, err
		}
		return mod, k, device.RunConfig{WorkDim: 1, GlobalSize: [3]int{n, 0, 0}, LocalSize: [3]int{n, 0, 0}}, nil

	default:
		return nil, nil, device.RunConfig{}, fmt.Errorf("unknown kernel %q (want copy, groupsum, histogram, lookup)", kernelName)
	}
}

func run() error {
	d := device.New()

	if tracePath != "" {
		out := os.Stdout
		if tracePath != "-" {
			f, err := os.Create(tracePath)
			if err != nil {
				return fmt.Errorf("open trace file: %w", err)
			}
			defer f.Close()
			out = f
		}
		tp := plugin.NewTracePlugin(out)
		tp.Verbose = traceVerbose
		if err := d.Bus().AddPlugin(tp); err != nil {
			return fmt.Errorf("register trace plugin: %w", err)
		}
	}

	if luaScript != "" {
		script, err := os.ReadFile(luaScript)
		if err != nil {
			return fmt.Errorf("read lua script: %w", err)
		}
		lp, err := plugin.NewLuaPlugin("lua", string(script))
		if err != nil {
			return fmt.Errorf("load lua script: %w", err)
		}
		if err := d.Bus().AddPlugin(lp); err != nil {
			return fmt.Errorf("register lua plugin: %w", err)
		}
	}

	interactive := repl && os.Getenv("OCLGRIND_INTERACTIVE") == "1"
	if interactive {
		dbg := debugger.New(os.Stdin, os.Stdout)
		dbg.Pause()
		if err := d.Bus().AddPlugin(dbg); err != nil {
			return fmt.Errorf("register debugger: %w", err)
		}
	}

	_, k, cfg, err := buildLaunch(d)
	if err != nil {
		return fmt.Errorf("build launch: %w", err)
	}
	if parallel {
		cfg.Concurrency = device.Parallel
	}

	if err := d.Run(k, cfg); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	fmt.Printf("kernel %q completed (%d elements)\n", kernelName, cfg.GlobalSize[0])
	return nil
}

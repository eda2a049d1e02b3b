package main

import (
	_ "embed"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"golang.org/x/sync/errgroup"

	"bfrvm/pkg/codestore"
	"bfrvm/pkg/config"
	"bfrvm/pkg/errors"
	"bfrvm/pkg/program"
	"bfrvm/pkg/vm"
	"bfrvm/pkg/vm/jit"
	"bfrvm/pkg/vm/jit/goasm"
)

//go:embed programs/hello.b
var helloSource []byte

//go:embed programs/mandelbrot.b
var mandelbrotSource []byte

func main() {
	configPath := flag.String("config", "", "Path to a bfrvm.toml configuration file")
	programName := flag.String("program", "mandelbrot", "Program to run: hello, mandelbrot or a path to a source file")
	modeFlag := flag.String("mode", "", "Execution mode (interpreter|jit), overrides config and environment")
	tierFlag := flag.String("tier", "", "Interpreter tier (naive|jumptable|fused), overrides config")
	backendFlag := flag.String("backend", "", "JIT assembler backend (native|goasm), overrides config")
	parallel := flag.Int("parallel", 1, "Number of sessions to run concurrently against one code cache")
	showAsm := flag.Bool("asm", false, "Print the generated instruction listing and exit")
	showDisasm := flag.Bool("disasm", false, "Print a disassembly of the published code block after running")
	verbose := flag.Int("v", -1, "Log verbosity, overrides config")

	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
	} else if err := cfg.ApplyEnv(); err != nil {
		fatal(err)
	}
	if *modeFlag != "" {
		cfg.VM.Mode = *modeFlag
	}
	if *tierFlag != "" {
		cfg.VM.Tier = *tierFlag
	}
	if *backendFlag != "" {
		cfg.JIT.Backend = *backendFlag
	}
	if *verbose >= 0 {
		cfg.Log.Verbosity = *verbose
	}
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}
	if *parallel < 1 {
		log.Fatal("Error: -parallel must be at least 1")
	}

	var logPath *string
	if cfg.Log.File != "" {
		logPath = &cfg.Log.File
	}
	commonlog.Configure(cfg.Log.Verbosity, logPath)

	src, err := loadSource(*programName)
	if err != nil {
		log.Fatalf("Failed to load program %s: %v", *programName, err)
	}

	mode, err := vm.ParseMode(cfg.VM.Mode)
	if err != nil {
		fatal(err)
	}
	tier, err := vm.ParseTier(cfg.VM.Tier)
	if err != nil {
		fatal(err)
	}

	backend := selectBackend(cfg.JIT.Backend)

	if *showAsm {
		p, err := program.Compile(src)
		if err != nil {
			fatal(err)
		}
		listing, err := jit.Generate(p.Ops, p.Loops)
		if err != nil {
			fatal(err)
		}
		fmt.Print(listing.String())
		return
	}

	var rt *jit.Runtime
	if mode == vm.ModeJIT {
		if !jit.Supported {
			log.Fatal("Error: jit mode is not supported on this platform, use -mode interpreter")
		}
		cache, err := jit.NewCache(cfg.JIT.MaxGuestAddress, cfg.JIT.ArenaSize)
		if err != nil {
			fatal(err)
		}
		defer cache.Close()

		opts := []jit.Option{jit.WithBackend(backend)}
		if cfg.Store.Path != "" {
			store, err := codestore.Open(cfg.Store.Path)
			if err != nil {
				fatal(err)
			}
			defer store.Close()
			opts = append(opts, jit.WithStore(store))
		}
		rt = jit.NewRuntime(cache, opts...)
	}

	fmt.Println("BrainfuckRVM: a Brainfuck Interpreter.")

	exits := make([]vm.Exit, *parallel)
	var g errgroup.Group
	for i := 0; i < *parallel; i++ {
		out := os.Stdout
		if i > 0 {
			devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
			if err != nil {
				log.Fatalf("Failed to open %s: %v", os.DevNull, err)
			}
			defer devNull.Close()
			out = devNull
		}
		opts := []vm.Option{vm.WithMode(mode), vm.WithTier(tier), vm.WithOutput(out)}
		if rt != nil {
			opts = append(opts, vm.WithJIT(rt))
		}
		sess, err := vm.NewSession(cfg.VM.TapeSize, opts...)
		if err != nil {
			fatal(err)
		}
		i := i
		g.Go(func() error {
			exit, err := sess.Run(src)
			exits[i] = exit
			return err
		})
	}
	if err := g.Wait(); err != nil {
		fatal(err)
	}

	for i, exit := range exits {
		if exit.Kind == vm.ExitBounds {
			log.Fatalf("Session %d: tape cursor left [0, %d)", i, cfg.VM.TapeSize)
		}
	}

	fmt.Printf("\nExecution time: [%10.4f]s", exits[0].Seconds())
	if exits[0].Compiled {
		fmt.Printf(" (compiled in %s)", exits[0].Compile)
	}

	if rt != nil {
		st := rt.Stats()
		fmt.Printf("\n%s: %d block(s), %d/%d arena bytes, %d compile(s), %d store hit(s), %d cache hit(s)",
			backend.Name(), st.Blocks, st.ArenaUsed, st.ArenaCapacity, st.Compiles, st.StoreHits, st.CacheHits)
		if *showDisasm {
			printDisassembly(rt, src)
		}
	}
	fmt.Println("\ndone.")
}

func loadSource(name string) ([]byte, error) {
	switch name {
	case "hello":
		return helloSource, nil
	case "mandelbrot":
		return mandelbrotSource, nil
	}
	return os.ReadFile(name)
}

func selectBackend(name string) jit.Backend {
	if name == "goasm" {
		return goasm.Backend{}
	}
	return jit.NativeBackend{}
}

func printDisassembly(rt *jit.Runtime, src []byte) {
	p, err := program.Load(src)
	if err != nil {
		fatal(err)
	}
	addr, err := rt.AddressOf(p)
	if err != nil {
		fatal(err)
	}
	native, ok := rt.Cache().Lookup(addr)
	if !ok {
		log.Fatalf("Nothing published at guest address %#x", addr)
	}
	fmt.Printf("\n\nguest %#x -> native %#x\n", addr, native)
	fmt.Print(jit.Disassemble(rt.Cache().Block(native)))
}

func fatal(err error) {
	if stage, ok := errors.StageOf(err); ok {
		log.Fatalf("Error (%s): %v", stage, err)
	}
	log.Fatalf("Error: %v", err)
}

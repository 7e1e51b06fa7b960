// Command moltrun is the host harness that loads a guest wasm module
// compiled from Molt's I/O and concurrency plane and runs it to
// completion under wazero, wiring the hostbridge import surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/stealthrocket/wazergo"
	"github.com/tetratelabs/wazero"

	molt "github.com/stealthrocket/molt-io"
	"github.com/stealthrocket/molt-io/hostbridge"
	"github.com/stealthrocket/molt-io/internal/sockets"
)

func printUsage() {
	fmt.Printf(`moltrun - Run a Molt I/O guest module

USAGE:
   moltrun [OPTIONS]... <MODULE> [--] [ARGS]...

ARGS:
   <MODULE>
      The path of the WebAssembly module to run

OPTIONS:
   --listen <ADDR>
      Preopen a socket listening on the specified address

   --dial <ADDR>
      Preopen a socket connected to the specified address

   --cap <NAME>
      Grant a capability (net, net.connect, net.listen, net.bind,
      process, process.spawn, time, time.wall); repeatable

   --db-worker-cmd <CMD>
      Command line used to launch the database worker subprocess on
      first db_query/db_exec; overrides MOLT_WASM_DB_WORKER_CMD

   -v, --version
      Print the version and exit

   -h, --help
      Show this usage information
`)
}

type stringList []string

func (s stringList) String() string { return fmt.Sprintf("%v", []string(s)) }

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}

var (
	listens     stringList
	dials       stringList
	caps        stringList
	dbWorkerCmd string
	version     bool
)

func main() {
	flagSet := flag.NewFlagSet("moltrun", flag.ExitOnError)
	flagSet.Usage = printUsage

	flagSet.Var(&listens, "listen", "")
	flagSet.Var(&dials, "dial", "")
	flagSet.Var(&caps, "cap", "")
	flagSet.StringVar(&dbWorkerCmd, "db-worker-cmd", "", "")
	flagSet.BoolVar(&version, "version", false, "")
	flagSet.BoolVar(&version, "v", false, "")
	flagSet.Parse(os.Args[1:])

	if version {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "(devel)" {
			fmt.Println("moltrun", info.Main.Version)
		} else {
			fmt.Println("moltrun", "devel")
		}
		os.Exit(0)
	}

	args := flagSet.Args()
	wasmFile := ""
	if len(args) > 0 {
		wasmFile, args = args[0], args[1:]
	} else if p := os.Getenv(molt.EnvWasmPath); p != "" {
		wasmFile = p
	} else if p := os.Getenv(molt.EnvRuntimeWasm); p != "" {
		wasmFile = p
	} else {
		printUsage()
		os.Exit(1)
	}

	if err := run(wasmFile, args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(wasmFile string, args []string) error {
	wasmCode, err := loadModuleBytes(wasmFile)
	if err != nil {
		return err
	}
	if len(args) > 0 && args[0] == "--" {
		args = args[1:]
	}

	ctx := context.Background()
	rt := wazero.NewRuntimeWithConfig(ctx, runtimeConfig())
	defer rt.Close(ctx)

	wasmModule, err := rt.CompileModule(ctx, wasmCode)
	if err != nil {
		return fmt.Errorf("compile module: %w", err)
	}

	capSet := molt.NewCapabilitySet()
	for _, name := range caps {
		capSet.Grant(molt.Capability(name))
	}

	workerCmd := resolveDBWorkerCmd()

	opts := []hostbridge.Option{hostbridge.WithCapabilities(capSet)}
	if len(workerCmd) > 0 {
		opts = append(opts, hostbridge.WithDBWorkerCommand(workerCmd))
	}

	instanceHandle := wazergo.MustInstantiate(ctx, rt, hostbridge.HostModule, opts...)
	ctx = wazergo.WithModuleInstance(ctx, instanceHandle)
	module := ctx.Value((*wazergo.ModuleInstance[*hostbridge.Module])(nil)).(*hostbridge.Module)

	var preopened []int
	defer func() {
		for _, fd := range preopened {
			sockets.Close(fd)
		}
	}()
	for _, addr := range listens {
		fd, err := sockets.Listen(addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		preopened = append(preopened, fd)
		if _, err := module.Sockets.Adopt(molt.InetFamily, molt.StreamSocket, molt.TCPProtocol, fd); err != nil {
			return fmt.Errorf("register listening socket %s: %w", addr, err)
		}
	}
	for _, addr := range dials {
		fd, err := sockets.Dial(addr)
		if err != nil && err != sockets.EINPROGRESS {
			return fmt.Errorf("dial %s: %w", addr, err)
		}
		preopened = append(preopened, fd)
		if _, err := module.Sockets.Adopt(molt.InetFamily, molt.StreamSocket, molt.TCPProtocol, fd); err != nil {
			return fmt.Errorf("register dialed socket %s: %w", addr, err)
		}
	}

	instance, err := rt.InstantiateModule(ctx, wasmModule, wazero.NewModuleConfig().WithArgs(append([]string{filepath.Base(wasmFile)}, args...)...))
	if err != nil {
		return fmt.Errorf("instantiate module: %w", err)
	}
	return instance.Close(ctx)
}

// loadModuleBytes picks the wasm artifact to run. A linked artifact
// (MOLT_WASM_LINKED_PATH) replaces the module path when linking is
// preferred; the file named on the command line is used otherwise.
func loadModuleBytes(wasmFile string) ([]byte, error) {
	if linked := os.Getenv(molt.EnvWasmLinkedPath); linked != "" {
		if molt.EnvFlag(molt.EnvWasmPreferLinked) || molt.EnvFlag(molt.EnvWasmLinked) {
			if _, err := os.Stat(linked); err == nil {
				wasmFile = linked
			}
		}
	}
	data, err := os.ReadFile(wasmFile)
	if err != nil {
		return nil, fmt.Errorf("could not read wasm file '%s': %w", wasmFile, err)
	}
	return data, nil
}

// runtimeConfig resolves wazero.RuntimeConfig from the environment.
// MOLT_WASM_CACHE (or, when precompilation is enabled,
// MOLT_WASM_PRECOMPILED_PATH) names a compilation-cache directory so
// repeated invocations reuse compiled artifacts; MOLT_WASM_COMPILE_FAST
// selects the interpreter, trading execution speed for compile speed.
func runtimeConfig() wazero.RuntimeConfig {
	var cfg wazero.RuntimeConfig
	if molt.EnvFlag(molt.EnvWasmCompileFast) {
		cfg = wazero.NewRuntimeConfigInterpreter()
	} else {
		cfg = wazero.NewRuntimeConfig()
	}

	cacheDir := os.Getenv(molt.EnvWasmCache)
	if cacheDir == "" && molt.EnvFlag(molt.EnvWasmPrecompiled) {
		cacheDir = os.Getenv(molt.EnvWasmPrecompiledPath)
	}
	if cacheDir != "" {
		if molt.EnvFlag(molt.EnvWasmPrecompiledWrite) {
			os.MkdirAll(cacheDir, 0o755)
		}
		cache, err := wazero.NewCompilationCacheWithDir(cacheDir)
		if err == nil {
			cfg = cfg.WithCompilationCache(cache)
		}
	}
	return cfg
}

func resolveDBWorkerCmd() []string {
	if dbWorkerCmd != "" {
		return strings.Fields(dbWorkerCmd)
	}
	if cmd := os.Getenv(molt.EnvDBWorkerCmd); cmd != "" {
		return strings.Fields(cmd)
	}
	if cmd := os.Getenv(molt.EnvWorkerCmd); cmd != "" {
		return strings.Fields(cmd)
	}
	return nil
}

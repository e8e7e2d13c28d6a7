// Command ironclad encrypts one logical file into an erasure-coded,
// tamper-evident dataset directory and edits it in place.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/eniz1806/ironclad/internal/config"
	"github.com/eniz1806/ironclad/internal/keyschedule"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var (
		rootKeyHex     string
		rootPassphrase string
		ioMode         string
		configPath     string
		logLevel       string
	)

	// Global flags before the subcommand.
	args := os.Args[1:]
	for len(args) > 0 && strings.HasPrefix(args[0], "-") {
		switch args[0] {
		case "--root-key-hex":
			rootKeyHex = takeValue(&args)
		case "--root-passphrase":
			rootPassphrase = takeValue(&args)
		case "--io-mode":
			ioMode = takeValue(&args)
		case "--config":
			configPath = takeValue(&args)
		case "--log-level":
			logLevel = takeValue(&args)
		case "--version", "-v":
			fmt.Printf("ironclad %s\n", version)
			os.Exit(0)
		case "--help", "-h":
			printUsage()
			os.Exit(0)
		default:
			fatalf("unknown flag: %s", args[0])
		}
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err)
	}
	if ioMode != "" {
		cfg.IOMode = ioMode
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}
	setupLogging(cfg.LogLevel)

	keys, err := resolveKeys(rootKeyHex, rootPassphrase)
	if err != nil {
		fatal(err)
	}

	cmd, cmdArgs := args[0], args[1:]
	switch cmd {
	case "write":
		err = runWrite(cfg, keys, cmdArgs)
	case "read":
		err = runRead(cfg, keys, cmdArgs)
	case "insert":
		err = runInsert(cfg, keys, cmdArgs)
	case "delete":
		err = runDelete(cfg, keys, cmdArgs)
	case "heal":
		err = runHeal(cfg, keys, cmdArgs)
	case "version":
		fmt.Printf("ironclad %s\n", version)
	case "help":
		printUsage()
	default:
		fatalf("unknown command: %s", cmd)
	}
	if err != nil {
		fatal(err)
	}
}

// resolveKeys picks the root key source: flags first, then environment. The
// hex form wins over the passphrase form when both are present.
func resolveKeys(rootKeyHex, rootPassphrase string) (keyschedule.Keys, error) {
	if rootKeyHex == "" {
		rootKeyHex = os.Getenv("IRONCLAD_ROOT_KEY_HEX")
	}
	if rootPassphrase == "" {
		rootPassphrase = os.Getenv("IRONCLAD_ROOT_PASSPHRASE")
	}

	var (
		root keyschedule.RootKey
		err  error
	)
	switch {
	case rootKeyHex != "":
		root, err = keyschedule.ParseRootKeyHex(rootKeyHex)
	case rootPassphrase != "":
		root, err = keyschedule.RootKeyFromPassphrase(rootPassphrase)
	default:
		return keyschedule.Keys{}, fmt.Errorf("no root key: pass --root-key-hex, --root-passphrase, or set IRONCLAD_ROOT_KEY_HEX")
	}
	if err != nil {
		return keyschedule.Keys{}, err
	}
	return root.Derive(), nil
}

func setupLogging(level string) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	slog.SetDefault(slog.New(handler))
}

func takeValue(args *[]string) string {
	if len(*args) < 2 {
		fatalf("%s requires a value", (*args)[0])
	}
	v := (*args)[1]
	*args = (*args)[2:]
	return v
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "ironclad: %v\n", err)
	os.Exit(1)
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, "ironclad: "+format+"\n", a...)
	os.Exit(1)
}

func printUsage() {
	fmt.Print(`ironclad - encrypted resilient blob store

Usage:
  ironclad [global flags] <command> [args]

Commands:
  write <input>             encrypt and disperse a file into a dataset
  read <output>             recover and decrypt a dataset into a file
  insert <offset> <text>    insert text at a byte offset
  delete <offset> <length>  delete a byte range
  heal                      verify all shards and rewrite damaged ones
  version                   print version
  help                      print this help

Command flags:
  --data N      data shards (default from config, 4)
  --parity N    parity shards (default from config, 4)
  --dataset S   dataset name (default "default")

Global flags:
  --root-key-hex HEX       64-hex-character root key
  --root-passphrase TEXT   passphrase stretched into a root key
  --io-mode MODE           strict or fast
  --config PATH            config file (default ironclad.yaml)
  --log-level LEVEL        debug, info, warn or error

Environment:
  IRONCLAD_ROOT_KEY_HEX, IRONCLAD_ROOT_PASSPHRASE, IRONCLAD_STORAGE_DIR,
  IRONCLAD_IO_MODE, IRONCLAD_DATA_SHARDS, IRONCLAD_PARITY_SHARDS,
  IRONCLAD_LOG_LEVEL
`)
}

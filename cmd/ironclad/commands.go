package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/eniz1806/ironclad/internal/blockstore"
	"github.com/eniz1806/ironclad/internal/config"
	"github.com/eniz1806/ironclad/internal/fault"
	"github.com/eniz1806/ironclad/internal/keyschedule"
)

// cmdOpts are the per-command flags shared by the subcommands.
type cmdOpts struct {
	dataShards   int
	parityShards int
	dataset      string
}

// parseArgs splits a subcommand's arguments into positionals and flags.
func parseArgs(cfg *config.Config, args []string) ([]string, cmdOpts, error) {
	opts := cmdOpts{
		dataShards:   cfg.DataShards,
		parityShards: cfg.ParityShards,
		dataset:      "default",
	}

	var positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			positional = append(positional, arg)
			continue
		}

		if i+1 >= len(args) {
			return nil, opts, fmt.Errorf("%w: %s requires a value", fault.ErrBadInput, arg)
		}
		value := args[i+1]
		i++

		switch arg {
		case "--data", "-d":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, opts, fmt.Errorf("%w: --data must be an integer", fault.ErrBadInput)
			}
			opts.dataShards = n
		case "--parity", "-p":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, opts, fmt.Errorf("%w: --parity must be an integer", fault.ErrBadInput)
			}
			opts.parityShards = n
		case "--dataset":
			opts.dataset = value
		default:
			return nil, opts, fmt.Errorf("%w: unknown flag %s", fault.ErrBadInput, arg)
		}
	}
	return positional, opts, nil
}

// datasetPath validates the dataset name and joins it under the storage
// root. Names are restricted so a dataset can never escape the root.
func datasetPath(cfg *config.Config, dataset string) (string, error) {
	if dataset == "" {
		return "", fmt.Errorf("%w: dataset name cannot be empty", fault.ErrBadInput)
	}
	for _, r := range dataset {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return "", fmt.Errorf("%w: dataset name must be ASCII alphanumeric, '-' or '_'", fault.ErrBadInput)
		}
	}
	return filepath.Join(cfg.StorageDir, dataset), nil
}

func runWrite(cfg *config.Config, keys keyschedule.Keys, args []string) error {
	positional, opts, err := parseArgs(cfg, args)
	if err != nil {
		return err
	}
	if len(positional) != 1 {
		return fmt.Errorf("%w: write expects exactly one input file", fault.ErrBadInput)
	}
	input := positional[0]

	dir, err := datasetPath(cfg, opts.dataset)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("%w: read input %s: %v", fault.ErrIO, input, err)
	}

	store, err := blockstore.Create(dir, filepath.Base(input), keys, cfg.IOOptions())
	if err != nil {
		return err
	}
	if len(data) > 0 {
		if err := store.InsertAt(0, data, opts.dataShards, opts.parityShards); err != nil {
			return err
		}
	}
	if err := store.SaveManifest(); err != nil {
		return err
	}

	fmt.Printf("Write complete. Dataset: %s, total size: %d\n", opts.dataset, store.TotalSize())
	return nil
}

func runRead(cfg *config.Config, keys keyschedule.Keys, args []string) error {
	positional, opts, err := parseArgs(cfg, args)
	if err != nil {
		return err
	}
	if len(positional) != 1 {
		return fmt.Errorf("%w: read expects exactly one output file", fault.ErrBadInput)
	}
	output := positional[0]

	dir, err := datasetPath(cfg, opts.dataset)
	if err != nil {
		return err
	}
	store, err := blockstore.Open(dir, keys, cfg.IOOptions())
	if err != nil {
		return err
	}

	data, err := store.ReadAt(0, store.TotalSize())
	if err != nil {
		return err
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("%w: write output %s: %v", fault.ErrIO, output, err)
	}

	fmt.Printf("Read complete. Dataset: %s, file %q, %d bytes.\n",
		opts.dataset, store.Manifest().FileName, len(data))
	return nil
}

func runInsert(cfg *config.Config, keys keyschedule.Keys, args []string) error {
	positional, opts, err := parseArgs(cfg, args)
	if err != nil {
		return err
	}
	if len(positional) != 2 {
		return fmt.Errorf("%w: insert expects <offset> <text>", fault.ErrBadInput)
	}
	offset, err := strconv.ParseUint(positional[0], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: offset must be a non-negative integer", fault.ErrBadInput)
	}
	text := positional[1]

	dir, err := datasetPath(cfg, opts.dataset)
	if err != nil {
		return err
	}
	store, err := blockstore.Open(dir, keys, cfg.IOOptions())
	if err != nil {
		return err
	}
	if err := store.InsertAt(offset, []byte(text), opts.dataShards, opts.parityShards); err != nil {
		return err
	}
	if err := store.SaveManifest(); err != nil {
		return err
	}

	fmt.Printf("Insert complete. Dataset: %s, new size: %d\n", opts.dataset, store.TotalSize())
	return nil
}

func runDelete(cfg *config.Config, keys keyschedule.Keys, args []string) error {
	positional, opts, err := parseArgs(cfg, args)
	if err != nil {
		return err
	}
	if len(positional) != 2 {
		return fmt.Errorf("%w: delete expects <offset> <length>", fault.ErrBadInput)
	}
	offset, err := strconv.ParseUint(positional[0], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: offset must be a non-negative integer", fault.ErrBadInput)
	}
	length, err := strconv.ParseUint(positional[1], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: length must be a non-negative integer", fault.ErrBadInput)
	}

	dir, err := datasetPath(cfg, opts.dataset)
	if err != nil {
		return err
	}
	store, err := blockstore.Open(dir, keys, cfg.IOOptions())
	if err != nil {
		return err
	}
	if err := store.DeleteRange(offset, length); err != nil {
		return err
	}
	if err := store.SaveManifest(); err != nil {
		return err
	}

	fmt.Printf("Delete complete. Dataset: %s, new size: %d\n", opts.dataset, store.TotalSize())
	return nil
}

func runHeal(cfg *config.Config, keys keyschedule.Keys, args []string) error {
	positional, opts, err := parseArgs(cfg, args)
	if err != nil {
		return err
	}
	if len(positional) != 0 {
		return fmt.Errorf("%w: heal takes no positional arguments", fault.ErrBadInput)
	}

	dir, err := datasetPath(cfg, opts.dataset)
	if err != nil {
		return err
	}
	store, err := blockstore.Open(dir, keys, cfg.IOOptions())
	if err != nil {
		return err
	}

	report, err := store.Heal()
	if err != nil {
		return err
	}
	fmt.Printf("Heal complete. Dataset: %s, blocks scanned: %d, shards repaired: %d\n",
		opts.dataset, report.BlocksScanned, report.ShardsRepaired)
	if len(report.Unrecoverable) > 0 {
		return fmt.Errorf("%w: %d block(s) beyond redundancy", fault.ErrInsufficientRedundancy,
			len(report.Unrecoverable))
	}
	return nil
}

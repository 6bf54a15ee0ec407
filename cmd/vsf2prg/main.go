package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vsftool/vsf2prg/pkg/convert"
	"github.com/vsftool/vsf2prg/pkg/fsindex"
	"github.com/vsftool/vsf2prg/pkg/vsf"
)

var (
	forcePRG   bool
	forceCRT   bool
	crtFormat  string // "16k" or "8k"
	cartName   string
	includeDir string
)

var rootCmd = &cobra.Command{
	Use:   "vsf2prg <input.vsf> <output>",
	Short: "Convert a VICE snapshot into a self-extracting PRG or a C64 cartridge image",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(args[0], args[1])
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().BoolVar(&forcePRG, "prg", false, "force self-extracting PRG output")
	rootCmd.Flags().BoolVar(&forceCRT, "crt", false, "force cartridge output (default: 16 KiB format)")
	rootCmd.Flags().StringVar(&crtFormat, "format", "16k", "cartridge format when --crt is used: 16k or 8k")
	rootCmd.Flags().StringVar(&cartName, "name", "", "cartridge name, <= 32 characters (default: VICE SNAPSHOT)")
	rootCmd.Flags().StringVar(&includeDir, "include-dir", "", "directory of .prg files to embed into the cartridge's directory/bank storage (16 KiB format only; no LOAD/SAVE kernel hook is generated yet, so embedded files are not yet reachable from BASIC)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(inputPath, outputPath string) error {
	if forcePRG && forceCRT {
		return fmt.Errorf("--prg and --crt are mutually exclusive")
	}

	wantCRT := forceCRT
	if !forcePRG && !forceCRT {
		wantCRT = strings.EqualFold(filepath.Ext(outputPath), ".crt")
	}

	if includeDir != "" && (!wantCRT || !strings.EqualFold(crtFormat, "16k")) {
		return fmt.Errorf("--include-dir requires the 16 KiB cartridge format")
	}

	raw, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", inputPath, err)
	}
	snap, err := vsf.Parse(raw)
	if err != nil {
		return fmt.Errorf("parsing snapshot: %w", err)
	}

	var out []byte
	if wantCRT {
		opts, err := buildCartOptions()
		if err != nil {
			return err
		}
		if strings.EqualFold(crtFormat, "8k") {
			out, err = convert.ToCRT8(snap, nil, opts)
		} else {
			out, err = convert.ToCRT16(snap, nil, opts)
		}
		if err != nil {
			return err
		}
	} else {
		out, err = convert.ToPRG(snap, nil)
		if err != nil {
			return err
		}
	}

	if err := os.WriteFile(outputPath, out, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", outputPath, err)
	}

	fmt.Printf("Wrote %s (%d bytes)\n", outputPath, len(out))
	return nil
}

func buildCartOptions() (convert.CartOptions, error) {
	opts := convert.CartOptions{Name: cartName}

	if includeDir != "" {
		entries, err := os.ReadDir(includeDir)
		if err != nil {
			return opts, fmt.Errorf("reading --include-dir %s: %w", includeDir, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			path := filepath.Join(includeDir, e.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				return opts, fmt.Errorf("reading %s: %w", path, err)
			}
			file, err := fsindex.ParsePRG(e.Name(), data)
			if err != nil {
				return opts, fmt.Errorf("%s: %w", path, err)
			}
			opts.IncludeFiles = append(opts.IncludeFiles, file)
		}
	}

	return opts, nil
}

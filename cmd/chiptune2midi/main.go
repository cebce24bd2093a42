// Package main is the entry point for the chiptune2midi CLI
package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chiptune-tools/chiptune2midi/pkg/api"
	"github.com/chiptune-tools/chiptune2midi/pkg/loader"
	"github.com/chiptune-tools/chiptune2midi/pkg/trace"
	"github.com/chiptune-tools/chiptune2midi/pkg/transcribe"
	"github.com/chiptune-tools/chiptune2midi/pkg/translog"
	"github.com/chiptune-tools/chiptune2midi/pkg/tui"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	outputFile    string
	sidecarFile   string
	traceFile     string
	verbose       bool
	serverPort    int
	dumpSamplesTo string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chiptune2midi",
	Short: "Transcribe NES/SPC chiptune register traces into General MIDI",
	Long: `chiptune2midi turns a recorded NES APU or SPC DSP register-write trace
into a Type-1 Standard MIDI File, remapping noise/DMC/sample voices onto
General MIDI channels via an editable sidecar file.

Examples:
  chiptune2midi transcribe song.nsf.trace -o song.mid
  chiptune2midi transcribe song.spc --trace song.spc.trace --dump-samples ./samples
  chiptune2midi sidecar init song.spc.trace -o song.spm
  chiptune2midi tui
  chiptune2midi serve --port 8080`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
}

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <input.trace>",
	Short: "Transcribe a recorded register trace to a .mid file",
	Args:  cobra.ExactArgs(1),
	RunE:  runTranscribe,
}

var sidecarCmd = &cobra.Command{
	Use:   "sidecar",
	Short: "Inspect or scaffold a remap sidecar file",
}

var sidecarShowCmd = &cobra.Command{
	Use:   "show <input.trace>",
	Short: "Transcribe and print the resulting remap tables without writing a .mid",
	Args:  cobra.ExactArgs(1),
	RunE:  runSidecarShow,
}

var sidecarInitCmd = &cobra.Command{
	Use:   "init <input.trace>",
	Short: "Transcribe and write out a fresh sidecar file reflecting default tables",
	Args:  cobra.ExactArgs(1),
	RunE:  runSidecarInit,
}

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch interactive terminal UI",
	RunE:  runTUI,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Print progress chatter during sample analysis")

	transcribeCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output .mid file path")
	transcribeCmd.Flags().StringVarP(&sidecarFile, "sidecar", "s", "", "Remap sidecar file (.n2m/.spm), defaults alongside the input")
	transcribeCmd.Flags().StringVar(&traceFile, "trace", "", "Register-event trace to replay for a .nsf/.spc input, defaults to <input>.trace")
	transcribeCmd.Flags().StringVar(&dumpSamplesTo, "dump-samples", "", "Write each SPC sample's decoded analysis window as a .wav to this directory on first use")

	sidecarShowCmd.Flags().StringVarP(&sidecarFile, "sidecar", "s", "", "Remap sidecar file to load before showing tables")
	sidecarShowCmd.Flags().StringVar(&traceFile, "trace", "", "Register-event trace to replay for a .nsf/.spc input, defaults to <input>.trace")
	sidecarInitCmd.Flags().StringVar(&traceFile, "trace", "", "Register-event trace to replay for a .nsf/.spc input, defaults to <input>.trace")
	sidecarInitCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Sidecar file to write")

	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "Server port")

	sidecarCmd.AddCommand(sidecarShowCmd)
	sidecarCmd.AddCommand(sidecarInitCmd)

	rootCmd.AddCommand(transcribeCmd)
	rootCmd.AddCommand(sidecarCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(serveCmd)
}

// loadTrace builds a ready-to-play Transcriber from the input path. Real
// .nsf/.spc files supply metadata (clock rate, RAM snapshot, initial DSP
// registers) from their fixed-layout headers, with the register events
// coming from a companion --trace file; bare .trace/.jsonl inputs carry
// the events directly and name their chip with an inner extension
// (song.nsf.trace).
func loadTrace(inputPath string) (loader.Format, *transcribe.Transcriber, []trace.Event, error) {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return loader.FormatUnknown, nil, nil, fmt.Errorf("reading %s: %w", inputPath, err)
	}

	log := translog.New()
	log.SetVerbose(verbose)

	var tr *transcribe.Transcriber
	format := loader.DetectFormatFromContent(data)
	eventData := data

	switch format {
	case loader.FormatNSF:
		hdr, err := loader.ParseNSFHeader(data)
		if err != nil {
			return format, nil, nil, err
		}
		tr = transcribe.NewNES(log)
		tr.ObserveClockRate(hdr.ClockRate())
		if verbose && hdr.Name != "" {
			fmt.Printf("%s - %s (%d songs)\n", hdr.Name, hdr.Artist, hdr.SongCount)
		}
		if eventData, err = readCompanionTrace(inputPath); err != nil {
			return format, nil, nil, err
		}

	case loader.FormatSPC:
		dump, err := loader.ParseSPC(data)
		if err != nil {
			return format, nil, nil, err
		}
		tr = transcribe.NewSPC(log)
		if err := tr.LoadRAM(dump.RAM); err != nil {
			return format, nil, nil, err
		}
		if err := tr.LoadDSPRegisters(dump.DSPRegs); err != nil {
			return format, nil, nil, err
		}
		if verbose && dump.SongTitle != "" {
			fmt.Printf("%s (%s)\n", dump.SongTitle, dump.GameTitle)
		}
		if eventData, err = readCompanionTrace(inputPath); err != nil {
			return format, nil, nil, err
		}

	default:
		// A JSON-lines trace names its chip with an inner extension
		// (song.nsf.trace / song.spc.jsonl).
		format = loader.DetectFormat(inputPath)
		if format == loader.FormatTrace {
			format = loader.DetectFormat(strings.TrimSuffix(inputPath, filepath.Ext(inputPath)))
		}
		switch format {
		case loader.FormatNSF:
			tr = transcribe.NewNES(log)
		case loader.FormatSPC:
			tr = transcribe.NewSPC(log)
		default:
			return format, nil, nil, fmt.Errorf("%s: unrecognized input format, rename with a .nsf.trace or .spc.trace suffix", inputPath)
		}
	}

	events, err := trace.ReadEvents(bytes.NewReader(eventData))
	if err != nil {
		return format, nil, nil, err
	}

	sidecarPath := sidecarFile
	if sidecarPath == "" {
		sidecarPath = loader.SidecarPath(inputPath, format)
	}
	if f, err := os.Open(sidecarPath); err == nil {
		tr.LoadSidecar(f)
		_ = f.Close()
	}

	return format, tr, events, nil
}

// readCompanionTrace loads the register-event trace that pairs with a real
// .nsf/.spc input, from --trace or the default <input>.trace path.
func readCompanionTrace(inputPath string) ([]byte, error) {
	p := traceFile
	if p == "" {
		p = inputPath + ".trace"
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("%s needs a register-event trace to replay: %w (record one with an instrumented emulator, or pass --trace)", inputPath, err)
	}
	return data, nil
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	input := args[0]
	format, tr, events, err := loadTrace(input)
	if err != nil {
		return err
	}
	if dumpSamplesTo != "" {
		if err := os.MkdirAll(dumpSamplesTo, 0o755); err != nil {
			return err
		}
		tr.SetSampleDumpDir(dumpSamplesTo)
	}
	if err := trace.Play(events, tr); err != nil {
		return err
	}

	output := outputFile
	if output == "" {
		output = strings.TrimSuffix(input, filepath.Ext(input)) + ".mid"
	}
	if err := tr.WriteSMF(output); err != nil {
		return err
	}

	// A missing sidecar is not an error; a default one reflecting the
	// current tables is written after the SMF so the user can edit and
	// re-run, the same load-before-start/write-after-finalize ordering the
	// remap workflow is built around.
	sidecarPath := sidecarFile
	if sidecarPath == "" {
		sidecarPath = loader.SidecarPath(input, format)
	}
	if _, err := os.Stat(sidecarPath); os.IsNotExist(err) {
		f, err := os.Create(sidecarPath)
		if err != nil {
			return fmt.Errorf("writing sidecar %s: %w", sidecarPath, err)
		}
		werr := tr.WriteSidecar(f)
		cerr := f.Close()
		if werr != nil {
			return fmt.Errorf("writing sidecar %s: %w", sidecarPath, werr)
		}
		if cerr != nil {
			return fmt.Errorf("writing sidecar %s: %w", sidecarPath, cerr)
		}
	}

	fmt.Printf("Transcribed %s -> %s\n", input, output)
	return nil
}

func runSidecarShow(cmd *cobra.Command, args []string) error {
	input := args[0]
	_, tr, events, err := loadTrace(input)
	if err != nil {
		return err
	}
	if err := trace.Play(events, tr); err != nil {
		return err
	}
	return tr.WriteSidecar(os.Stdout)
}

func runSidecarInit(cmd *cobra.Command, args []string) error {
	input := args[0]
	format, tr, events, err := loadTrace(input)
	if err != nil {
		return err
	}
	if err := trace.Play(events, tr); err != nil {
		return err
	}

	output := outputFile
	if output == "" {
		output = loader.SidecarPath(input, format)
	}
	f, err := os.Create(output)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := tr.WriteSidecar(f); err != nil {
		return err
	}
	fmt.Printf("Wrote sidecar %s\n", output)
	return nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	return tui.Run()
}

func runServe(cmd *cobra.Command, args []string) error {
	fmt.Printf("Starting API server on port %d...\n", serverPort)
	return api.StartServer(serverPort)
}

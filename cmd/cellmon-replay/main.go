// cellmon-replay - run saved scanner or tshark output through the cellmon
// parsers offline
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cellmon/internal/capture"
	"cellmon/internal/channel"
	"cellmon/internal/config"
	"cellmon/internal/mccmnc"
	"cellmon/internal/scanner"
	"cellmon/internal/sink"
	"cellmon/internal/version"
)

var (
	mode         string
	identifiers  string
	outputFormat string
	fields       []string
	header       bool
	dedupe       time.Duration
	showVersion  bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "cellmon-replay [file]",
	Short: "Replay saved scanner or capture output",
	Long: `cellmon-replay reads output saved from grgsm_scanner (--mode scan) or from
tshark field output (--mode capture) and prints the records cellmon would
produce for it. Reads stdin when no file is given.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			fmt.Println(version.GetVersionInfo("cellmon-replay"))
			return
		}

		in := io.Reader(os.Stdin)
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			defer f.Close()
			in = f
		}

		if err := replay(in, os.Stdout, os.Stderr); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	defaults := config.DefaultConfig()

	rootCmd.Flags().BoolVar(&showVersion, "version", false, "show version information")
	rootCmd.Flags().StringVarP(&mode, "mode", "m", "capture", "input kind: scan or capture")
	rootCmd.Flags().StringVarP(&identifiers, "identifiers", "i", defaults.Identifiers.File, "MCC/MNC table (Country,Network,MCC,MNC)")
	rootCmd.Flags().StringVarP(&outputFormat, "output", "o", defaults.Output.Format, "record output: text or json")
	rootCmd.Flags().StringSliceVar(&fields, "fields", defaults.Capture.Fields, "tshark fields, in column order")
	rootCmd.Flags().BoolVar(&header, "header", true, "capture input starts with a header row")
	rootCmd.Flags().DurationVar(&dedupe, "dedupe", 0, "suppress repeated records within this window")
}

func replay(in io.Reader, out, diag io.Writer) error {
	table, err := mccmnc.LoadFile(identifiers)
	if errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(diag, "Identifier table %s not found, records will not be enriched\n", identifiers)
		table = nil
	} else if err != nil {
		return err
	}

	switch mode {
	case "scan":
		return replayScan(in, out, table)
	case "capture":
		return replayCapture(in, out, diag, table)
	default:
		return fmt.Errorf("invalid mode: %s (must be 'scan' or 'capture')", mode)
	}
}

func replayScan(in io.Reader, out io.Writer, table *mccmnc.Table) error {
	extended := 0
	records, err := scanner.Parse(in, func(r channel.Record) {
		line := "Found: " + r.String()
		if r.Kind == channel.Extended {
			extended++
			if entry, ok := table.Lookup(r.Network); ok {
				line += fmt.Sprintf(" [%s, %s]", entry.Network, entry.Country)
			}
		}
		fmt.Fprintln(out, line)
	})
	if err != nil {
		return fmt.Errorf("failed to read scanner output: %w", err)
	}
	fmt.Fprintf(out, "%d channels (%d with cell details)\n", len(records), extended)
	return nil
}

func replayCapture(in io.Reader, out, diag io.Writer, table *mccmnc.Table) error {
	output, err := sink.New(outputFormat, out)
	if err != nil {
		return err
	}
	counting := sink.NewCounting(output)
	records := sink.NewDedupe(counting, dedupe)

	reader := bufio.NewScanner(in)
	reader.Buffer(make([]byte, 64*1024), 1024*1024)
	skipped := 0
	first := true
	for reader.Scan() {
		line := reader.Text()
		if first && header {
			first = false
			continue
		}
		first = false
		if strings.TrimSpace(line) == "" {
			continue
		}

		rec, err := capture.ParseLine(line, fields)
		if err != nil {
			skipped++
			continue
		}
		capture.Enrich(&rec, table)
		if err := records.Write(rec); err != nil {
			return err
		}
	}
	if err := reader.Err(); err != nil {
		return fmt.Errorf("failed to read capture output: %w", err)
	}

	fmt.Fprintf(diag, "%s", counting.Summary())
	if skipped > 0 {
		fmt.Fprintf(diag, ", %d unreadable lines", skipped)
	}
	if n := records.Dropped(); n > 0 {
		fmt.Fprintf(diag, ", %d repeats suppressed", n)
	}
	fmt.Fprintln(diag)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

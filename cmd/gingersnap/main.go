// Command gingersnap is a gzip-style filter for snappy framed streams.
// It compresses a file (or stdin) to stdout, or decompresses with -d.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/robey/gingersnap"
)

var (
	decompress bool
	output     string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:          "gingersnap [flags] [file]",
	Short:        "compress or decompress snappy framed streams",
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	flags := rootCmd.Flags()
	flags.BoolVarP(&decompress, "decompress", "d", false, "decompress instead of compressing")
	flags.StringVarP(&output, "output", "o", "", "write output to a file instead of stdout")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log stream statistics to stderr")
}

func run(cmd *cobra.Command, args []string) error {
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	in := io.Reader(os.Stdin)
	name := "-"
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
		name = args[0]
	}

	out := io.Writer(os.Stdout)
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	cr := &countingReader{r: in}
	cw := &countingWriter{w: out}
	var err error
	if decompress {
		_, err = io.Copy(cw, gingersnap.NewReader(cr))
	} else {
		w := gingersnap.NewWriter(cw)
		_, err = io.Copy(w, cr)
		if err == nil {
			err = w.Close()
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	ratio := 0.0
	if cr.n > 0 {
		ratio = float64(cw.n) / float64(cr.n)
	}
	logrus.WithFields(logrus.Fields{
		"file": name,
		"in":   cr.n,
		"out":  cw.n,
	}).Debugf("stream complete (%.3f output/input)", ratio)
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

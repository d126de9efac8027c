// findx32 prints the IP address of the first X32 mixer that answers an OSC
// /info broadcast on the local network.
//
// It exits 0 after printing the address and 1 otherwise. When nothing
// answers within two seconds it exits without any output.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/showcontroller/x32find/discovery"
)

func main() {
	os.Exit(run(discovery.New(), os.Stdout, os.Stderr, os.Args[1:]))
}

// run executes one discovery and returns the process exit code.
func run(d *discovery.Discoverer, stdout, stderr io.Writer, args []string) int {
	log := zerolog.New(zerolog.ConsoleWriter{
		Out:         stderr,
		NoColor:     true,
		PartsOrder:  []string{zerolog.LevelFieldName, zerolog.MessageFieldName},
		FormatLevel: func(interface{}) string { return "findx32:" },
	}).Level(zerolog.ErrorLevel)

	cmd := &cobra.Command{
		Use:           "findx32",
		Short:         "Find an X32 mixer on the local network",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ip, err := d.Discover()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), ip)
			return err
		},
	}
	// A nil slice would make cobra fall back to os.Args.
	cmd.SetArgs(append([]string{}, args...))
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	switch {
	case err == nil:
		return 0
	case errors.Is(err, discovery.ErrNotFound):
		return 1
	default:
		log.Error().Msg(err.Error())
		return 1
	}
}

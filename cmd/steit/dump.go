package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/drpcorg/steit/codec"
	"github.com/drpcorg/steit/replay"
	"github.com/drpcorg/steit/state"
	"github.com/drpcorg/steit/steit_errors"
	"github.com/drpcorg/steit/store"
	"github.com/drpcorg/steit/utils"
	"github.com/spf13/cobra"
)

var (
	dumpFrom uint64
	dumpAt   uint64
)

var dumpCmd = &cobra.Command{
	Use:   "dump [dir]",
	Short: "Print the snapshot head and the log entries of a store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(store.Options{Dir: args[0], Log: utils.NewDefaultLogger(slog.LevelWarn)})
		if err != nil {
			return err
		}
		defer st.Close()
		out := cmd.OutOrStdout()

		seq, digest, body, err := st.LoadSnapshot()
		switch {
		case err == nil:
			fmt.Fprintf(out, "snapshot\t%d\t%016x\t%d bytes\n", seq, digest, len(body))
		case !errors.Is(err, steit_errors.ErrNoSnapshot):
			return err
		}

		if cmd.Flags().Changed("at") {
			frame, err := st.Get(dumpAt)
			if err != nil {
				return err
			}
			return printFrame(out, dumpAt, frame)
		}
		return st.Scan(dumpFrom, func(seq uint64, frame []byte) error {
			return printFrame(out, seq, frame)
		})
	},
}

func init() {
	dumpCmd.Flags().Uint64Var(&dumpFrom, "from", 0, "First sequence number to print")
	dumpCmd.Flags().Uint64Var(&dumpAt, "at", 0, "Print only the entry with this sequence number")
}

func printFrame(w io.Writer, seq uint64, frame []byte) error {
	body, err := codec.Unframe(frame)
	if err != nil {
		return err
	}
	e, err := replay.DecodeEntry(body)
	if err != nil {
		return err
	}
	path := state.Root()
	for _, tag := range e.FlattenPath() {
		path = path.Nested(tag)
	}
	where := path.String()
	if where == "" {
		where = "/"
	}
	fmt.Fprintf(w, "%d\t%s\t%s\t%x", seq, e.Kind(), where, e.Value())
	if e.Kind() == replay.KindMapInsert {
		fmt.Fprintf(w, "\t%x", e.MapValue())
	}
	fmt.Fprintln(w)
	return nil
}

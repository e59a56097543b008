package commands

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"e2e_pairing/internal/model"
	"e2e_pairing/internal/protocol/transportkeys"
)

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage stored transport keys",
	}
	cmd.AddCommand(rotateCmd(), removeCmd(), nextTagCmd(), recognizeCmd())
	return cmd
}

func rotateCmd() *cobra.Command {
	var period uint64
	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Rotate every key set to the current (or given) period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if period == 0 {
				period = transportkeys.PeriodAt(time.Now(), cfg.RotationPeriodDuration())
			}
			n, err := store.Rotate(cmd.Context(), period)
			fmt.Fprintf(cmd.OutOrStdout(), "rotated %d key set(s) to period %d\n", n, period)
			return err
		},
	}
	cmd.Flags().Uint64Var(&period, "period", 0, "target rotation period")
	return cmd
}

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <contact>",
		Short: "Erase every key set held for a contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := store.RemoveContact(cmd.Context(), model.ContactID(args[0])); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "removed", args[0])
			return nil
		},
	}
}

// next-tag <contact> <transport>: allocate an outgoing stream and print its tag.
func nextTagCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "next-tag <contact> <transport>",
		Short: "Allocate the next outgoing stream and print its tag",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := store.NextOutgoing(cmd.Context(), model.ContactID(args[0]), model.TransportID(args[1]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "period %d stream %d tag %s\n",
				sc.Period, sc.StreamNumber, hex.EncodeToString(sc.Tag[:]))
			return nil
		},
	}
}

func recognizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recognize <tag>",
		Short: "Look up which contact and stream a hex tag belongs to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tag, err := hex.DecodeString(args[0])
			if err != nil {
				return fmt.Errorf("tag is not hex: %w", err)
			}
			tc, ok := store.Recognize(tag)
			if !ok {
				return fmt.Errorf("tag not recognised")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "contact %s transport %s period %d stream %d reflected %t\n",
				tc.ContactID, tc.TransportID, tc.Period, tc.StreamNumber, tc.Reflected)
			return nil
		},
	}
}

package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"e2e_pairing/internal/model"
	"e2e_pairing/internal/protocol/bqp"
	"e2e_pairing/internal/service/keystore"
)

// pair: show our payload, read the contact's and run the handshake.
func pairCmd() *cobra.Command {
	var (
		remote  string
		contact string
		useUI   bool
	)
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Pair with a contact and store the derived transport keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if contact == "" {
				contact = uuid.NewString()
			}
			if err := keystore.CheckContactID(model.ContactID(contact)); err != nil {
				return err
			}
			if useUI {
				return runUI(cmd.Context(), model.ContactID(contact))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			out := cmd.OutOrStdout()
			s, err := newSession(bqp.Callbacks{
				ConnectionWaiting:     func() { fmt.Fprintln(out, "connected, waiting for contact...") },
				InitialRecordReceived: func() { fmt.Fprintln(out, "contact's key received, confirming...") },
			})
			if err != nil {
				return err
			}
			defer s.stop()

			ours, err := s.start(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Show this to your contact:\n\n  %s\n\n", ours)

			if remote == "" {
				fmt.Fprint(out, "Enter your contact's code: ")
				remote, err = readLine(ctx, cmd.InOrStdin())
				if err != nil {
					return err
				}
			}

			res, err := s.pair(ctx, remote, model.ContactID(contact))
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Paired over %s as %s.\n", res.TransportID, role(res.Alice))
			fmt.Fprintf(out, "Your code:     %s\nContact code:  %s\n", formatCode(res.OurCode), formatCode(res.TheirCode))
			fmt.Fprintf(out, "Contact id:    %s\n", contact)
			return nil
		},
	}
	cmd.Flags().StringVarP(&remote, "remote", "r", "", "the contact's code (read from stdin when empty)")
	cmd.Flags().StringVar(&contact, "contact", "", "id to store the contact under (random when empty)")
	cmd.Flags().BoolVar(&useUI, "ui", false, "run in a terminal UI")
	return cmd
}

// readLine reads one line from r, giving up when ctx is done.
func readLine(ctx context.Context, r io.Reader) (string, error) {
	type line struct {
		s   string
		err error
	}
	ch := make(chan line, 1)
	go func() {
		s, err := bufio.NewReader(r).ReadString('\n')
		if err == io.EOF && s != "" {
			err = nil
		}
		ch <- line{strings.TrimSpace(s), err}
	}()
	select {
	case l := <-ch:
		return l.s, l.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func role(alice bool) string {
	if alice {
		return "alice"
	}
	return "bob"
}

package commands

import (
	"context"
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"e2e_pairing/internal/model"
	"e2e_pairing/internal/protocol/bqp"
	"e2e_pairing/internal/utils/log"
)

type pairUI struct {
	app    *tview.Application
	status *tview.TextView
	input  *tview.InputField

	session *session
	contact model.ContactID
	busy    bool
}

// runUI is the terminal front end of pair. It blocks until the user quits.
func runUI(ctx context.Context, contact model.ContactID) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// the screen owns the terminal, keep only errors on stderr
	if cfg.LogLevel != "error" {
		if err := log.Init("error"); err != nil {
			return err
		}
	}

	u := &pairUI{app: tview.NewApplication(), contact: contact}
	s, err := newSession(bqp.Callbacks{
		ConnectionWaiting:     func() { u.println("[yellow]connected, waiting for contact...[-]") },
		InitialRecordReceived: func() { u.println("[yellow]contact's key received, confirming...[-]") },
	})
	if err != nil {
		return err
	}
	defer s.stop()
	u.session = s

	ours, err := s.start(ctx)
	if err != nil {
		return err
	}

	u.status = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	u.status.SetBorder(true).SetTitle(" Pairing ")
	fmt.Fprintf(u.status, "Show this to your contact:\n\n[green]%s[-]\n\n", ours)

	u.input = tview.NewInputField().
		SetLabel("Contact's code: ").
		SetFieldWidth(0)
	u.input.SetBorder(true).SetTitle(" Enter to pair, Esc to quit ")

	u.input.SetDoneFunc(func(key tcell.Key) {
		switch key {
		case tcell.KeyEscape:
			u.app.Stop()
		case tcell.KeyEnter:
			text := u.input.GetText()
			if text == "" || u.busy {
				return
			}
			u.busy = true
			u.input.SetText("")
			u.status.ScrollToEnd()
			go u.pair(ctx, text)
		}
	})

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(u.status, 0, 1, false).
		AddItem(u.input, 3, 0, true)

	return u.app.SetRoot(layout, true).SetFocus(u.input).Run()
}

func (u *pairUI) pair(ctx context.Context, text string) {
	u.println("connecting...")
	res, err := u.session.pair(ctx, text, u.contact)
	if err != nil {
		u.println(fmt.Sprintf("[red]%s[-]", tview.Escape(err.Error())))
		// the shown code is spent, offer a fresh one
		ours, err := u.session.start(ctx)
		if err != nil {
			u.println(fmt.Sprintf("[red]%s[-]", tview.Escape(err.Error())))
			return
		}
		u.println(fmt.Sprintf("Show this new code to your contact:\n\n[green]%s[-]\n", ours))
		u.app.QueueUpdate(func() { u.busy = false })
		return
	}
	u.println(fmt.Sprintf("[green]Paired over %s as %s.[-]", res.TransportID, role(res.Alice)))
	u.println(fmt.Sprintf("Your code: [::b]%s[::-]  Contact code: [::b]%s[::-]",
		formatCode(res.OurCode), formatCode(res.TheirCode)))
	u.println(fmt.Sprintf("Contact id: %s  (Esc to quit)", u.contact))
}

func (u *pairUI) println(msg string) {
	u.app.QueueUpdateDraw(func() {
		fmt.Fprintln(u.status, msg)
		u.status.ScrollToEnd()
	})
}

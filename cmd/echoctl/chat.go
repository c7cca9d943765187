package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"echo-civic-assistant/backend/internal/assistant"
	"echo-civic-assistant/backend/internal/models"
	"echo-civic-assistant/backend/internal/service"
	"echo-civic-assistant/backend/pkg/di"

	"github.com/spf13/cobra"
)

const chatHelp = `Commands:
  /image <path>        stage an image for the next message
  /clear-image         drop the staged image
  /location <lat> <lng> share your position
  /model <id>          switch model
  /search on|off       toggle search grounding
  /maps on|off         toggle maps grounding
  /settings            show settings
  /history             print the conversation
  /reset               clear the conversation
  /quit                save and exit`

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the assistant locally",
	Long: `Start an interactive chat. The conversation is stored in the SQLite
history file and picked up again on the next run.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmdContext(cmd)

	container, err := di.New(ctx, loadConfig(), newLogger(), di.Options{})
	if err != nil {
		return err
	}
	defer container.Close()

	sess, err := container.Sessions.Get(ctx, userID)
	if err != nil {
		return err
	}
	return repl(ctx, sess, cmd.InOrStdin(), cmd.OutOrStdout())
}

// repl reads lines from in until /quit or EOF
func repl(ctx context.Context, sess *service.Session, in io.Reader, out io.Writer) error {
	a := sess.Assistant
	for _, m := range a.Messages() {
		printMessage(out, m)
	}
	fmt.Fprintln(out, "Type /help for commands.")

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if !strings.HasPrefix(line, "/") {
			submit(ctx, sess, out, line)
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "/quit", "/exit":
			return nil
		case "/help":
			fmt.Fprintln(out, chatHelp)
		case "/image":
			if len(fields) < 2 {
				fmt.Fprintln(out, "Usage: /image <path>")
				continue
			}
			stageImage(a, out, strings.TrimSpace(strings.TrimPrefix(line, "/image")))
		case "/clear-image":
			a.Input().ClearImage()
			fmt.Fprintln(out, "Image removed.")
		case "/location":
			setLocation(sess, out, fields[1:])
		case "/model":
			if len(fields) != 2 {
				fmt.Fprintf(out, "Usage: /model <%s>\n", strings.Join(assistant.Models, "|"))
				continue
			}
			if err := a.Settings().SetModel(fields[1]); err != nil {
				fmt.Fprintf(out, "Unknown model. Choose one of: %s\n", strings.Join(assistant.Models, ", "))
				continue
			}
			printSettings(out, a.Settings().Snapshot())
		case "/search", "/maps":
			on, ok := parseToggle(fields[1:])
			if !ok {
				fmt.Fprintf(out, "Usage: %s on|off\n", fields[0])
				continue
			}
			if fields[0] == "/search" {
				a.Settings().SetSearch(on)
			} else {
				a.Settings().SetMaps(on)
			}
			printSettings(out, a.Settings().Snapshot())
		case "/settings":
			printSettings(out, a.Settings().Snapshot())
		case "/history":
			for _, m := range a.Messages() {
				printMessage(out, m)
			}
		case "/reset":
			fmt.Fprint(out, "Clear the whole conversation? [y/N] ")
			if !scanner.Scan() {
				return scanner.Err()
			}
			if answer := strings.ToLower(strings.TrimSpace(scanner.Text())); answer != "y" && answer != "yes" {
				fmt.Fprintln(out, "Kept the conversation.")
				continue
			}
			for _, m := range a.Reset() {
				printMessage(out, m)
			}
		default:
			fmt.Fprintf(out, "Unknown command %s. Type /help for commands.\n", fields[0])
		}
	}
}

func submit(ctx context.Context, sess *service.Session, out io.Writer, text string) {
	collector := sess.Events.Collect()
	added, err := sess.Assistant.SubmitText(ctx, text, nil)
	events := collector.Drain()

	switch {
	case errors.Is(err, assistant.ErrNotAnImage):
		fmt.Fprintln(out, assistant.NotAnImageWarning)
		return
	case err != nil:
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}

	for _, m := range added {
		if m.Sender == models.SenderAssistant {
			printMessage(out, m)
		}
	}
	for _, e := range events {
		printEvent(out, e)
	}
}

func stageImage(a *assistant.Assistant, out io.Writer, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(out, "Cannot read %s: %v\n", path, err)
		return
	}
	att, err := a.Input().StageImage(filepath.Base(path), "", data)
	if err != nil {
		fmt.Fprintln(out, assistant.NotAnImageWarning)
		return
	}
	fmt.Fprintf(out, "Image staged (%s). It goes with your next message.\n", att.MimeType)
}

func setLocation(sess *service.Session, out io.Writer, args []string) {
	if len(args) != 2 {
		fmt.Fprintln(out, "Usage: /location <latitude> <longitude>")
		return
	}
	lat, err1 := strconv.ParseFloat(args[0], 64)
	lng, err2 := strconv.ParseFloat(args[1], 64)
	if err1 != nil || err2 != nil {
		fmt.Fprintln(out, "Usage: /location <latitude> <longitude>")
		return
	}
	if err := sess.Geo.Update(lat, lng); err != nil {
		fmt.Fprintf(out, "Invalid location: %v\n", err)
		return
	}
	fmt.Fprintln(out, "Location saved.")
}

func parseToggle(args []string) (bool, bool) {
	if len(args) != 1 {
		return false, false
	}
	switch strings.ToLower(args[0]) {
	case "on":
		return true, true
	case "off":
		return false, true
	}
	return false, false
}

func printMessage(out io.Writer, m models.Message) {
	who := "You"
	if m.Sender == models.SenderAssistant {
		who = "Echo"
	}
	fmt.Fprintf(out, "%s: %s\n", who, m.Text)
	for _, c := range m.GroundingCitations {
		title := c.Title
		if title == "" {
			title = c.URI
		}
		fmt.Fprintf(out, "  [%s] %s <%s>\n", c.Kind, title, c.URI)
	}
}

func printEvent(out io.Writer, e service.Event) {
	switch e.Type {
	case service.EventLocateMe:
		fmt.Fprintln(out, "(share your position with /location <lat> <lng>)")
	case service.EventCenterMap:
		fmt.Fprintf(out, "(map: %v, %v)\n", e.Payload["latitude"], e.Payload["longitude"])
	case service.EventOpenComplaintForm:
		fmt.Fprintf(out, "(complaint form: %v)\n", e.Payload["url"])
	case service.EventNavigate:
		fmt.Fprintf(out, "(open %v)\n", e.Payload["path"])
	}
}

func printSettings(out io.Writer, cfg assistant.Config) {
	fmt.Fprintf(out, "Model: %s | Search: %s | Maps: %s\n", cfg.Model, onOff(cfg.UseSearch), onOff(cfg.UseMaps))
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

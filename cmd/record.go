package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"phantomrecorder/backend/internal/config"
	"phantomrecorder/backend/internal/services"
	"phantomrecorder/backend/pkg/chrome"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a session in a local browser window",
	Long: `Opens Chrome on --url and records clicks and input commits until the
process is interrupted. Each new step is echoed as it is recorded; the full
script is written to --out (or stdout) on exit.`,
	RunE: runRecord,
}

func init() {
	recordCmd.Flags().String("url", "", "Page to open (required)")
	recordCmd.Flags().String("out", "", "Write the recorded script to this file")
	recordCmd.Flags().String("device", "", "Emulated device preset")
	recordCmd.Flags().Int("width", 0, "Viewport width")
	recordCmd.Flags().Int("height", 0, "Viewport height")
	recordCmd.MarkFlagRequired("url")
}

func runRecord(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	// A local recording is always interactive.
	cfg.Chrome.HeadlessMode = false

	url, _ := cmd.Flags().GetString("url")
	out, _ := cmd.Flags().GetString("out")
	dev, _ := cmd.Flags().GetString("device")
	width, _ := cmd.Flags().GetInt("width")
	height, _ := cmd.Flags().GetInt("height")

	hub := services.NewHub()
	manager := services.NewManager(hub, nil, services.ChromeLauncher(cfg), 1)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := manager.Start(ctx, services.StartOptions{
		URL:      url,
		Viewport: chrome.Viewport{Device: dev, Width: width, Height: height},
	})
	if err != nil {
		return err
	}

	sub := hub.Subscribe(session.ID)
	defer hub.Unsubscribe(sub)
	log.Printf("Recording %s, press Ctrl+C to finish", url)

	for {
		select {
		case msg := <-sub.C:
			switch msg.Topic {
			case services.TopicRecorderEvent:
				if step, ok := msg.Data.(services.Step); ok {
					log.Printf("step %d: %s %s", step.Seq, step.Kind, step.Selector)
				}
			case services.TopicRecorderError:
				log.Printf("⚠️ %v", msg.Data)
			}
		case <-ctx.Done():
			if err := manager.Stop(session.ID); err != nil {
				return err
			}
			return writeScript(out, session.Script())
		}
	}
}

func writeScript(path, script string) error {
	if path == "" {
		_, err := fmt.Print(script)
		return err
	}
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		return fmt.Errorf("writing script: %w", err)
	}
	log.Printf("Script written to %s", path)
	return nil
}

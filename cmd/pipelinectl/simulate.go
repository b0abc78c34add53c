package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamicool/PPD/internal/core/model"
)

func simulateCmd() *cobra.Command {
	var (
		timeout time.Duration
		rest    bool
	)
	cmd := &cobra.Command{
		Use:   "simulate <project>",
		Short: "Run a simulation and follow its progress",
		Long: "Runs a simulation over the progress channel and prints progress until it\n" +
			"completes. Ctrl-C stops the simulation on the server.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if rest {
				return simulateOnce(cmd.Context(), args[0])
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return withProject(ctx, args[0], func(s *session, p *model.Project) error {
				return follow(ctx, s, p, timeout)
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "give up waiting after this long")
	cmd.Flags().BoolVar(&rest, "rest", false, "use the request/response endpoint instead of the progress channel")
	return cmd
}

// follow starts a simulation and renders events until it ends.
func follow(ctx context.Context, s *session, p *model.Project, timeout time.Duration) error {
	done := make(chan string, 1)
	finish := func(outcome string) {
		select {
		case done <- outcome:
		default:
		}
	}
	unsubs := []func(){
		s.channel.OnProgress(func(percent int) {
			fmt.Printf("\r  %s %3d%%", progressBar(percent, 30), percent)
		}),
		s.channel.OnCompleted(func(res model.SimulationResult) {
			if res.IsSuccessful {
				finish("completed")
			} else {
				finish("failed: " + res.ErrorMessage)
			}
		}),
		s.channel.OnError(func(msg string) { finish("error: " + msg) }),
		s.channel.OnStopped(func(string) { finish("stopped") }),
	}
	defer func() {
		for _, u := range unsubs {
			u()
		}
	}()

	err := s.store.StartSimulation(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s simulating %s\n", brand.Sprint("▶"), p.Name)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case outcome := <-done:
		fmt.Println()
		sim := s.store.Simulation()
		fmt.Printf("%s %s %s\n", statusIcon(outcome == "completed"), outcome, subtle.Sprint(sim.TaskID))
		if outcome != "completed" {
			return fmt.Errorf("simulation %s", outcome)
		}
		return nil
	case <-ctx.Done():
	case <-timer.C:
		err = fmt.Errorf("simulation did not finish within %s", timeout)
	}

	fmt.Println()
	_ = s.store.StopSimulation(context.Background())
	// wait briefly for the server's acknowledgement
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
	fmt.Printf("%s stopped\n", warn.Sprint("■"))
	return err
}

func simulateOnce(ctx context.Context, projectID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	gw := newGateway(cfg, newLogger(cfg))
	res, err := gw.Simulate(ctx, model.SimulationRequest{ProjectID: projectID})
	if err != nil {
		return err
	}
	fmt.Printf("%s simulation of %s finished\n", statusIcon(res.IsSuccessful), projectID)
	return nil
}

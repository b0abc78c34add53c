// Command test_integration runs a smoke scenario against a running server:
// create, edit, validate, simulate and delete one project.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jamicool/PPD/internal/client"
	"github.com/jamicool/PPD/internal/config"
	"github.com/jamicool/PPD/internal/core/model"
	"github.com/jamicool/PPD/internal/progress"
)

func main() {
	cfg, err := config.LoadOptional(os.Getenv("PIPELINE_CONFIG"))
	if err != nil {
		fmt.Printf("FAILED: load config: %v\n", err)
		os.Exit(1)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	fmt.Printf("Starting smoke test against %s\n", cfg.Client.APIURL)
	if err := run(ctx, cfg); err != nil {
		fmt.Printf("FAILED: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("PASSED")
}

func step(name string, fn func() error) error {
	fmt.Printf("%s... ", name)
	if err := fn(); err != nil {
		fmt.Println("failed")
		return fmt.Errorf("%s: %w", name, err)
	}
	fmt.Println("ok")
	return nil
}

func run(ctx context.Context, cfg *config.Config) error {
	gw := client.NewGateway(cfg.Client.APIURL, client.WithTimeout(cfg.Client.RequestTimeout.Duration))

	var p *model.Project
	err := step("1. Create project", func() (err error) {
		p, err = gw.Save(ctx, &model.Project{Name: fmt.Sprintf("smoke-%d", time.Now().Unix())})
		return err
	})
	if err != nil {
		return err
	}
	defer gw.Delete(context.Background(), p.ID)

	err = step("2. Add nodes and a connection", func() (err error) {
		p.Nodes = []model.Node{
			{ID: "src", Type: "well", Properties: model.Properties{"name": model.String("W-1")}},
			{ID: "dst", Type: "consumer", Properties: model.Properties{"name": model.String("City gate")}},
		}
		p.Connections = []model.Connection{{ID: "c", SourceID: "src", TargetID: "dst"}}
		p, err = gw.Save(ctx, p)
		return err
	})
	if err != nil {
		return err
	}

	err = step("3. Validate", func() error {
		res, err := gw.Validate(ctx, p)
		if err != nil {
			return err
		}
		if !res.IsValid {
			return fmt.Errorf("unexpected errors: %v", res.Errors)
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = step("4. Simulate over the progress channel", func() error {
		ch := progress.NewChannel(cfg.Client.HubURL)
		defer ch.Close()
		done := make(chan model.SimulationResult, 1)
		ch.OnCompleted(func(r model.SimulationResult) { done <- r })
		if err := ch.Connect(ctx); err != nil {
			return err
		}
		ch.StartSimulation(p.ID, p)
		select {
		case r := <-done:
			if !r.IsSuccessful {
				return fmt.Errorf("simulation failed: %s", r.ErrorMessage)
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		return err
	}

	return step("5. Delete project", func() error {
		return gw.Delete(ctx, p.ID)
	})
}

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jamicool/PPD/internal/core/draft"
	"github.com/jamicool/PPD/internal/core/model"
)

func nodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Add, move and edit nodes",
	}
	cmd.AddCommand(nodeAddCmd(), nodeMoveCmd(), nodeSetCmd())
	return cmd
}

func nodeAddCmd() *cobra.Command {
	var x, y float64
	cmd := &cobra.Command{
		Use:   "add <project> <type> [key=value...]",
		Short: "Add a node with catalog defaults",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			props, err := parseAssignments(args[2:])
			if err != nil {
				return err
			}
			return withProject(cmd.Context(), args[0], func(s *session, p *model.Project) error {
				if _, ok := s.catalog.Element(args[1]); !ok {
					fmt.Printf("%s %q is not in the element catalog\n", warn.Sprint("warning"), args[1])
				}
				node := model.Node{Type: args[1], Properties: props}
				if cmd.Flags().Changed("x") || cmd.Flags().Changed("y") {
					node.Position = &model.Position{X: x, Y: y}
				}
				added, err := s.store.AddNode(cmd.Context(), node)
				if err != nil {
					return err
				}
				fmt.Printf("%s added %s %s\n", statusIcon(true), added.Type, subtle.Sprint(added.ID))
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&x, "x", 0, "canvas x coordinate")
	cmd.Flags().Float64Var(&y, "y", 0, "canvas y coordinate")
	return cmd
}

func nodeMoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "move <project> <node> <x> <y>",
		Short: "Move a node on the canvas",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			x, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("x: %w", err)
			}
			y, err := strconv.ParseFloat(args[3], 64)
			if err != nil {
				return fmt.Errorf("y: %w", err)
			}
			return withProject(cmd.Context(), args[0], func(s *session, p *model.Project) error {
				return s.store.UpdateNodePosition(cmd.Context(), args[1], model.Position{X: x, Y: y})
			})
		},
	}
}

func nodeSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <project> <node> key=value...",
		Short: "Merge properties into a node",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := parseAssignments(args[2:])
			if err != nil {
				return err
			}
			return withProject(cmd.Context(), args[0], func(s *session, p *model.Project) error {
				if err := s.store.UpdateNodeProperties(cmd.Context(), args[1], patch); err != nil {
					return err
				}
				fmt.Printf("%s updated %s\n", statusIcon(true), args[1])
				return nil
			})
		},
	}
}

func connectCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "connect <project> <source> <target>",
		Short: "Connect two nodes",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), args[0], func(s *session, p *model.Project) error {
				before := len(p.Connections)
				s.store.StartConnection(args[1], draft.Kind(kind))
				if err := s.store.FinishConnection(cmd.Context(), args[2]); err != nil {
					return err
				}
				if after := s.store.CurrentProject(); after != nil && len(after.Connections) == before {
					fmt.Printf("%s %s -> %s already connected\n", warn.Sprint("skipped"), args[1], args[2])
					return nil
				}
				fmt.Printf("%s connected %s -> %s\n", statusIcon(true), args[1], args[2])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(draft.KindRegular), "connection kind: start, end or regular")
	return cmd
}

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <project> <element>",
		Short: "Remove a node with its connections, or a single connection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), args[0], func(s *session, p *model.Project) error {
				if err := s.store.DeleteElement(cmd.Context(), args[1]); err != nil {
					return err
				}
				fmt.Printf("%s removed %s\n", statusIcon(true), args[1])
				return nil
			})
		},
	}
}
